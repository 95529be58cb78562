package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/cache"
	"github.com/example/availability-engine/internal/events"
	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/persistence/memory"
	"github.com/example/availability-engine/internal/slots"
	"github.com/example/availability-engine/internal/testfixtures"
)

// harness wires both services over one in-memory store with a fixed clock
// of Monday 2024-06-03 06:00 UTC.
type harness struct {
	store        *memory.Storage
	clock        *testfixtures.Clock
	cache        *cache.LRU[string, application.SlotResult]
	publisher    *recordingPublisher
	availability *application.AvailabilityService
	bookings     *application.BookingService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     memory.New(),
		clock:     testfixtures.NewClock(time.Time{}),
		cache:     cache.NewLRU[string, application.SlotResult](64, time.Hour, cache.WithClone(application.CloneSlotResult)),
		publisher: &recordingPublisher{},
	}
	h.availability = application.NewAvailabilityService(h.store, application.AvailabilityOptions{
		Cache: h.cache,
		Now:   h.clock.Now,
	})
	h.bookings = application.NewBookingService(h.store, application.BookingOptions{
		Publisher:   h.publisher,
		Cache:       h.cache,
		IDGenerator: testfixtures.NewIDGenerator("booking").Next,
		Now:         h.clock.Now,
	})
	return h
}

// hosts seeds users with 09:00-17:00 weekday schedules and returns them as
// event type hosts.
func (h *harness) hosts(t *testing.T, ids ...string) []persistence.EventTypeHost {
	t.Helper()
	out := make([]persistence.EventTypeHost, 0, len(ids))
	for _, id := range ids {
		schedule := testfixtures.NewSchedule(id, testfixtures.WithScheduleID("schedule-"+id))
		user := testfixtures.NewUser(testfixtures.WithUserID(id), testfixtures.WithDefaultSchedule(schedule.ID))
		testfixtures.Seed(t, h.store, user, schedule)
		out = append(out, testfixtures.Host(id, schedule.ID))
	}
	return out
}

func (h *harness) eventType(t *testing.T, hosts []persistence.EventTypeHost, opts ...testfixtures.EventTypeOption) persistence.EventType {
	t.Helper()
	et := testfixtures.NewEventType(hosts, opts...)
	testfixtures.Seed(t, h.store, et)
	return et
}

// mondaySlots queries the whole of Monday.
func (h *harness) mondaySlots(t *testing.T, eventTypeID string) application.SlotResult {
	t.Helper()
	result, err := h.availability.GetAvailableSlots(context.Background(), application.SlotQuery{
		EventTypeID: eventTypeID,
		From:        testfixtures.Day(0),
		To:          testfixtures.Day(1),
	})
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	return result
}

func starts(list []slots.Slot) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.Start.UTC().Format("15:04")
	}
	return out
}

func slotAt(list []slots.Slot, at time.Time) (slots.Slot, bool) {
	for _, s := range list {
		if s.Start.Equal(at) {
			return s, true
		}
	}
	return slots.Slot{}, false
}

type recordingPublisher struct {
	mu       sync.Mutex
	created  []events.BookingEvent
	rejected []events.BookingEvent
}

func (p *recordingPublisher) PublishBookingCreated(_ context.Context, e events.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishBookingRejected(_ context.Context, e events.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = append(p.rejected, e)
	return nil
}

func (p *recordingPublisher) counts() (created, rejected int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created), len(p.rejected)
}

// booked returns an accepted booking of a separate event type hosted by
// hostIDs, registering that event type first.
func (h *harness) booked(t *testing.T, hostIDs []string, start time.Time, d time.Duration) persistence.Booking {
	t.Helper()
	hosts := make([]persistence.EventTypeHost, len(hostIDs))
	for i, id := range hostIDs {
		hosts[i] = testfixtures.Host(id, "")
	}
	other := h.eventType(t, hosts)
	return testfixtures.NewBooking(other.ID, start, d, hostIDs)
}
