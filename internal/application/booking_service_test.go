package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/assignment"
	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/scheduler"
	"github.com/example/availability-engine/internal/testfixtures"
)

func TestCreateBooking_AcceptsThenRejectsSameSlot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice", "bob"))
	ctx := context.Background()
	start := testfixtures.At(0, 9, 0)

	outcome, err := h.bookings.CreateBooking(ctx, application.CreateBookingParams{EventTypeID: et.ID, Start: start})
	require.NoError(t, err)
	assert.True(t, outcome.Decision.Accepted())
	assert.Equal(t, []scheduler.State{scheduler.StateProposed, scheduler.StateValidating, scheduler.StateAccepted}, outcome.Decision.History)
	assert.Equal(t, "booking-1", outcome.Booking.ID)
	assert.Equal(t, []string{"alice", "bob"}, outcome.Booking.HostIDs)
	assert.Equal(t, start.Add(30*time.Minute), outcome.Booking.End)
	assert.Equal(t, string(persistence.BookingAccepted), outcome.Booking.Status)

	stored, err := h.store.GetBooking(ctx, outcome.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attendees)
	assert.False(t, stored.Seated)

	outcome, err = h.bookings.CreateBooking(ctx, application.CreateBookingParams{EventTypeID: et.ID, HostIDs: []string{"bob"}, Start: start})
	require.ErrorIs(t, err, scheduler.ErrSlotNoLongerAvailable)
	assert.Equal(t, scheduler.StateRejected, outcome.Decision.State)
	require.NotEmpty(t, outcome.Decision.Conflicts)
	assert.Equal(t, "bob", outcome.Decision.Conflicts[0].HostID)
	assert.Empty(t, outcome.Booking.ID)

	created, rejected := h.publisher.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, "booking-1", h.publisher.created[0].BookingID)
}

func TestValidateBookingSlot_DoesNotWrite(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"))
	ctx := context.Background()

	decision, err := h.bookings.ValidateBookingSlot(ctx, application.ValidateParams{EventTypeID: et.ID, Start: testfixtures.At(0, 9, 0)})
	require.NoError(t, err)
	assert.True(t, decision.Accepted())

	stored, err := h.store.ListBookings(ctx, persistence.BookingFilter{EventTypeID: et.ID})
	require.NoError(t, err)
	assert.Empty(t, stored)
	created, rejected := h.publisher.counts()
	assert.Zero(t, created+rejected)
}

func TestValidateBookingSlot_Rejections(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	hosts := h.hosts(t, "alice", "bob")
	et := h.eventType(t, hosts, testfixtures.WithBuffers(15*time.Minute, 0))
	testfixtures.Seed(t, h.store,
		h.booked(t, []string{"bob"}, testfixtures.At(0, 10, 0), 30*time.Minute),
		persistence.OutOfOffice{ID: "ooo-alice", UserID: "alice", Start: testfixtures.Day(1), End: testfixtures.Day(2)},
		testfixtures.NewBooking(et.ID, testfixtures.At(0, 14, 0), 30*time.Minute, []string{"alice", "bob"},
			testfixtures.WithBookingStatus(persistence.BookingCancelled)),
	)

	cases := []struct {
		name     string
		start    time.Time
		accepted bool
	}{
		{name: "free", start: testfixtures.At(0, 9, 0), accepted: true},
		{name: "overlaps booking", start: testfixtures.At(0, 10, 0)},
		{name: "ends where booking starts", start: testfixtures.At(0, 9, 30), accepted: true},
		{name: "buffer reaches into booking", start: testfixtures.At(0, 10, 30)},
		{name: "clear of buffer", start: testfixtures.At(0, 10, 45), accepted: true},
		{name: "cancelled booking frees slot", start: testfixtures.At(0, 14, 0), accepted: true},
		{name: "after working hours", start: testfixtures.At(0, 16, 45)},
		{name: "out of office", start: testfixtures.At(1, 9, 0)},
		{name: "weekend", start: testfixtures.At(5, 10, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			decision, err := h.bookings.ValidateBookingSlot(context.Background(), application.ValidateParams{
				EventTypeID: et.ID,
				Start:       tc.start,
			})
			if tc.accepted {
				require.NoError(t, err)
				assert.True(t, decision.Accepted())
				return
			}
			require.ErrorIs(t, err, scheduler.ErrSlotNoLongerAvailable)
			assert.Equal(t, scheduler.StateRejected, decision.State)
		})
	}
}

func TestValidateBookingSlot_InvalidRequests(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"),
		testfixtures.WithMinimumNotice(4*time.Hour),
		func(e *persistence.EventType) { e.RollingWindowDays = 2 },
	)

	cases := []struct {
		name   string
		params application.ValidateParams
		field  string
	}{
		{name: "missing event type", params: application.ValidateParams{Start: testfixtures.At(0, 11, 0)}, field: "eventTypeId"},
		{name: "missing start", params: application.ValidateParams{EventTypeID: et.ID}, field: "start"},
		{name: "negative attendees", params: application.ValidateParams{EventTypeID: et.ID, Start: testfixtures.At(0, 11, 0), Attendees: -1}, field: "attendees"},
		{name: "within notice", params: application.ValidateParams{EventTypeID: et.ID, Start: testfixtures.At(0, 9, 0)}, field: "start"},
		{name: "beyond window", params: application.ValidateParams{EventTypeID: et.ID, Start: testfixtures.At(3, 9, 0)}, field: "start"},
		{name: "foreign host", params: application.ValidateParams{EventTypeID: et.ID, HostIDs: []string{"mallory"}, Start: testfixtures.At(0, 11, 0)}, field: "hostIds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := h.bookings.ValidateBookingSlot(context.Background(), tc.params)
			var vErr *application.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.FieldErrors, tc.field)
		})
	}

	_, err := h.bookings.ValidateBookingSlot(context.Background(), application.ValidateParams{EventTypeID: "ghost", Start: testfixtures.At(0, 11, 0)})
	assert.ErrorIs(t, err, application.ErrNotFound)
}

func TestCreateBooking_Seats(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"), testfixtures.WithSeats(3), testfixtures.WithDailyLimit(1))
	ctx := context.Background()
	start := testfixtures.At(0, 9, 0)

	for _, attendees := range []int{1, 2} {
		outcome, err := h.bookings.CreateBooking(ctx, application.CreateBookingParams{EventTypeID: et.ID, Start: start, Attendees: attendees})
		require.NoError(t, err)
		assert.True(t, outcome.Booking.Seated)
	}

	outcome, err := h.bookings.CreateBooking(ctx, application.CreateBookingParams{EventTypeID: et.ID, Start: start})
	require.ErrorIs(t, err, scheduler.ErrCapacityExceeded)
	assert.Equal(t, scheduler.StateRejected, outcome.Decision.State)

	// The daily limit counts the seated slot once and blocks a second one.
	_, err = h.bookings.CreateBooking(ctx, application.CreateBookingParams{EventTypeID: et.ID, Start: testfixtures.At(0, 11, 0)})
	require.ErrorIs(t, err, scheduler.ErrBookingLimitExceeded)

	// A partially booked slot overlapping the proposal blocks it.
	_, err = h.bookings.CreateBooking(ctx, application.CreateBookingParams{EventTypeID: et.ID, Start: testfixtures.At(1, 9, 0), Attendees: 1})
	require.NoError(t, err)
	_, err = h.bookings.CreateBooking(ctx, application.CreateBookingParams{EventTypeID: et.ID, Start: testfixtures.At(1, 9, 15)})
	require.ErrorIs(t, err, scheduler.ErrSlotNoLongerAvailable)

	_, err = h.bookings.CreateBooking(ctx, application.CreateBookingParams{EventTypeID: et.ID, Start: testfixtures.At(2, 9, 0), Attendees: 4})
	require.ErrorIs(t, err, scheduler.ErrCapacityExceeded)
}

func TestCreateBooking_DailyLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"), testfixtures.WithDailyLimit(1))
	ctx := context.Background()

	_, err := h.bookings.CreateBooking(ctx, application.CreateBookingParams{EventTypeID: et.ID, Start: testfixtures.At(0, 9, 0)})
	require.NoError(t, err)

	_, err = h.bookings.ValidateBookingSlot(ctx, application.ValidateParams{EventTypeID: et.ID, Start: testfixtures.At(0, 11, 0)})
	var limitErr *scheduler.BookingLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "alice", limitErr.HostID)

	_, err = h.bookings.ValidateBookingSlot(ctx, application.ValidateParams{EventTypeID: et.ID, Start: testfixtures.At(1, 9, 0)})
	assert.NoError(t, err)
}

func TestCreateBooking_RoundRobinAssignment(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice", "bob"), testfixtures.WithSchedulingType(string(assignment.RoundRobin)))
	ctx := context.Background()

	book := func(at time.Time) ([]string, error) {
		outcome, err := h.bookings.CreateBooking(ctx, application.CreateBookingParams{EventTypeID: et.ID, Start: at})
		return outcome.Booking.HostIDs, err
	}

	hosts, err := book(testfixtures.At(0, 9, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, hosts)

	// alice now has a booking this week, so bob is next.
	hosts, err = book(testfixtures.At(0, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, hosts)

	hosts, err = book(testfixtures.At(0, 9, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, hosts)

	_, err = book(testfixtures.At(0, 9, 0))
	require.ErrorIs(t, err, scheduler.ErrSlotNoLongerAvailable)

	outcome, err := h.bookings.CreateBooking(ctx, application.CreateBookingParams{EventTypeID: et.ID, HostIDs: []string{"alice"}, Start: testfixtures.At(0, 11, 0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, outcome.Booking.HostIDs)
}

func TestCreateBooking_RoundRobinSegment(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	hosts := h.hosts(t, "alice", "bob")
	testfixtures.Seed(t, h.store,
		testfixtures.Attributes{UserID: "alice", Values: map[string][]string{"region": {"apac"}}},
		testfixtures.Attributes{UserID: "bob", Values: map[string][]string{"region": {"emea"}}},
	)
	et := h.eventType(t, hosts,
		testfixtures.WithSchedulingType(string(assignment.RoundRobin)),
		testfixtures.WithSegment(`{"kind":"rule","attribute":"region","operator":"in","values":["emea"]}`),
	)

	outcome, err := h.bookings.CreateBooking(context.Background(), application.CreateBookingParams{EventTypeID: et.ID, Start: testfixtures.At(0, 9, 0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, outcome.Booking.HostIDs)
}

func TestCreateBooking_InvalidatesSlotCache(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"))

	require.Len(t, h.mondaySlots(t, et.ID).Slots, 16)

	_, err := h.bookings.CreateBooking(context.Background(), application.CreateBookingParams{EventTypeID: et.ID, Start: testfixtures.At(0, 9, 0)})
	require.NoError(t, err)

	result := h.mondaySlots(t, et.ID)
	assert.Len(t, result.Slots, 15)
	_, ok := slotAt(result.Slots, testfixtures.At(0, 9, 0))
	assert.False(t, ok)
}

func TestCreateBooking_InvalidatesEveryEventTypeOfTheHost(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	hosts := h.hosts(t, "alice", "bob")
	intro := h.eventType(t, hosts[:1])
	demo := h.eventType(t, hosts[:1])
	support := h.eventType(t, hosts[1:])

	require.Len(t, h.mondaySlots(t, intro.ID).Slots, 16)
	require.Len(t, h.mondaySlots(t, support.ID).Slots, 16)
	require.Equal(t, 2, h.cache.Stats().Size)

	_, err := h.bookings.CreateBooking(context.Background(), application.CreateBookingParams{EventTypeID: demo.ID, Start: testfixtures.At(0, 9, 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, h.cache.Stats().Size, "bob's cached slots stay")

	result := h.mondaySlots(t, intro.ID)
	assert.Len(t, result.Slots, 15)
	_, ok := slotAt(result.Slots, testfixtures.At(0, 9, 0))
	assert.False(t, ok)
}

func TestCreateBooking_ConcurrentRequestsAcceptExactlyOne(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"))

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		errs     []error
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := h.bookings.CreateBooking(context.Background(), application.CreateBookingParams{
				EventTypeID: et.ID,
				Start:       testfixtures.At(0, 9, 0),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	require.Len(t, errs, workers-1)
	for _, err := range errs {
		assert.ErrorIs(t, err, scheduler.ErrSlotNoLongerAvailable)
	}

	stored, err := h.store.ListBookings(context.Background(), persistence.BookingFilter{EventTypeID: et.ID})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
