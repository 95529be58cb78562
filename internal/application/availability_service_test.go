package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/assignment"
	"github.com/example/availability-engine/internal/limits"
	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/segment"
	"github.com/example/availability-engine/internal/slots"
	"github.com/example/availability-engine/internal/testfixtures"
)

func TestGetAvailableSlots_Collective(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice", "bob"))

	testfixtures.Seed(t, h.store,
		h.booked(t, []string{"bob"}, testfixtures.At(0, 10, 0), 30*time.Minute),
		persistence.BusyTime{ID: "busy-1", UserID: "alice", Start: testfixtures.At(0, 12, 0), End: testfixtures.At(0, 13, 0)},
		persistence.OutOfOffice{ID: "ooo-1", UserID: "alice", Start: testfixtures.At(0, 16, 0), End: testfixtures.Day(1)},
	)

	result := h.mondaySlots(t, et.ID)
	assert.Equal(t, []string{
		"09:00", "09:30", "10:30", "11:00", "11:30",
		"13:00", "13:30", "14:00", "14:30", "15:00", "15:30",
	}, starts(result.Slots))
	for _, s := range result.Slots {
		assert.Equal(t, []string{"alice", "bob"}, s.HostIDs)
		assert.Equal(t, 30*time.Minute, s.End.Sub(s.Start))
	}
	assert.Equal(t, "UTC", result.Timezone)
	assert.Empty(t, result.Warnings)
}

func TestGetAvailableSlots_ScheduleTimezone(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	schedule := testfixtures.NewSchedule("carol",
		testfixtures.WithScheduleID("schedule-carol"),
		testfixtures.WithScheduleTimezone("Europe/Berlin"),
	)
	user := testfixtures.NewUser(testfixtures.WithUserID("carol"), testfixtures.WithDefaultSchedule(schedule.ID))
	testfixtures.Seed(t, h.store, user, schedule)
	et := h.eventType(t, []persistence.EventTypeHost{testfixtures.Host("carol", "")},
		testfixtures.WithDuration(time.Hour, 0))

	result := h.mondaySlots(t, et.ID)
	// 09:00-17:00 CEST is 07:00-15:00 UTC.
	assert.Equal(t, []string{"07:00", "08:00", "09:00", "10:00", "11:00", "12:00", "13:00", "14:00"}, starts(result.Slots))
}

func TestGetAvailableSlots_BuffersAndNotice(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"),
		testfixtures.WithBuffers(15*time.Minute, 15*time.Minute),
		testfixtures.WithMinimumNotice(4*time.Hour),
	)
	testfixtures.Seed(t, h.store,
		h.booked(t, []string{"alice"}, testfixtures.At(0, 12, 0), time.Hour),
	)

	result := h.mondaySlots(t, et.ID)
	// Notice pushes the first tick to 10:00. The buffers drop 11:30 and
	// 13:00 next to the 12:00-13:00 booking.
	assert.Equal(t, []string{"10:00", "10:30", "11:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00", "16:30"}, starts(result.Slots))
}

func TestGetAvailableSlots_RoundRobinAttributesFreeHost(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice", "bob"),
		testfixtures.WithSchedulingType(string(assignment.RoundRobin)))
	testfixtures.Seed(t, h.store,
		h.booked(t, []string{"alice"}, testfixtures.At(0, 9, 0), 30*time.Minute),
	)

	result := h.mondaySlots(t, et.ID)
	require.Len(t, result.Slots, 16)
	first, ok := slotAt(result.Slots, testfixtures.At(0, 9, 0))
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, first.HostIDs)
	second, ok := slotAt(result.Slots, testfixtures.At(0, 9, 30))
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, second.HostIDs)
}

func TestGetAvailableSlots_ContactOwnerWins(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice", "bob"),
		testfixtures.WithSchedulingType(string(assignment.RoundRobin)))

	result, err := h.availability.GetAvailableSlots(context.Background(), application.SlotQuery{
		EventTypeID:    et.ID,
		From:           testfixtures.Day(0),
		To:             testfixtures.Day(1),
		ContactOwnerID: "bob",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Slots)
	for _, s := range result.Slots {
		assert.Equal(t, []string{"bob"}, s.HostIDs)
	}
}

func TestGetAvailableSlots_Segment(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	hosts := h.hosts(t, "alice", "bob")
	testfixtures.Seed(t, h.store,
		testfixtures.Attributes{UserID: "alice", Values: map[string][]string{"region": {"apac"}}},
		testfixtures.Attributes{UserID: "bob", Values: map[string][]string{"region": {"EMEA"}}},
	)
	et := h.eventType(t, hosts,
		testfixtures.WithSchedulingType(string(assignment.RoundRobin)),
		testfixtures.WithSegment(`{"kind":"rule","attribute":"region","operator":"equals","values":["emea"]}`),
	)

	result := h.mondaySlots(t, et.ID)
	require.Len(t, result.Slots, 16)
	for _, s := range result.Slots {
		assert.Equal(t, []string{"bob"}, s.HostIDs)
	}

	override := segment.Rule("region", segment.OpEquals, "apac")
	result, err := h.availability.GetAvailableSlots(context.Background(), application.SlotQuery{
		EventTypeID: et.ID,
		From:        testfixtures.Day(0),
		To:          testfixtures.Day(1),
		Segment:     &override,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Slots)
	assert.Equal(t, []string{"alice"}, result.Slots[0].HostIDs)
}

func TestGetAvailableSlots_UnresolvableSegmentWarns(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice", "bob"),
		testfixtures.WithSchedulingType(string(assignment.RoundRobin)),
		testfixtures.WithSegment(`{"kind":`),
	)

	result := h.mondaySlots(t, et.ID)
	assert.Empty(t, result.Slots)
	require.Len(t, result.Warnings, 1)

	// Degraded results are recomputed rather than served from cache.
	assert.Zero(t, h.cache.Stats().Size)
}

func TestGetAvailableSlots_Seats(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"), testfixtures.WithSeats(3))
	testfixtures.Seed(t, h.store,
		testfixtures.NewBooking(et.ID, testfixtures.At(0, 9, 0), 30*time.Minute, []string{"alice"}, testfixtures.WithAttendees(2)),
		testfixtures.NewBooking(et.ID, testfixtures.At(0, 10, 0), 30*time.Minute, []string{"alice"}, testfixtures.WithAttendees(3)),
	)

	result := h.mondaySlots(t, et.ID)
	nine, ok := slotAt(result.Slots, testfixtures.At(0, 9, 0))
	require.True(t, ok)
	assert.Equal(t, 1, nine.SeatsRemaining)
	_, ok = slotAt(result.Slots, testfixtures.At(0, 10, 0))
	assert.False(t, ok, "full seated slot must not be offered")
	free, ok := slotAt(result.Slots, testfixtures.At(0, 11, 0))
	require.True(t, ok)
	assert.Equal(t, 3, free.SeatsRemaining)
}

func TestGetAvailableSlots_DailyLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"), testfixtures.WithDailyLimit(1))
	testfixtures.Seed(t, h.store,
		testfixtures.NewBooking(et.ID, testfixtures.At(0, 9, 0), 30*time.Minute, []string{"alice"}),
	)

	result, err := h.availability.GetAvailableSlots(context.Background(), application.SlotQuery{
		EventTypeID: et.ID,
		From:        testfixtures.Day(0),
		To:          testfixtures.Day(2),
	})
	require.NoError(t, err)
	for _, s := range result.Slots {
		assert.False(t, s.Start.Before(testfixtures.Day(1)), "monday is at its limit, got %s", s.Start)
	}
	assert.Len(t, result.Slots, 16)
}

func TestGetAvailableSlots_AdHocQuery(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	hosts := h.hosts(t, "alice", "bob")

	result, err := h.availability.GetAvailableSlots(context.Background(), application.SlotQuery{
		Hosts: []application.QueryHost{
			{UserID: hosts[0].UserID, ScheduleID: hosts[0].ScheduleID},
			{UserID: hosts[1].UserID},
		},
		Constraints: slots.Constraints{Duration: time.Hour, Interval: 2 * time.Hour},
		From:        testfixtures.Day(0),
		To:          testfixtures.Day(1),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "12:00", "14:00", "16:00"}, starts(result.Slots))
	assert.Zero(t, h.cache.Stats().Size)
}

func TestGetAvailableSlots_AdHocQueryHonorsFairnessLimitsAndSegment(t *testing.T) {
	t.Parallel()

	roundRobin := func(q *application.SlotQuery) { q.SchedulingType = assignment.RoundRobin }
	cases := []struct {
		name      string
		seed      func(elsewhere persistence.EventType) []any
		adjust    func(q *application.SlotQuery)
		wantSlots int
		wantHost  string
	}{
		{
			name: "round robin counts bookings of any event type",
			seed: func(elsewhere persistence.EventType) []any {
				var records []any
				for i := 0; i < 5; i++ {
					records = append(records, testfixtures.NewBooking(elsewhere.ID, testfixtures.At(4, 9+i, 0), 30*time.Minute, []string{"alice"}))
				}
				for i := 0; i < 2; i++ {
					records = append(records, testfixtures.NewBooking(elsewhere.ID, testfixtures.At(4, 9+i, 0), 30*time.Minute, []string{"bob"}))
				}
				return records
			},
			adjust:    roundRobin,
			wantSlots: 16,
			wantHost:  "bob",
		},
		{
			name: "daily limit counts bookings of any event type",
			seed: func(elsewhere persistence.EventType) []any {
				return []any{testfixtures.NewBooking(elsewhere.ID, testfixtures.At(0, 9, 0), 30*time.Minute, []string{"alice"})}
			},
			adjust: func(q *application.SlotQuery) {
				q.Constraints.BookingLimits = limits.BookingLimits{PerDay: 1}
			},
			wantSlots: 0,
		},
		{
			name: "segment matching nobody leaves no slots",
			seed: func(persistence.EventType) []any {
				return []any{testfixtures.Attributes{UserID: "alice", Values: map[string][]string{"team": {"support"}}}}
			},
			adjust: func(q *application.SlotQuery) {
				roundRobin(q)
				node := segment.Rule("team", segment.OpEquals, "sales")
				q.Segment = &node
			},
			wantSlots: 0,
		},
		{
			name: "segment narrows the pool",
			seed: func(persistence.EventType) []any {
				return []any{testfixtures.Attributes{UserID: "bob", Values: map[string][]string{"team": {"Sales"}}}}
			},
			adjust: func(q *application.SlotQuery) {
				roundRobin(q)
				node := segment.Rule("team", segment.OpEquals, "sales")
				q.Segment = &node
			},
			wantSlots: 16,
			wantHost:  "bob",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			hosts := h.hosts(t, "alice", "bob")
			elsewhere := h.eventType(t, hosts)
			testfixtures.Seed(t, h.store, tc.seed(elsewhere)...)

			q := application.SlotQuery{
				Hosts: []application.QueryHost{
					{UserID: hosts[0].UserID, ScheduleID: hosts[0].ScheduleID},
					{UserID: hosts[1].UserID, ScheduleID: hosts[1].ScheduleID},
				},
				Constraints: slots.Constraints{Duration: 30 * time.Minute},
				From:        testfixtures.Day(0),
				To:          testfixtures.Day(1),
			}
			tc.adjust(&q)

			result, err := h.availability.GetAvailableSlots(context.Background(), q)
			require.NoError(t, err)
			assert.Empty(t, result.Warnings)
			require.Len(t, result.Slots, tc.wantSlots)
			for _, s := range result.Slots {
				assert.Equal(t, []string{tc.wantHost}, s.HostIDs)
			}
		})
	}
}

func TestGetAvailableSlots_AlignsWindowStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"))

	result, err := h.availability.GetAvailableSlots(context.Background(), application.SlotQuery{
		EventTypeID: et.ID,
		From:        testfixtures.At(0, 9, 7),
		To:          testfixtures.At(0, 11, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"09:30", "10:00", "10:30"}, starts(result.Slots))
}

func TestGetAvailableSlots_CachedResultDropsSlotsInsideNotice(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"), testfixtures.WithMinimumNotice(time.Hour))

	require.Len(t, h.mondaySlots(t, et.ID).Slots, 16)

	h.clock.Set(testfixtures.At(0, 10, 5))
	result := h.mondaySlots(t, et.ID)
	assert.Equal(t, 1, h.cache.Stats().Size)
	require.Len(t, result.Slots, 11)
	assert.Equal(t, "11:30", starts(result.Slots)[0])
}

func TestGetAvailableSlots_CachesPerEventType(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"))

	first := h.mondaySlots(t, et.ID)
	require.Len(t, first.Slots, 16)
	assert.Equal(t, 1, h.cache.Stats().Size)

	// A write behind the service's back is invisible until invalidation.
	testfixtures.Seed(t, h.store,
		h.booked(t, []string{"alice"}, testfixtures.At(0, 9, 0), time.Hour),
	)
	assert.Len(t, h.mondaySlots(t, et.ID).Slots, 16)

	assert.Equal(t, 1, h.cache.InvalidatePrefix(application.SlotCachePrefix(et.ID)))
	assert.Len(t, h.mondaySlots(t, et.ID).Slots, 14)
}

func TestGetAvailableSlots_Errors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"))

	cases := []struct {
		name   string
		query  application.SlotQuery
		target error
		field  string
	}{
		{
			name:   "unknown event type",
			query:  application.SlotQuery{EventTypeID: "ghost", From: testfixtures.Day(0), To: testfixtures.Day(1)},
			target: application.ErrNotFound,
		},
		{
			name:  "reversed window",
			query: application.SlotQuery{EventTypeID: et.ID, From: testfixtures.Day(1), To: testfixtures.Day(0)},
			field: "to",
		},
		{
			name:  "window too long",
			query: application.SlotQuery{EventTypeID: et.ID, From: testfixtures.Day(0), To: testfixtures.Day(90)},
			field: "to",
		},
		{
			name:  "missing from",
			query: application.SlotQuery{EventTypeID: et.ID, To: testfixtures.Day(1)},
			field: "from",
		},
		{
			name:  "ad hoc without hosts",
			query: application.SlotQuery{From: testfixtures.Day(0), To: testfixtures.Day(1), Constraints: slots.Constraints{Duration: time.Hour}},
			field: "hosts",
		},
		{
			name: "ad hoc seats",
			query: application.SlotQuery{
				Hosts:       []application.QueryHost{{UserID: "alice"}},
				Constraints: slots.Constraints{Duration: time.Hour, SeatsPerSlot: 3},
				From:        testfixtures.Day(0),
				To:          testfixtures.Day(1),
			},
			field: "seatsPerSlot",
		},
		{
			name: "unknown timezone",
			query: application.SlotQuery{
				Hosts:       []application.QueryHost{{UserID: "alice"}},
				Constraints: slots.Constraints{Duration: time.Hour},
				From:        testfixtures.Day(0),
				To:          testfixtures.Day(1),
				Timezone:    "Mars/Olympus",
			},
			field: "timezone",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := h.availability.GetAvailableSlots(context.Background(), tc.query)
			require.Error(t, err)
			if tc.target != nil {
				assert.ErrorIs(t, err, tc.target)
				return
			}
			var vErr *application.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.FieldErrors, tc.field)
		})
	}
}

func TestGetAvailableSlots_SingleBookingSplitsDay(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice"), testfixtures.WithDuration(30*time.Minute, 30*time.Minute))
	testfixtures.Seed(t, h.store,
		testfixtures.NewBooking(et.ID, testfixtures.At(0, 10, 0), 30*time.Minute, []string{"alice"}),
	)

	want := []string{"09:00", "09:30"}
	for at := testfixtures.At(0, 10, 30); at.Before(testfixtures.At(0, 17, 0)); at = at.Add(30 * time.Minute) {
		want = append(want, at.Format("15:04"))
	}
	assert.Equal(t, want, starts(h.mondaySlots(t, et.ID).Slots))
}

func TestGetAvailableSlots_CollectiveNeedsEveryHost(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice", "bob"))
	testfixtures.Seed(t, h.store,
		persistence.OutOfOffice{ID: "ooo-bob", UserID: "bob", Start: testfixtures.Day(0), End: testfixtures.Day(1)},
	)

	assert.Empty(t, h.mondaySlots(t, et.ID).Slots)
}

func TestGetAvailableSlots_RoundRobinPrefersFewerWeeklyBookings(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	et := h.eventType(t, h.hosts(t, "alice", "bob"),
		testfixtures.WithSchedulingType(string(assignment.RoundRobin)))

	var records []any
	for i := 0; i < 5; i++ {
		records = append(records, testfixtures.NewBooking(et.ID, testfixtures.At(4, 9+i, 0), 30*time.Minute, []string{"alice"}))
	}
	for i := 0; i < 2; i++ {
		records = append(records, testfixtures.NewBooking(et.ID, testfixtures.At(4, 9+i, 0), 30*time.Minute, []string{"bob"}))
	}
	testfixtures.Seed(t, h.store, records...)

	result := h.mondaySlots(t, et.ID)
	require.Len(t, result.Slots, 16)
	for _, s := range result.Slots {
		assert.Equal(t, []string{"bob"}, s.HostIDs)
	}
}
