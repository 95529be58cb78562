// Package storetest is a behavioral suite every persistence backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/testfixtures"
)

// Backend is a store that also runs transactions.
type Backend interface {
	persistence.Store
	persistence.Transactor
}

// Run exercises open() with the shared suite. open must return an empty
// backend on each call.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Run("Users", func(t *testing.T) { t.Parallel(); testUsers(t, open(t)) })
	t.Run("Schedules", func(t *testing.T) { t.Parallel(); testSchedules(t, open(t)) })
	t.Run("EventTypes", func(t *testing.T) { t.Parallel(); testEventTypes(t, open(t)) })
	t.Run("Bookings", func(t *testing.T) { t.Parallel(); testBookings(t, open(t)) })
	t.Run("BookingUniqueness", func(t *testing.T) { t.Parallel(); testBookingUniqueness(t, open(t)) })
	t.Run("CalendarInputs", func(t *testing.T) { t.Parallel(); testCalendarInputs(t, open(t)) })
	t.Run("Attributes", func(t *testing.T) { t.Parallel(); testAttributes(t, open(t)) })
	t.Run("TransactionRollback", func(t *testing.T) { t.Parallel(); testRollback(t, open(t)) })
	t.Run("ConcurrentBooking", func(t *testing.T) { t.Parallel(); testConcurrentBooking(t, open(t)) })
}

func testUsers(t *testing.T, store Backend) {
	ctx := context.Background()
	user := testfixtures.NewUser(testfixtures.WithUserTimezone("Europe/Berlin"))
	require.NoError(t, store.Users().CreateUser(ctx, user))

	got, err := store.Users().GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)
	assert.Equal(t, "Europe/Berlin", got.Timezone)
	assert.True(t, user.CreatedAt.Equal(got.CreatedAt))

	dup := testfixtures.NewUser()
	dup.Email = user.Email
	assert.ErrorIs(t, store.Users().CreateUser(ctx, dup), persistence.ErrDuplicate)

	user.DisplayName = "Renamed"
	require.NoError(t, store.Users().UpdateUser(ctx, user))
	got, err = store.Users().GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.DisplayName)

	_, err = store.Users().GetUser(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.ErrorIs(t, store.Users().UpdateUser(ctx, testfixtures.NewUser()), persistence.ErrNotFound)

	users, err := store.Users().ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func testSchedules(t *testing.T, store Backend) {
	ctx := context.Background()
	owner := testfixtures.NewUser()
	blocked := testfixtures.Day(3)
	short := testfixtures.Day(4)
	schedule := testfixtures.NewSchedule(owner.ID,
		testfixtures.WithScheduleTimezone("America/New_York"),
		testfixtures.WithRules(
			testfixtures.Hours(testfixtures.Weekdays, 9, 12),
			testfixtures.Hours([]time.Weekday{time.Monday}, 13, 17),
		),
		testfixtures.WithOverride(blocked),
		testfixtures.WithOverride(short,
			persistence.MinuteRange{StartMinute: 10 * 60, EndMinute: 11 * 60},
			persistence.MinuteRange{StartMinute: 14 * 60, EndMinute: 24 * 60},
		),
	)
	testfixtures.Seed(t, store, owner)

	orphan := testfixtures.NewSchedule("nobody")
	assert.ErrorIs(t, store.Schedules().CreateSchedule(ctx, orphan), persistence.ErrConstraintViolation)

	require.NoError(t, store.Schedules().CreateSchedule(ctx, schedule))
	got, err := store.Schedules().GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, got.OwnerID)
	assert.Equal(t, "America/New_York", got.Timezone)
	require.Len(t, got.Rules, 2)
	assert.Equal(t, testfixtures.Weekdays, got.Rules[0].Weekdays)
	assert.Equal(t, 13*60, got.Rules[1].StartMinute)

	require.Len(t, got.Overrides, 2)
	assert.True(t, got.Overrides[0].Date.Equal(blocked))
	assert.Empty(t, got.Overrides[0].Ranges)
	assert.True(t, got.Overrides[1].Date.Equal(short))
	assert.Equal(t, []persistence.MinuteRange{
		{StartMinute: 600, EndMinute: 660},
		{StartMinute: 840, EndMinute: 1440},
	}, got.Overrides[1].Ranges)

	schedule.Rules = []persistence.ScheduleRule{testfixtures.Hours(testfixtures.EveryDay, 8, 20)}
	schedule.Overrides = nil
	require.NoError(t, store.Schedules().UpdateSchedule(ctx, schedule))
	got, err = store.Schedules().GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.Len(t, got.Rules, 1)
	assert.Len(t, got.Rules[0].Weekdays, 7)
	assert.Empty(t, got.Overrides)

	owned, err := store.Schedules().ListSchedulesByOwner(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	require.NoError(t, store.Schedules().DeleteSchedule(ctx, schedule.ID))
	_, err = store.Schedules().GetSchedule(ctx, schedule.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.ErrorIs(t, store.Schedules().DeleteSchedule(ctx, schedule.ID), persistence.ErrNotFound)
}

func testEventTypes(t *testing.T, store Backend) {
	ctx := context.Background()
	team := testfixtures.NewTeam(3)
	testfixtures.Seed(t, store, team.Records()...)

	hosts := team.Hosts()
	hosts[0].IsFixed = true
	hosts[1].Priority = 2
	hosts[2].Weight = 250
	hosts[2].GroupID = "emea"
	eventType := testfixtures.NewEventType(hosts,
		testfixtures.WithSchedulingType("ROUND_ROBIN"),
		testfixtures.WithDuration(45*time.Minute, 15*time.Minute),
		testfixtures.WithBuffers(5*time.Minute, 10*time.Minute),
		testfixtures.WithSeats(4),
		testfixtures.WithDailyLimit(3),
		testfixtures.WithWeights(),
		testfixtures.WithSegment(`{"kind":"rule","attribute":"team","operator":"equals","values":["sales"]}`),
	)
	eventType.DurationLimitWeek = 6 * time.Hour
	require.NoError(t, store.EventTypes().CreateEventType(ctx, eventType))

	got, err := store.EventTypes().GetEventTypeBySlug(ctx, eventType.Slug)
	require.NoError(t, err)
	assert.Equal(t, eventType.ID, got.ID)
	assert.Equal(t, "ROUND_ROBIN", got.SchedulingType)
	assert.Equal(t, 45*time.Minute, got.Duration)
	assert.Equal(t, 15*time.Minute, got.SlotInterval)
	assert.Equal(t, 5*time.Minute, got.BufferBefore)
	assert.Equal(t, 10*time.Minute, got.BufferAfter)
	assert.Equal(t, 4, got.SeatsPerSlot)
	assert.Equal(t, 3, got.LimitPerDay)
	assert.Equal(t, 6*time.Hour, got.DurationLimitWeek)
	assert.Equal(t, time.Monday, got.WeekStart)
	assert.True(t, got.WeightsEnabled)
	assert.JSONEq(t, string(eventType.Segment), string(got.Segment))
	assert.Equal(t, hosts, got.Hosts)

	eventType.Hosts = hosts[:1]
	eventType.Title = "Renamed"
	require.NoError(t, store.EventTypes().UpdateEventType(ctx, eventType))
	got, err = store.EventTypes().GetEventType(ctx, eventType.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, hosts[:1], got.Hosts)

	clash := testfixtures.NewEventType(team.Hosts())
	clash.Slug = eventType.Slug
	assert.ErrorIs(t, store.EventTypes().CreateEventType(ctx, clash), persistence.ErrDuplicate)

	unknownHost := testfixtures.NewEventType([]persistence.EventTypeHost{testfixtures.Host("ghost", "")})
	assert.ErrorIs(t, store.EventTypes().CreateEventType(ctx, unknownHost), persistence.ErrConstraintViolation)

	all, err := store.EventTypes().ListEventTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = store.EventTypes().GetEventType(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func seedEventType(t *testing.T, store Backend, hosts int, opts ...testfixtures.EventTypeOption) (testfixtures.Team, persistence.EventType) {
	t.Helper()
	team := testfixtures.NewTeam(hosts)
	eventType := testfixtures.NewEventType(team.Hosts(), opts...)
	testfixtures.Seed(t, store, append(team.Records(), eventType)...)
	return team, eventType
}

func testBookings(t *testing.T, store Backend) {
	ctx := context.Background()
	team, eventType := seedEventType(t, store, 2)
	a, b := team.IDs()[0], team.IDs()[1]

	morning := testfixtures.NewBooking(eventType.ID, testfixtures.At(1, 9, 0), time.Hour, []string{a, b})
	noon := testfixtures.NewBooking(eventType.ID, testfixtures.At(1, 12, 0), 30*time.Minute, []string{b})
	cancelled := testfixtures.NewBooking(eventType.ID, testfixtures.At(1, 15, 0), 30*time.Minute, []string{a},
		testfixtures.WithBookingStatus(persistence.BookingCancelled))
	nextDay := testfixtures.NewBooking(eventType.ID, testfixtures.At(2, 9, 0), time.Hour, []string{a})
	testfixtures.Seed(t, store, nextDay, noon, morning, cancelled)

	got, err := store.Bookings().GetBooking(ctx, morning.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, got.HostIDs)
	assert.True(t, got.Start.Equal(morning.Start))
	assert.True(t, got.End.Equal(morning.End))
	assert.Equal(t, persistence.BookingAccepted, got.Status)

	from, to := testfixtures.Day(1), testfixtures.Day(2)
	tests := []struct {
		name   string
		filter persistence.BookingFilter
		want   []string
	}{
		{"everything", persistence.BookingFilter{}, []string{morning.ID, noon.ID, cancelled.ID, nextDay.ID}},
		{"host a", persistence.BookingFilter{HostIDs: []string{a}}, []string{morning.ID, cancelled.ID, nextDay.ID}},
		{"range", persistence.BookingFilter{EndsAfter: &from, StartsBefore: &to}, []string{morning.ID, noon.ID, cancelled.ID}},
		{
			"accepted for host a in range",
			persistence.BookingFilter{
				HostIDs: []string{a}, EndsAfter: &from, StartsBefore: &to,
				Statuses: []persistence.BookingStatus{persistence.BookingAccepted},
			},
			[]string{morning.ID},
		},
		{"other event type", persistence.BookingFilter{EventTypeID: "other"}, nil},
	}
	for _, tt := range tests {
		bookings, err := store.Bookings().ListBookings(ctx, tt.filter)
		require.NoError(t, err, tt.name)
		var ids []string
		for _, booking := range bookings {
			ids = append(ids, booking.ID)
		}
		assert.Equal(t, tt.want, ids, tt.name)
	}

	end := morning.Start
	touching, err := store.Bookings().ListBookings(ctx, persistence.BookingFilter{StartsBefore: &end})
	require.NoError(t, err)
	assert.Empty(t, touching, "half-open ranges do not intersect at the boundary")

	later := testfixtures.ReferenceTime().Add(time.Hour)
	require.NoError(t, store.Bookings().UpdateBookingStatus(ctx, noon.ID, persistence.BookingRejected, later))
	got, err = store.Bookings().GetBooking(ctx, noon.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.BookingRejected, got.Status)
	assert.True(t, got.UpdatedAt.Equal(later))

	assert.ErrorIs(t, store.Bookings().UpdateBookingStatus(ctx, "missing", persistence.BookingCancelled, later), persistence.ErrNotFound)
	_, err = store.Bookings().GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func testBookingUniqueness(t *testing.T, store Backend) {
	ctx := context.Background()
	team, eventType := seedEventType(t, store, 2)
	a, b := team.IDs()[0], team.IDs()[1]
	start := testfixtures.At(1, 10, 0)

	first := testfixtures.NewBooking(eventType.ID, start, 30*time.Minute, []string{a})
	require.NoError(t, store.Bookings().CreateBooking(ctx, first))

	second := testfixtures.NewBooking(eventType.ID, start, 30*time.Minute, []string{b, a})
	assert.ErrorIs(t, store.Bookings().CreateBooking(ctx, second), persistence.ErrDuplicate)

	otherHost := testfixtures.NewBooking(eventType.ID, start, 30*time.Minute, []string{b})
	require.NoError(t, store.Bookings().CreateBooking(ctx, otherHost))

	require.NoError(t, store.Bookings().UpdateBookingStatus(ctx, first.ID, persistence.BookingCancelled, start))
	rebooked := testfixtures.NewBooking(eventType.ID, start, 30*time.Minute, []string{a})
	require.NoError(t, store.Bookings().CreateBooking(ctx, rebooked), "cancelled bookings release the slot")

	seatedStart := testfixtures.At(1, 14, 0)
	for i := 0; i < 3; i++ {
		seat := testfixtures.NewBooking(eventType.ID, seatedStart, 30*time.Minute, []string{a}, testfixtures.WithAttendees(2))
		require.NoError(t, store.Bookings().CreateBooking(ctx, seat), "seated bookings share a start")
	}

	orphan := testfixtures.NewBooking("missing", testfixtures.At(1, 16, 0), 30*time.Minute, []string{a})
	assert.ErrorIs(t, store.Bookings().CreateBooking(ctx, orphan), persistence.ErrConstraintViolation)
}

func testCalendarInputs(t *testing.T, store Backend) {
	ctx := context.Background()
	team := testfixtures.NewTeam(2)
	testfixtures.Seed(t, store, team.Records()...)
	a, b := team.IDs()[0], team.IDs()[1]

	vacation := persistence.OutOfOffice{
		ID: "ooo-1", UserID: a, Start: testfixtures.Day(1), End: testfixtures.Day(3),
		Reason: "vacation", CreatedAt: testfixtures.ReferenceTime(),
	}
	dentist := persistence.OutOfOffice{
		ID: "ooo-2", UserID: b, Start: testfixtures.At(5, 8, 0), End: testfixtures.At(5, 10, 0),
		CreatedAt: testfixtures.ReferenceTime(),
	}
	testfixtures.Seed(t, store, vacation, dentist)

	entries, err := store.OutOfOffice().ListOutOfOffice(ctx, []string{a, b}, testfixtures.Day(2), testfixtures.Day(5))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "vacation", entries[0].Reason)
	assert.True(t, entries[0].End.Equal(testfixtures.Day(3)))

	require.NoError(t, store.OutOfOffice().DeleteOutOfOffice(ctx, vacation.ID))
	assert.ErrorIs(t, store.OutOfOffice().DeleteOutOfOffice(ctx, vacation.ID), persistence.ErrNotFound)

	busy := persistence.BusyTime{
		ID: "busy-1", UserID: b, Start: testfixtures.At(1, 9, 0), End: testfixtures.At(1, 10, 0),
		Source: "external-calendar", ExternalID: "evt-1",
	}
	require.NoError(t, store.BusyTimes().UpsertBusyTime(ctx, busy))
	busy.End = testfixtures.At(1, 11, 0)
	require.NoError(t, store.BusyTimes().UpsertBusyTime(ctx, busy))

	times, err := store.BusyTimes().ListBusyTimes(ctx, []string{b}, testfixtures.Day(1), testfixtures.Day(2))
	require.NoError(t, err)
	require.Len(t, times, 1)
	assert.True(t, times[0].End.Equal(busy.End))
	assert.Equal(t, "evt-1", times[0].ExternalID)

	times, err = store.BusyTimes().ListBusyTimes(ctx, []string{a}, testfixtures.Day(1), testfixtures.Day(2))
	require.NoError(t, err)
	assert.Empty(t, times)
}

func testAttributes(t *testing.T, store Backend) {
	ctx := context.Background()
	team := testfixtures.NewTeam(2)
	testfixtures.Seed(t, store, team.Records()...)
	a, b := team.IDs()[0], team.IDs()[1]

	require.NoError(t, store.Attributes().ReplaceAttributes(ctx, a, map[string][]string{
		"team":      {"sales"},
		"languages": {"en", "de"},
	}))
	require.NoError(t, store.Attributes().ReplaceAttributes(ctx, a, map[string][]string{
		"team":      {"support"},
		"languages": {"en", "fr"},
	}))

	attrs, err := store.Attributes().ListAttributes(ctx, []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string][]string{
		a: {"team": {"support"}, "languages": {"en", "fr"}},
	}, attrs)

	assert.ErrorIs(t, store.Attributes().ReplaceAttributes(ctx, "ghost", nil), persistence.ErrNotFound)
}

func testRollback(t *testing.T, store Backend) {
	ctx := context.Background()
	boom := errors.New("boom")
	user := testfixtures.NewUser()

	err := store.WithinTransaction(ctx, func(ctx context.Context, tx persistence.Store) error {
		require.NoError(t, tx.Users().CreateUser(ctx, user))
		_, err := tx.Users().GetUser(ctx, user.ID)
		require.NoError(t, err, "writes are visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Users().GetUser(ctx, user.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	require.NoError(t, store.WithinTransaction(ctx, func(ctx context.Context, tx persistence.Store) error {
		return tx.Users().CreateUser(ctx, user)
	}))
	_, err = store.Users().GetUser(ctx, user.ID)
	assert.NoError(t, err)
}

// testConcurrentBooking races check-then-insert transactions for one host and
// start. Exactly one may commit.
func testConcurrentBooking(t *testing.T, store Backend) {
	ctx := context.Background()
	team, eventType := seedEventType(t, store, 1)
	host := team.IDs()[0]
	start := testfixtures.At(1, 11, 0)
	end := start.Add(30 * time.Minute)
	taken := errors.New("taken")

	const racers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		failures []error
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			booking := testfixtures.NewBooking(eventType.ID, start, 30*time.Minute, []string{host})
			err := store.WithinTransaction(ctx, func(ctx context.Context, tx persistence.Store) error {
				existing, err := tx.Bookings().ListBookings(ctx, persistence.BookingFilter{
					HostIDs:      []string{host},
					EndsAfter:    &start,
					StartsBefore: &end,
					Statuses:     []persistence.BookingStatus{persistence.BookingAccepted},
				})
				if err != nil {
					return err
				}
				if len(existing) > 0 {
					return taken
				}
				return tx.Bookings().CreateBooking(ctx, booking)
			})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	for _, err := range failures {
		assert.True(t, errors.Is(err, taken) || errors.Is(err, persistence.ErrDuplicate), "unexpected error: %v", err)
	}

	stored, err := store.Bookings().ListBookings(ctx, persistence.BookingFilter{HostIDs: []string{host}})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
