// Package testfixtures builds deterministic records, clocks and stores for
// tests across the module.
package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/availability-engine/internal/persistence"
)

var (
	userCounter      uint64
	scheduleCounter  uint64
	eventTypeCounter uint64
	bookingCounter   uint64
)

// referenceTime is a Monday so week-based limits start on a known day.
var referenceTime = time.Date(2024, time.June, 3, 6, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Day returns midnight UTC of the reference week's day offset by n days.
func Day(n int) time.Time {
	y, m, d := referenceTime.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, time.UTC)
}

// At returns the instant hh:mm UTC on Day(n).
func At(n, hh, mm int) time.Time {
	return Day(n).Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

// ----------------------------- Users -----------------------------

// UserOption configures a generated user.
type UserOption func(*persistence.User)

// NewUser returns a deterministic user.
func NewUser(opts ...UserOption) persistence.User {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	created := referenceTime.Add(-time.Duration(idx) * time.Minute)
	user := persistence.User{
		ID:          id,
		Email:       id + "@example.com",
		DisplayName: fmt.Sprintf("User %03d", idx),
		Timezone:    "UTC",
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	for _, opt := range opts {
		opt(&user)
	}
	return user
}

// WithUserID overrides the generated user ID and email.
func WithUserID(id string) UserOption {
	return func(u *persistence.User) {
		u.ID = id
		u.Email = id + "@example.com"
	}
}

// WithUserTimezone sets the user's timezone.
func WithUserTimezone(tz string) UserOption {
	return func(u *persistence.User) { u.Timezone = tz }
}

// WithDefaultSchedule links the user to a schedule.
func WithDefaultSchedule(id string) UserOption {
	return func(u *persistence.User) { u.DefaultScheduleID = id }
}

// ----------------------------- Schedules -----------------------------

// ScheduleOption configures a generated schedule.
type ScheduleOption func(*persistence.Schedule)

// Weekdays are Monday through Friday.
var Weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// EveryDay lists all seven weekdays.
var EveryDay = []time.Weekday{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
}

// NewSchedule returns a UTC 09:00-17:00 schedule on weekdays owned by ownerID.
func NewSchedule(ownerID string, opts ...ScheduleOption) persistence.Schedule {
	idx := atomic.AddUint64(&scheduleCounter, 1)
	schedule := persistence.Schedule{
		ID:       fmt.Sprintf("schedule-%03d", idx),
		OwnerID:  ownerID,
		Name:     "Working hours",
		Timezone: "UTC",
		Rules: []persistence.ScheduleRule{
			{Weekdays: Weekdays, StartMinute: 9 * 60, EndMinute: 17 * 60},
		},
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&schedule)
	}
	return schedule
}

// WithScheduleID overrides the generated schedule ID.
func WithScheduleID(id string) ScheduleOption {
	return func(s *persistence.Schedule) { s.ID = id }
}

// WithScheduleTimezone sets the schedule's timezone.
func WithScheduleTimezone(tz string) ScheduleOption {
	return func(s *persistence.Schedule) { s.Timezone = tz }
}

// WithRules replaces the weekly rules.
func WithRules(rules ...persistence.ScheduleRule) ScheduleOption {
	return func(s *persistence.Schedule) { s.Rules = rules }
}

// WithOverride adds a date override. No ranges blocks the whole date.
func WithOverride(date time.Time, ranges ...persistence.MinuteRange) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.Overrides = append(s.Overrides, persistence.ScheduleOverride{Date: date, Ranges: ranges})
	}
}

// Hours builds a rule for the given days from whole hours.
func Hours(days []time.Weekday, from, to int) persistence.ScheduleRule {
	return persistence.ScheduleRule{Weekdays: days, StartMinute: from * 60, EndMinute: to * 60}
}

// ----------------------------- Event types -----------------------------

// EventTypeOption configures a generated event type.
type EventTypeOption func(*persistence.EventType)

// NewEventType returns a 30 minute collective event type with the given hosts.
func NewEventType(hosts []persistence.EventTypeHost, opts ...EventTypeOption) persistence.EventType {
	idx := atomic.AddUint64(&eventTypeCounter, 1)
	eventType := persistence.EventType{
		ID:             fmt.Sprintf("event-type-%03d", idx),
		Slug:           fmt.Sprintf("meeting-%03d", idx),
		Title:          fmt.Sprintf("Meeting %03d", idx),
		SchedulingType: "COLLECTIVE",
		Duration:       30 * time.Minute,
		WeekStart:      time.Monday,
		Timezone:       "UTC",
		Hosts:          hosts,
		CreatedAt:      referenceTime,
		UpdatedAt:      referenceTime,
	}
	for _, opt := range opts {
		opt(&eventType)
	}
	return eventType
}

// Host links a user and schedule to an event type.
func Host(userID, scheduleID string) persistence.EventTypeHost {
	return persistence.EventTypeHost{UserID: userID, ScheduleID: scheduleID, Weight: 100}
}

// WithEventTypeID overrides the generated event type ID.
func WithEventTypeID(id string) EventTypeOption {
	return func(e *persistence.EventType) { e.ID = id }
}

// WithSchedulingType sets COLLECTIVE, ROUND_ROBIN or MANAGED.
func WithSchedulingType(kind string) EventTypeOption {
	return func(e *persistence.EventType) { e.SchedulingType = kind }
}

// WithDuration sets the event length and, when positive, the slot interval.
func WithDuration(duration, interval time.Duration) EventTypeOption {
	return func(e *persistence.EventType) {
		e.Duration = duration
		e.SlotInterval = interval
	}
}

// WithBuffers sets the buffers around each booking.
func WithBuffers(before, after time.Duration) EventTypeOption {
	return func(e *persistence.EventType) {
		e.BufferBefore = before
		e.BufferAfter = after
	}
}

// WithMinimumNotice sets the minimum lead time.
func WithMinimumNotice(d time.Duration) EventTypeOption {
	return func(e *persistence.EventType) { e.MinimumNotice = d }
}

// WithSeats makes the event type seated.
func WithSeats(seats int) EventTypeOption {
	return func(e *persistence.EventType) { e.SeatsPerSlot = seats }
}

// WithDailyLimit caps bookings per host and day.
func WithDailyLimit(n int) EventTypeOption {
	return func(e *persistence.EventType) { e.LimitPerDay = n }
}

// WithWeights enables weighted round-robin.
func WithWeights() EventTypeOption {
	return func(e *persistence.EventType) { e.WeightsEnabled = true }
}

// WithSegment attaches a JSON attribute query.
func WithSegment(query string) EventTypeOption {
	return func(e *persistence.EventType) { e.Segment = []byte(query) }
}

// ----------------------------- Bookings -----------------------------

// BookingOption configures a generated booking.
type BookingOption func(*persistence.Booking)

// NewBooking returns an accepted booking of the event type.
func NewBooking(eventTypeID string, start time.Time, duration time.Duration, hostIDs []string, opts ...BookingOption) persistence.Booking {
	idx := atomic.AddUint64(&bookingCounter, 1)
	booking := persistence.Booking{
		ID:          fmt.Sprintf("booking-%03d", idx),
		EventTypeID: eventTypeID,
		HostIDs:     hostIDs,
		Start:       start,
		End:         start.Add(duration),
		Attendees:   1,
		Status:      persistence.BookingAccepted,
		CreatedAt:   referenceTime,
		UpdatedAt:   referenceTime,
	}
	for _, opt := range opts {
		opt(&booking)
	}
	return booking
}

// WithBookingStatus sets the booking status.
func WithBookingStatus(status persistence.BookingStatus) BookingOption {
	return func(b *persistence.Booking) { b.Status = status }
}

// WithAttendees marks the booking seated with n attendees.
func WithAttendees(n int) BookingOption {
	return func(b *persistence.Booking) {
		b.Attendees = n
		b.Seated = true
	}
}

// ----------------------------- Seeding -----------------------------

// Seed writes records to store in order, failing the test on the first error.
// Supported records are users, schedules, event types, bookings, out-of-office
// entries, busy times and Attributes.
func Seed(tb testing.TB, store persistence.Store, records ...any) {
	tb.Helper()
	ctx := context.Background()
	for _, record := range records {
		var err error
		switch r := record.(type) {
		case persistence.User:
			err = store.Users().CreateUser(ctx, r)
		case persistence.Schedule:
			err = store.Schedules().CreateSchedule(ctx, r)
		case persistence.EventType:
			err = store.EventTypes().CreateEventType(ctx, r)
		case persistence.Booking:
			err = store.Bookings().CreateBooking(ctx, r)
		case persistence.OutOfOffice:
			err = store.OutOfOffice().CreateOutOfOffice(ctx, r)
		case persistence.BusyTime:
			err = store.BusyTimes().UpsertBusyTime(ctx, r)
		case Attributes:
			err = store.Attributes().ReplaceAttributes(ctx, r.UserID, r.Values)
		default:
			tb.Fatalf("testfixtures: cannot seed %T", record)
		}
		if err != nil {
			tb.Fatalf("testfixtures: seed %T: %v", record, err)
		}
	}
}

// Attributes is a seedable attribute map for one user.
type Attributes struct {
	UserID string
	Values map[string][]string
}

// Team is a set of hosts each with a default weekday schedule.
type Team struct {
	Users     []persistence.User
	Schedules []persistence.Schedule
}

// NewTeam builds n users with 09:00-17:00 UTC weekday schedules.
func NewTeam(n int, opts ...ScheduleOption) Team {
	var team Team
	for i := 0; i < n; i++ {
		user := NewUser()
		schedule := NewSchedule(user.ID, opts...)
		user.DefaultScheduleID = schedule.ID
		team.Users = append(team.Users, user)
		team.Schedules = append(team.Schedules, schedule)
	}
	return team
}

// Hosts returns one event type host per team member.
func (t Team) Hosts() []persistence.EventTypeHost {
	hosts := make([]persistence.EventTypeHost, len(t.Users))
	for i, u := range t.Users {
		hosts[i] = Host(u.ID, t.Schedules[i].ID)
	}
	return hosts
}

// IDs returns the team's user IDs.
func (t Team) IDs() []string {
	ids := make([]string, len(t.Users))
	for i, u := range t.Users {
		ids[i] = u.ID
	}
	return ids
}

// Records lists users then schedules for Seed.
func (t Team) Records() []any {
	records := make([]any, 0, len(t.Users)*2)
	for _, u := range t.Users {
		records = append(records, u)
	}
	for _, s := range t.Schedules {
		records = append(records, s)
	}
	return records
}
