package application

import (
	"context"
	"fmt"
	"time"

	"github.com/example/availability-engine/internal/assignment"
	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/interval"
	"github.com/example/availability-engine/internal/limits"
	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/segment"
	"github.com/example/availability-engine/internal/slots"
)

// eventPlan is an event type resolved into engine inputs.
type eventPlan struct {
	eventTypeID    string
	kind           assignment.SchedulingType
	hosts          []assignment.Host
	schedules      map[string]string
	constraints    slots.Constraints
	location       *time.Location
	calendar       limits.Calendar
	weightsEnabled bool
	segment        *segment.Node
	// segmentErr is set when the stored query cannot be parsed.
	segmentErr error
}

func planFromEventType(et persistence.EventType) (eventPlan, error) {
	loc, err := loadLocation(et.Timezone)
	if err != nil {
		return eventPlan{}, fmt.Errorf("application: event type %s: %w", et.ID, err)
	}

	plan := eventPlan{
		eventTypeID: et.ID,
		kind:        assignment.SchedulingType(et.SchedulingType),
		schedules:   make(map[string]string, len(et.Hosts)),
		constraints: slots.Constraints{
			Duration:      et.Duration,
			Interval:      et.SlotInterval,
			BufferBefore:  et.BufferBefore,
			BufferAfter:   et.BufferAfter,
			MinimumNotice: et.MinimumNotice,
			RollingWindow: time.Duration(et.RollingWindowDays) * 24 * time.Hour,
			BookingLimits: limits.BookingLimits{
				PerDay: et.LimitPerDay, PerWeek: et.LimitPerWeek, PerMonth: et.LimitPerMonth, PerYear: et.LimitPerYear,
			},
			DurationLimits: limits.DurationLimits{
				PerDay: et.DurationLimitDay, PerWeek: et.DurationLimitWeek, PerMonth: et.DurationLimitMonth, PerYear: et.DurationLimitYear,
			},
			SeatsPerSlot: et.SeatsPerSlot,
		},
		location:       loc,
		calendar:       limits.NewCalendar(loc, et.WeekStart),
		weightsEnabled: et.WeightsEnabled,
	}
	for _, h := range et.Hosts {
		plan.hosts = append(plan.hosts, assignment.Host{
			UserID:   h.UserID,
			IsFixed:  h.IsFixed,
			Priority: h.Priority,
			Weight:   h.Weight,
			GroupID:  h.GroupID,
		})
		plan.schedules[h.UserID] = h.ScheduleID
	}
	if len(et.Segment) > 0 {
		node, err := segment.Parse(et.Segment)
		if err != nil {
			plan.segmentErr = err
		} else {
			plan.segment = &node
		}
	}
	return plan, nil
}

func planFromQuery(q SlotQuery) (eventPlan, error) {
	loc, err := loadLocation(q.Timezone)
	if err != nil {
		return eventPlan{}, err
	}
	kind := q.SchedulingType
	if kind == "" {
		kind = assignment.Collective
	}
	plan := eventPlan{
		kind:        kind,
		schedules:   make(map[string]string, len(q.Hosts)),
		constraints: q.Constraints,
		location:    loc,
		calendar:    limits.NewCalendar(loc, time.Monday),
		segment:     q.Segment,
	}
	for _, h := range q.Hosts {
		plan.hosts = append(plan.hosts, assignment.Host{
			UserID:   h.UserID,
			IsFixed:  h.IsFixed,
			Priority: h.Priority,
			Weight:   h.Weight,
			GroupID:  h.GroupID,
		})
		plan.schedules[h.UserID] = h.ScheduleID
	}
	return plan, nil
}

func (p eventPlan) hostIDs() []string {
	ids := make([]string, len(p.hosts))
	for i, h := range p.hosts {
		ids[i] = h.UserID
	}
	return ids
}

func (p eventPlan) rotatingHostIDs() []string {
	var ids []string
	for _, h := range p.hosts {
		if !h.IsFixed {
			ids = append(ids, h.UserID)
		}
	}
	return ids
}

func (p eventPlan) hasLimits() bool {
	return !p.constraints.BookingLimits.IsZero() || !p.constraints.DurationLimits.IsZero()
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &ValidationError{FieldErrors: map[string]string{"timezone": "unknown timezone " + name}}
	}
	return loc, nil
}

// hostData is everything stored about one host within a load window.
type hostData struct {
	userID   string
	schedule *availability.Schedule
	bookings []persistence.Booking
	busy     []persistence.BusyTime
	away     []persistence.OutOfOffice
}

// loadHost reads one host's schedule and calendar inputs intersecting [from, to).
// Only accepted bookings are loaded.
func loadHost(ctx context.Context, store persistence.Store, userID, scheduleID string, from, to time.Time) (hostData, error) {
	data := hostData{userID: userID}

	user, err := store.Users().GetUser(ctx, userID)
	if err != nil {
		return data, mapStoreError(err, "load host "+userID)
	}
	schedule, err := resolveSchedule(ctx, store, user, scheduleID)
	if err != nil {
		return data, err
	}
	data.schedule = schedule

	data.bookings, err = store.Bookings().ListBookings(ctx, persistence.BookingFilter{
		HostIDs:      []string{userID},
		EndsAfter:    &from,
		StartsBefore: &to,
		Statuses:     []persistence.BookingStatus{persistence.BookingAccepted},
	})
	if err != nil {
		return data, mapStoreError(err, "load bookings of "+userID)
	}
	data.busy, err = store.BusyTimes().ListBusyTimes(ctx, []string{userID}, from, to)
	if err != nil {
		return data, mapStoreError(err, "load busy times of "+userID)
	}
	data.away, err = store.OutOfOffice().ListOutOfOffice(ctx, []string{userID}, from, to)
	if err != nil {
		return data, mapStoreError(err, "load out of office of "+userID)
	}
	return data, nil
}

// resolveSchedule picks the host's schedule for an event type: the explicit
// one, then the user's default, then the first the user owns.
func resolveSchedule(ctx context.Context, store persistence.Store, user persistence.User, scheduleID string) (*availability.Schedule, error) {
	if scheduleID == "" {
		scheduleID = user.DefaultScheduleID
	}
	if scheduleID == "" {
		owned, err := store.Schedules().ListSchedulesByOwner(ctx, user.ID)
		if err != nil {
			return nil, mapStoreError(err, "list schedules of "+user.ID)
		}
		if len(owned) == 0 {
			return nil, nil
		}
		converted := toAvailabilitySchedule(owned[0], user.Timezone)
		return &converted, nil
	}
	schedule, err := store.Schedules().GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, mapStoreError(err, "load schedule "+scheduleID)
	}
	converted := toAvailabilitySchedule(schedule, user.Timezone)
	return &converted, nil
}

func toAvailabilitySchedule(s persistence.Schedule, fallbackTZ string) availability.Schedule {
	out := availability.Schedule{
		ID:       s.ID,
		OwnerID:  s.OwnerID,
		Name:     s.Name,
		Timezone: s.Timezone,
	}
	if out.Timezone == "" {
		out.Timezone = fallbackTZ
	}
	for _, r := range s.Rules {
		out.Rules = append(out.Rules, availability.Rule{
			Days:  append([]time.Weekday(nil), r.Weekdays...),
			Start: availability.ClockTime(r.StartMinute),
			End:   availability.ClockTime(r.EndMinute),
		})
	}
	for _, o := range s.Overrides {
		override := availability.Override{Date: o.Date}
		for _, r := range o.Ranges {
			override.Ranges = append(override.Ranges, availability.ClockRange{
				Start: availability.ClockTime(r.StartMinute),
				End:   availability.ClockTime(r.EndMinute),
			})
		}
		out.Overrides = append(out.Overrides, override)
	}
	return out
}

// blocking returns the busy intervals of the host. Seated bookings of
// seatedEventTypeID are left out and returned separately; pass "" when the
// event type is not seated.
func (d hostData) blocking(seatedEventTypeID string) (busy, seated []interval.Interval) {
	for _, b := range d.bookings {
		iv := interval.Interval{Start: b.Start, End: b.End, Source: interval.SourceBooking}
		if seatedEventTypeID != "" && b.Seated && b.EventTypeID == seatedEventTypeID {
			seated = append(seated, iv)
			continue
		}
		busy = append(busy, iv)
	}
	for _, b := range d.busy {
		busy = append(busy, interval.Interval{Start: b.Start, End: b.End, Source: interval.SourceExternalCalendar})
	}
	for _, o := range d.away {
		busy = append(busy, interval.Interval{Start: o.Start, End: o.End, Source: interval.SourceOutOfOffice})
	}
	return busy, seated
}

// seatsTaken sums attendees of the event type's seated bookings per start.
func (d hostData) seatsTaken(eventTypeID string) map[int64]int {
	taken := make(map[int64]int)
	for _, b := range d.bookings {
		if b.Seated && b.EventTypeID == eventTypeID {
			taken[b.Start.Unix()] += attendeesOf(b)
		}
	}
	return taken
}

// countsToward reports whether b counts against the limits and round-robin
// fairness of eventTypeID. Ad hoc queries have no event type and count every
// accepted booking of the host.
func countsToward(b persistence.Booking, eventTypeID string) bool {
	return eventTypeID == "" || b.EventTypeID == eventTypeID
}

// usage lists the bookings counted against limits. Seated bookings sharing a
// start count once.
func (d hostData) usage(eventTypeID string) []limits.Entry {
	var entries []limits.Entry
	seen := make(map[int64]bool)
	for _, b := range d.bookings {
		if !countsToward(b, eventTypeID) {
			continue
		}
		if b.Seated {
			if seen[b.Start.Unix()] {
				continue
			}
			seen[b.Start.Unix()] = true
		}
		entries = append(entries, limits.Entry{Start: b.Start, Duration: b.End.Sub(b.Start)})
	}
	return entries
}

// countBetween counts the bookings starting in [from, to) that count toward
// eventTypeID.
func (d hostData) countBetween(eventTypeID string, from, to time.Time) int {
	n := 0
	for _, b := range d.bookings {
		if countsToward(b, eventTypeID) && !b.Start.Before(from) && b.Start.Before(to) {
			n++
		}
	}
	return n
}

func attendeesOf(b persistence.Booking) int {
	if b.Attendees <= 0 {
		return 1
	}
	return b.Attendees
}

func earliest(times ...time.Time) time.Time {
	out := times[0]
	for _, t := range times[1:] {
		if t.Before(out) {
			out = t
		}
	}
	return out
}

func latest(times ...time.Time) time.Time {
	out := times[0]
	for _, t := range times[1:] {
		if t.After(out) {
			out = t
		}
	}
	return out
}
