// Package limits tracks per-period booking counts and booked durations and
// reports when a day, week, month or year cap has been reached.
package limits

import "time"

// Period identifies a calendar bucket used for limits.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Periods lists the buckets from narrowest to widest.
var Periods = []Period{PeriodDay, PeriodWeek, PeriodMonth, PeriodYear}

// BookingLimits caps the number of bookings per period. Zero means unlimited.
type BookingLimits struct {
	PerDay   int
	PerWeek  int
	PerMonth int
	PerYear  int
}

// For returns the cap configured for the period.
func (l BookingLimits) For(p Period) int {
	switch p {
	case PeriodDay:
		return l.PerDay
	case PeriodWeek:
		return l.PerWeek
	case PeriodMonth:
		return l.PerMonth
	case PeriodYear:
		return l.PerYear
	default:
		return 0
	}
}

// IsZero reports whether no cap is configured.
func (l BookingLimits) IsZero() bool {
	return l.PerDay <= 0 && l.PerWeek <= 0 && l.PerMonth <= 0 && l.PerYear <= 0
}

// DurationLimits caps the total booked time per period. Zero means unlimited.
type DurationLimits struct {
	PerDay   time.Duration
	PerWeek  time.Duration
	PerMonth time.Duration
	PerYear  time.Duration
}

// For returns the cap configured for the period.
func (l DurationLimits) For(p Period) time.Duration {
	switch p {
	case PeriodDay:
		return l.PerDay
	case PeriodWeek:
		return l.PerWeek
	case PeriodMonth:
		return l.PerMonth
	case PeriodYear:
		return l.PerYear
	default:
		return 0
	}
}

// IsZero reports whether no cap is configured.
func (l DurationLimits) IsZero() bool {
	return l.PerDay <= 0 && l.PerWeek <= 0 && l.PerMonth <= 0 && l.PerYear <= 0
}

// Calendar resolves period boundaries in a timezone.
type Calendar struct {
	Location  *time.Location
	WeekStart time.Weekday
}

// NewCalendar returns a Calendar; a nil location means UTC.
func NewCalendar(loc *time.Location, weekStart time.Weekday) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{Location: loc, WeekStart: weekStart}
}

// Bounds returns the [start, end) of the period containing t.
func (c Calendar) Bounds(p Period, t time.Time) (time.Time, time.Time) {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch p {
	case PeriodWeek:
		offset := (int(day.Weekday()) - int(c.WeekStart) + 7) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case PeriodMonth:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	case PeriodYear:
		start := time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, 0)
	default:
		return day, day.AddDate(0, 0, 1)
	}
}
