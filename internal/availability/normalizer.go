// Package availability expands weekly working hours and date overrides into
// concrete free intervals in UTC.
package availability

import (
	"sort"
	"time"

	"github.com/example/availability-engine/internal/interval"
)

const dateLayout = "2006-01-02"

// Day holds the free intervals of one local calendar date.
type Day struct {
	Date time.Time
	Free []interval.Interval
}

// Normalizer resolves schedules to UTC free time.
type Normalizer struct {
	location *time.Location
}

// NewNormalizer returns a Normalizer that falls back to loc for schedules
// without a timezone. If loc is nil, UTC is used.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{location: loc}
}

// Normalize expands the schedule across every local date touching [from, to)
// and returns one Day per date that has free time, clipped to the range.
//
// Semantics:
//   - Wall-clock ranges are resolved in the schedule timezone on each date, so a
//     09:00-17:00 rule stays 09:00-17:00 local across DST transitions.
//   - An override for a date replaces every weekly rule for that date.
//   - Ranges with start >= end, or ranges overlapping within a date, fail with
//     InvalidScheduleError.
func (n *Normalizer) Normalize(schedule Schedule, from, to time.Time) ([]Day, error) {
	loc, err := n.resolveLocation(schedule)
	if err != nil {
		return nil, err
	}
	if err := validateRules(schedule); err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, nil
	}

	overrides := indexOverrides(schedule.Overrides, loc)
	byWeekday := indexRules(schedule.Rules)

	first := dateOf(from.In(loc), loc)
	last := dateOf(to.In(loc), loc)

	days := make([]Day, 0)
	for current := first; !current.After(last); current = nextDate(current, loc) {
		key := current.Format(dateLayout)

		ranges, overridden := overrides[key]
		if !overridden {
			ranges = byWeekday[current.Weekday()]
		}
		if len(ranges) == 0 {
			continue
		}

		free, err := resolveDay(schedule.ID, current, ranges, loc)
		if err != nil {
			return nil, err
		}
		free = interval.Clip(free, from.UTC(), to.UTC())
		if len(free) == 0 {
			continue
		}
		days = append(days, Day{Date: current, Free: free})
	}

	return days, nil
}

// FreeIntervals normalizes and flattens the schedule into one merged sequence,
// joining ranges that continue across midnight.
func (n *Normalizer) FreeIntervals(schedule Schedule, from, to time.Time) ([]interval.Interval, error) {
	days, err := n.Normalize(schedule, from, to)
	if err != nil {
		return nil, err
	}
	var all []interval.Interval
	for _, day := range days {
		all = append(all, day.Free...)
	}
	return interval.Merge(all)
}

// Location returns the timezone the schedule resolves in.
func (n *Normalizer) Location(schedule Schedule) (*time.Location, error) {
	return n.resolveLocation(schedule)
}

func (n *Normalizer) resolveLocation(schedule Schedule) (*time.Location, error) {
	if schedule.Timezone == "" {
		if n == nil || n.location == nil {
			return time.UTC, nil
		}
		return n.location, nil
	}
	loc, err := time.LoadLocation(schedule.Timezone)
	if err != nil {
		return nil, &InvalidScheduleError{ScheduleID: schedule.ID, Reason: "unknown timezone " + schedule.Timezone}
	}
	return loc, nil
}

func validateRules(schedule Schedule) error {
	for _, rule := range schedule.Rules {
		if err := validateRange(schedule.ID, "", ClockRange{Start: rule.Start, End: rule.End}); err != nil {
			return err
		}
	}
	for _, override := range schedule.Overrides {
		if override.Date.IsZero() {
			return &InvalidScheduleError{ScheduleID: schedule.ID, Reason: "override date is required"}
		}
		for _, r := range override.Ranges {
			if err := validateRange(schedule.ID, override.Date.Format(dateLayout), r); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateRange(scheduleID, date string, r ClockRange) error {
	if !r.Start.Valid() || !r.End.Valid() {
		return &InvalidScheduleError{ScheduleID: scheduleID, Date: date, Reason: "time outside 00:00-24:00"}
	}
	if r.Start >= r.End {
		return &InvalidScheduleError{ScheduleID: scheduleID, Date: date, Reason: "start " + r.Start.String() + " is not before end " + r.End.String()}
	}
	return nil
}

func indexRules(rules []Rule) map[time.Weekday][]ClockRange {
	out := make(map[time.Weekday][]ClockRange, 7)
	for _, rule := range rules {
		for _, day := range rule.Days {
			out[day] = append(out[day], ClockRange{Start: rule.Start, End: rule.End})
		}
	}
	return out
}

// indexOverrides keys overrides by civil date. The override Date is read as a
// calendar date: its own Y/M/D fields are used regardless of location.
func indexOverrides(overrides []Override, loc *time.Location) map[string][]ClockRange {
	out := make(map[string][]ClockRange, len(overrides))
	for _, override := range overrides {
		y, m, d := override.Date.Date()
		key := time.Date(y, m, d, 0, 0, 0, 0, loc).Format(dateLayout)
		existing, ok := out[key]
		if !ok {
			existing = make([]ClockRange, 0, len(override.Ranges))
		}
		out[key] = append(existing, override.Ranges...)
	}
	return out
}

func resolveDay(scheduleID string, date time.Time, ranges []ClockRange, loc *time.Location) ([]interval.Interval, error) {
	sorted := make([]ClockRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].End {
			return nil, &InvalidScheduleError{
				ScheduleID: scheduleID,
				Date:       date.Format(dateLayout),
				Reason:     "ranges " + sorted[i-1].Start.String() + "-" + sorted[i-1].End.String() + " and " + sorted[i].Start.String() + "-" + sorted[i].End.String() + " overlap",
			}
		}
	}

	free := make([]interval.Interval, 0, len(sorted))
	for _, r := range sorted {
		start := combineDateClock(date, r.Start, loc)
		end := combineDateClock(date, r.End, loc)
		if !end.After(start) {
			// Range collapsed inside a DST gap.
			continue
		}
		free = append(free, interval.Interval{Start: start.UTC(), End: end.UTC(), Source: interval.SourceAvailability})
	}
	return interval.Merge(free)
}

func combineDateClock(date time.Time, clock ClockTime, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, int(clock), 0, 0, loc)
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func nextDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
