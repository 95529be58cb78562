// Package interval merges busy time and answers overlap queries over it.
//
// Intervals are half-open: [Start, End). Merged sequences are sorted by start,
// non-overlapping and non-adjacent, which is the precondition for Index.
package interval

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Source identifies where a busy interval originated.
type Source string

const (
	// SourceBooking marks time held by an accepted booking.
	SourceBooking Source = "booking"
	// SourceExternalCalendar marks time reported busy by a connected calendar.
	SourceExternalCalendar Source = "external-calendar"
	// SourceOutOfOffice marks a host out-of-office entry.
	SourceOutOfOffice Source = "out-of-office"
	// SourceAvailability marks free time produced by schedule normalization.
	SourceAvailability Source = "availability"
)

// ErrInvalidInterval is matched by every InvalidIntervalError.
var ErrInvalidInterval = errors.New("interval: start is after end")

// InvalidIntervalError reports a malformed input interval and its position.
type InvalidIntervalError struct {
	Index    int
	Interval Interval
}

func (e *InvalidIntervalError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("interval: input %d has start %s after end %s",
		e.Index,
		e.Interval.Start.UTC().Format(time.RFC3339),
		e.Interval.End.UTC().Format(time.RFC3339))
}

func (e *InvalidIntervalError) Unwrap() error { return ErrInvalidInterval }

// Interval is a half-open span of time.
type Interval struct {
	Start  time.Time
	End    time.Time
	Source Source
}

// New returns an interval or an InvalidIntervalError when start is after end.
func New(start, end time.Time, source Source) (Interval, error) {
	iv := Interval{Start: start, End: end, Source: source}
	if start.After(end) {
		return Interval{}, &InvalidIntervalError{Index: 0, Interval: iv}
	}
	return iv, nil
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Empty reports whether the interval covers no time.
func (i Interval) Empty() bool {
	return !i.End.After(i.Start)
}

// Overlaps reports whether the two half-open intervals share any instant.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Covers reports whether [start, end) lies entirely inside the interval.
func (i Interval) Covers(start, end time.Time) bool {
	return !start.Before(i.Start) && !end.After(i.End)
}

// Merge returns the minimal sorted, non-overlapping sequence covering the
// same time as the input. Intervals that touch are coalesced and zero-length
// intervals are dropped. The merged run keeps the source of its earliest member.
func Merge(intervals []Interval) ([]Interval, error) {
	if len(intervals) == 0 {
		return nil, nil
	}

	sorted := make([]Interval, 0, len(intervals))
	for idx, iv := range intervals {
		if iv.Start.After(iv.End) {
			return nil, &InvalidIntervalError{Index: idx, Interval: iv}
		}
		if iv.Empty() {
			continue
		}
		sorted = append(sorted, Interval{Start: iv.Start.UTC(), End: iv.End.UTC(), Source: iv.Source})
	}
	if len(sorted) == 0 {
		return nil, nil
	}

	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].Start.Equal(sorted[b].Start) {
			return sorted[a].End.Before(sorted[b].End)
		}
		return sorted[a].Start.Before(sorted[b].Start)
	})

	merged := make([]Interval, 0, len(sorted))
	current := sorted[0]
	for _, iv := range sorted[1:] {
		if !iv.Start.After(current.End) {
			if iv.End.After(current.End) {
				current.End = iv.End
			}
			continue
		}
		merged = append(merged, current)
		current = iv
	}
	merged = append(merged, current)

	return merged, nil
}

// Clip restricts sorted intervals to [from, to), dropping those outside it.
func Clip(intervals []Interval, from, to time.Time) []Interval {
	if len(intervals) == 0 || !to.After(from) {
		return nil
	}
	out := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if !iv.End.After(from) || !iv.Start.Before(to) {
			continue
		}
		if iv.Start.Before(from) {
			iv.Start = from
		}
		if iv.End.After(to) {
			iv.End = to
		}
		out = append(out, iv)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
