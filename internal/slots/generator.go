// Package slots walks a query window at slot-interval granularity and keeps
// the ticks at which at least one host can take a booking.
package slots

import (
	"errors"
	"sort"
	"time"

	"github.com/example/availability-engine/internal/interval"
	"github.com/example/availability-engine/internal/limits"
)

var (
	// ErrInvalidDuration indicates the event duration is not positive.
	ErrInvalidDuration = errors.New("slots: duration must be positive")
	// ErrInvalidInterval indicates a negative slot interval.
	ErrInvalidInterval = errors.New("slots: interval must not be negative")
)

// Constraints are the event type rules applied to every tick.
type Constraints struct {
	Duration       time.Duration
	Interval       time.Duration
	BufferBefore   time.Duration
	BufferAfter    time.Duration
	MinimumNotice  time.Duration
	RollingWindow  time.Duration
	BookingLimits  limits.BookingLimits
	DurationLimits limits.DurationLimits
	SeatsPerSlot   int
}

// Step returns the tick spacing, defaulting to the duration.
func (c Constraints) Step() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return c.Duration
}

// Seated reports whether bookings share a slot up to SeatsPerSlot attendees.
func (c Constraints) Seated() bool {
	return c.SeatsPerSlot > 0
}

// HostAvailability is the per-request view of one host.
type HostAvailability struct {
	HostID string
	// Free holds the host's normalized working hours.
	Free *interval.Index
	// Busy holds merged bookings, external busy time and out-of-office entries.
	Busy *interval.Index
	// Usage counts the host's existing bookings for limit checks; nil disables them.
	Usage *limits.Counter
	// SeatsTaken maps a seated slot start (unix seconds) to attendees already booked.
	SeatsTaken map[int64]int
	// SeatedSpans holds the seated bookings of this event type, which are kept
	// out of Busy. A tick may overlap them only by starting where one starts.
	SeatedSpans *interval.Index
}

// Request bounds a generation pass.
type Request struct {
	From        time.Time
	To          time.Time
	Now         time.Time
	Constraints Constraints
}

// Candidate is a tick with the hosts able to take it.
type Candidate struct {
	Start     time.Time
	End       time.Time
	HostIDs   []string
	SeatsLeft map[string]int
}

// Slot is a bookable unit attributed to hosts.
type Slot struct {
	Start          time.Time
	End            time.Time
	HostIDs        []string
	SeatsRemaining int
}

// AlignStart rounds from up to the next multiple of step counted from local
// midnight in loc. Ticks then fall on the same wall-clock grid for any window
// start.
func AlignStart(from time.Time, step time.Duration, loc *time.Location) time.Time {
	if step <= 0 {
		return from
	}
	if loc == nil {
		loc = time.UTC
	}
	local := from.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	rem := from.Sub(midnight) % step
	if rem == 0 {
		return from
	}
	return from.Add(step - rem)
}

// Generate returns candidates in ascending start order. A tick is kept when
// at least one host passes every check; the whole [start, start+duration)
// span is tested even when the duration is not a multiple of the interval.
func Generate(req Request, hosts []HostAvailability) ([]Candidate, error) {
	c := req.Constraints
	if c.Duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if c.Interval < 0 {
		return nil, ErrInvalidInterval
	}
	if !req.To.After(req.From) || len(hosts) == 0 {
		return nil, nil
	}

	step := c.Step()
	earliest := req.Now.Add(c.MinimumNotice)
	var horizon time.Time
	if c.RollingWindow > 0 {
		horizon = req.Now.Add(c.RollingWindow)
	}

	ordered := make([]HostAvailability, len(hosts))
	copy(ordered, hosts)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].HostID < ordered[j].HostID })

	var out []Candidate
	for tick := req.From; tick.Before(req.To); tick = tick.Add(step) {
		if tick.Before(earliest) {
			continue
		}
		if !horizon.IsZero() && !tick.Before(horizon) {
			break
		}
		end := tick.Add(c.Duration)

		var free []string
		var seats map[string]int
		for _, host := range ordered {
			left, ok := fits(host, c, tick, end)
			if !ok {
				continue
			}
			free = append(free, host.HostID)
			if c.Seated() {
				if seats == nil {
					seats = make(map[string]int)
				}
				seats[host.HostID] = left
			}
		}
		if len(free) == 0 {
			continue
		}
		out = append(out, Candidate{Start: tick.UTC(), End: end.UTC(), HostIDs: free, SeatsLeft: seats})
	}

	return out, nil
}

// fits reports whether the host can take [start, end) and, for seated
// events, how many seats remain.
func fits(host HostAvailability, c Constraints, start, end time.Time) (int, bool) {
	if !host.Free.Contains(start, end) {
		return 0, false
	}
	from, to := start.Add(-c.BufferBefore), end.Add(c.BufferAfter)
	if host.Busy.Overlaps(from, to) {
		return 0, false
	}
	taken := 0
	if c.Seated() {
		taken = host.SeatsTaken[start.Unix()]
	}
	// Joining an existing seated slot adds no booking, so limits do not apply.
	if taken == 0 {
		if host.SeatedSpans.Overlaps(from, to) {
			return 0, false
		}
		if host.Usage != nil {
			if _, exceeded := host.Usage.Exceeded(c.BookingLimits, c.DurationLimits, start, c.Duration); exceeded {
				return 0, false
			}
		}
	}
	if !c.Seated() {
		return 0, true
	}
	left := c.SeatsPerSlot - taken
	if left <= 0 {
		return 0, false
	}
	return left, true
}
