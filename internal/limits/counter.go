package limits

import "time"

// Entry is one existing booking counted against limits.
type Entry struct {
	Start    time.Time
	Duration time.Duration
}

type bucket struct {
	period Period
	start  int64
}

// Counter aggregates existing bookings into period buckets. It is not safe
// for concurrent mutation; build one per request.
type Counter struct {
	calendar Calendar
	counts   map[bucket]int
	booked   map[bucket]time.Duration
}

// NewCounter indexes the entries by every period.
func NewCounter(calendar Calendar, entries []Entry) *Counter {
	c := &Counter{
		calendar: calendar,
		counts:   make(map[bucket]int),
		booked:   make(map[bucket]time.Duration),
	}
	for _, e := range entries {
		c.Add(e)
	}
	return c
}

// Add records one more booking.
func (c *Counter) Add(e Entry) {
	for _, p := range Periods {
		key := c.key(p, e.Start)
		c.counts[key]++
		c.booked[key] += e.Duration
	}
}

// Count returns the number of bookings in the period containing t.
func (c *Counter) Count(p Period, t time.Time) int {
	if c == nil {
		return 0
	}
	return c.counts[c.key(p, t)]
}

// Booked returns the booked duration in the period containing t.
func (c *Counter) Booked(p Period, t time.Time) time.Duration {
	if c == nil {
		return 0
	}
	return c.booked[c.key(p, t)]
}

// Exceeded reports the first period whose cap would be broken by adding a
// booking of the given duration at t.
func (c *Counter) Exceeded(bookings BookingLimits, durations DurationLimits, t time.Time, duration time.Duration) (Period, bool) {
	for _, p := range Periods {
		if limit := bookings.For(p); limit > 0 && c.Count(p, t) >= limit {
			return p, true
		}
		if limit := durations.For(p); limit > 0 && c.Booked(p, t)+duration > limit {
			return p, true
		}
	}
	return "", false
}

func (c *Counter) key(p Period, t time.Time) bucket {
	start, _ := c.calendar.Bounds(p, t)
	return bucket{period: p, start: start.Unix()}
}
