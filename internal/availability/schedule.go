package availability

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the exclusive upper bound of a wall-clock day; a range may
// end at exactly MinutesPerDay to mean midnight of the following day.
const MinutesPerDay = 24 * 60

// ClockTime is a wall-clock time of day expressed in minutes after midnight.
type ClockTime int

// ErrInvalidClock indicates a wall-clock string could not be parsed.
var ErrInvalidClock = errors.New("availability: invalid clock time")

// ParseClock parses "HH:MM". "24:00" is accepted as end of day.
func ParseClock(value string) (ClockTime, error) {
	value = strings.TrimSpace(value)
	hh, mm, ok := strings.Cut(value, ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	if hour == 24 && minute != 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	return ClockTime(hour*60 + minute), nil
}

// MustClock is ParseClock for literals known to be valid.
func MustClock(value string) ClockTime {
	c, err := ParseClock(value)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the clock as "HH:MM".
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Valid reports whether the clock lies within [00:00, 24:00].
func (c ClockTime) Valid() bool {
	return c >= 0 && c <= MinutesPerDay
}

// ClockRange is a wall-clock range within a single day.
type ClockRange struct {
	Start ClockTime
	End   ClockTime
}

// Rule makes the given weekdays available between Start and End.
type Rule struct {
	Days  []time.Weekday
	Start ClockTime
	End   ClockTime
}

// Override replaces the weekly rules for one calendar date. An override with
// no ranges marks the whole date unavailable.
type Override struct {
	Date   time.Time
	Ranges []ClockRange
}

// Schedule is a host's working-hours definition.
type Schedule struct {
	ID        string
	OwnerID   string
	Name      string
	Timezone  string
	Rules     []Rule
	Overrides []Override
}

// ErrInvalidSchedule is matched by every InvalidScheduleError.
var ErrInvalidSchedule = errors.New("availability: invalid schedule")

// InvalidScheduleError reports a schedule that cannot be normalized.
type InvalidScheduleError struct {
	ScheduleID string
	Date       string
	Reason     string
}

func (e *InvalidScheduleError) Error() string {
	if e == nil {
		return ""
	}
	if e.Date == "" {
		return fmt.Sprintf("availability: schedule %q: %s", e.ScheduleID, e.Reason)
	}
	return fmt.Sprintf("availability: schedule %q on %s: %s", e.ScheduleID, e.Date, e.Reason)
}

func (e *InvalidScheduleError) Unwrap() error { return ErrInvalidSchedule }
