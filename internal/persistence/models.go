package persistence

import "time"

// User is a person who can host bookings.
type User struct {
	ID                string
	Email             string
	DisplayName       string
	Timezone          string
	DefaultScheduleID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ScheduleRule is one weekly working-hours rule in minutes of the day.
type ScheduleRule struct {
	Weekdays    []time.Weekday
	StartMinute int
	EndMinute   int
}

// MinuteRange is a wall-clock range in minutes of the day.
type MinuteRange struct {
	StartMinute int
	EndMinute   int
}

// ScheduleOverride replaces the weekly rules for one civil date. No ranges
// means the owner is unavailable all day.
type ScheduleOverride struct {
	Date   time.Time
	Ranges []MinuteRange
}

// Schedule is a named set of working hours owned by a user.
type Schedule struct {
	ID        string
	OwnerID   string
	Name      string
	Timezone  string
	Rules     []ScheduleRule
	Overrides []ScheduleOverride
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventTypeHost links a user to an event type.
type EventTypeHost struct {
	UserID     string
	IsFixed    bool
	Priority   int
	Weight     int
	GroupID    string
	ScheduleID string
}

// EventType is a bookable meeting definition.
type EventType struct {
	ID                 string
	Slug               string
	Title              string
	SchedulingType     string
	Duration           time.Duration
	SlotInterval       time.Duration
	BufferBefore       time.Duration
	BufferAfter        time.Duration
	MinimumNotice      time.Duration
	SeatsPerSlot       int
	RollingWindowDays  int
	WeekStart          time.Weekday
	Timezone           string
	WeightsEnabled     bool
	Segment            []byte
	LimitPerDay        int
	LimitPerWeek       int
	LimitPerMonth      int
	LimitPerYear       int
	DurationLimitDay   time.Duration
	DurationLimitWeek  time.Duration
	DurationLimitMonth time.Duration
	DurationLimitYear  time.Duration
	Hosts              []EventTypeHost
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// BookingStatus is the lifecycle state of a stored booking.
type BookingStatus string

const (
	BookingAccepted  BookingStatus = "accepted"
	BookingCancelled BookingStatus = "cancelled"
	BookingRejected  BookingStatus = "rejected"
)

// Blocks reports whether a booking in this status occupies its hosts.
func (s BookingStatus) Blocks() bool {
	return s == BookingAccepted
}

// Booking is a reservation of hosts for a time span.
type Booking struct {
	ID          string
	EventTypeID string
	HostIDs     []string
	Start       time.Time
	End         time.Time
	Attendees   int
	Seated      bool
	Status      BookingStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OutOfOffice blocks a user for a span regardless of working hours.
type OutOfOffice struct {
	ID        string
	UserID    string
	Start     time.Time
	End       time.Time
	Reason    string
	CreatedAt time.Time
}

// BusyTime is busy time imported from an external calendar.
type BusyTime struct {
	ID         string
	UserID     string
	Start      time.Time
	End        time.Time
	Source     string
	ExternalID string
}
