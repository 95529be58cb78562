package persistence

import (
	"context"
	"time"
)

// UserRepository stores hosts.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// ScheduleRepository stores working-hour schedules with their rules and overrides.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, schedule Schedule) error
	UpdateSchedule(ctx context.Context, schedule Schedule) error
	GetSchedule(ctx context.Context, id string) (Schedule, error)
	ListSchedulesByOwner(ctx context.Context, ownerID string) ([]Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}

// EventTypeRepository stores event types and their host lists.
type EventTypeRepository interface {
	CreateEventType(ctx context.Context, eventType EventType) error
	UpdateEventType(ctx context.Context, eventType EventType) error
	GetEventType(ctx context.Context, id string) (EventType, error)
	GetEventTypeBySlug(ctx context.Context, slug string) (EventType, error)
	ListEventTypes(ctx context.Context) ([]EventType, error)
}

// BookingFilter narrows booking queries. Zero fields do not filter.
type BookingFilter struct {
	HostIDs     []string
	EventTypeID string
	// StartsBefore and EndsAfter select bookings intersecting [EndsAfter, StartsBefore).
	StartsBefore *time.Time
	EndsAfter    *time.Time
	Statuses     []BookingStatus
}

// BookingRepository stores bookings. Accepted, unseated bookings are unique
// per host and start time.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, status BookingStatus, updatedAt time.Time) error
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
}

// OutOfOfficeRepository stores out-of-office entries.
type OutOfOfficeRepository interface {
	CreateOutOfOffice(ctx context.Context, entry OutOfOffice) error
	ListOutOfOffice(ctx context.Context, userIDs []string, from, to time.Time) ([]OutOfOffice, error)
	DeleteOutOfOffice(ctx context.Context, id string) error
}

// BusyTimeRepository stores busy time synced from external calendars.
type BusyTimeRepository interface {
	UpsertBusyTime(ctx context.Context, busy BusyTime) error
	ListBusyTimes(ctx context.Context, userIDs []string, from, to time.Time) ([]BusyTime, error)
}

// AttributeRepository stores the flat attribute map used for segment matching.
type AttributeRepository interface {
	ReplaceAttributes(ctx context.Context, userID string, attributes map[string][]string) error
	ListAttributes(ctx context.Context, userIDs []string) (map[string]map[string][]string, error)
}

// Store groups the repositories of one backend, optionally bound to a transaction.
type Store interface {
	Users() UserRepository
	Schedules() ScheduleRepository
	EventTypes() EventTypeRepository
	Bookings() BookingRepository
	OutOfOffice() OutOfOfficeRepository
	BusyTimes() BusyTimeRepository
	Attributes() AttributeRepository
}

// Transactor runs fn against a Store bound to one serialized write
// transaction. An error from fn rolls the transaction back.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}
