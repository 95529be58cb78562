package application

import (
	"time"

	"github.com/example/availability-engine/internal/assignment"
	"github.com/example/availability-engine/internal/scheduler"
	"github.com/example/availability-engine/internal/segment"
	"github.com/example/availability-engine/internal/slots"
)

// QueryHost describes a host of an ad hoc slot query.
type QueryHost struct {
	UserID     string
	ScheduleID string
	IsFixed    bool
	Priority   int
	Weight     int
	GroupID    string
}

// SlotQuery asks for the bookable slots in [From, To). It names either a
// stored event type or an ad hoc set of hosts and constraints.
type SlotQuery struct {
	EventTypeID string

	Hosts          []QueryHost
	SchedulingType assignment.SchedulingType
	Constraints    slots.Constraints

	From time.Time
	To   time.Time
	// Timezone labels the result days; it defaults to the event type's zone.
	Timezone string
	// ContactOwnerID is preferred for round-robin picks when free.
	ContactOwnerID string
	// Segment replaces the event type's stored attribute query.
	Segment *segment.Node
}

// SlotResult lists the slots of a query in ascending start order.
type SlotResult struct {
	EventTypeID string
	Timezone    string
	Slots       []slots.Slot
	// Warnings carries degraded conditions such as an unresolvable segment.
	Warnings []string
}

// ValidateParams identifies a proposed booking.
type ValidateParams struct {
	EventTypeID string
	// HostIDs may be empty; the event type's scheduling type then picks hosts.
	HostIDs   []string
	Start     time.Time
	Attendees int
}

// CreateBookingParams identifies a booking to write.
type CreateBookingParams struct {
	EventTypeID string
	HostIDs     []string
	Start       time.Time
	Attendees   int
}

// Booking is a written booking.
type Booking struct {
	ID          string
	EventTypeID string
	HostIDs     []string
	Start       time.Time
	End         time.Time
	Attendees   int
	Seated      bool
	Status      string
	CreatedAt   time.Time
}

// BookingOutcome pairs the validation decision with the written booking.
// Booking is zero unless the decision was accepted.
type BookingOutcome struct {
	Decision scheduler.Decision
	Booking  Booking
}
