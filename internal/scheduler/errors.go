package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/availability-engine/internal/limits"
)

var (
	// ErrSlotNoLongerAvailable matches SlotNoLongerAvailableError.
	ErrSlotNoLongerAvailable = errors.New("scheduler: slot no longer available")
	// ErrCapacityExceeded matches CapacityExceededError.
	ErrCapacityExceeded = errors.New("scheduler: capacity exceeded")
	// ErrBookingLimitExceeded matches BookingLimitExceededError.
	ErrBookingLimitExceeded = errors.New("scheduler: booking limit exceeded")
	// ErrInvalidProposal indicates a malformed proposal.
	ErrInvalidProposal = errors.New("scheduler: invalid proposal")
	// ErrInvalidTransition indicates a state change the validator never makes.
	ErrInvalidTransition = errors.New("scheduler: invalid state transition")
)

// SlotNoLongerAvailableError reports that a host became busy, or never was
// free, for the proposed span.
type SlotNoLongerAvailableError struct {
	Start     time.Time
	End       time.Time
	HostID    string
	Conflicts []Conflict
}

func (e *SlotNoLongerAvailableError) Error() string {
	return fmt.Sprintf("scheduler: slot %s-%s no longer available for host %s",
		e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339), e.HostID)
}

func (e *SlotNoLongerAvailableError) Unwrap() error { return ErrSlotNoLongerAvailable }

// CapacityExceededError reports a seated slot without room for the attendees.
type CapacityExceededError struct {
	Start     time.Time
	Seats     int
	Taken     int
	Requested int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("scheduler: slot %s has %d of %d seats taken, %d requested",
		e.Start.UTC().Format(time.RFC3339), e.Taken, e.Seats, e.Requested)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// BookingLimitExceededError reports a host whose period cap is reached.
type BookingLimitExceededError struct {
	HostID string
	Period limits.Period
}

func (e *BookingLimitExceededError) Error() string {
	return fmt.Sprintf("scheduler: host %s reached its %s booking limit", e.HostID, e.Period)
}

func (e *BookingLimitExceededError) Unwrap() error { return ErrBookingLimitExceeded }
