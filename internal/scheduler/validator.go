// Package scheduler re-checks a proposed booking against the current state of
// its hosts immediately before it is written.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/availability-engine/internal/interval"
	"github.com/example/availability-engine/internal/limits"
)

// State is a step of the validation lifecycle.
type State string

const (
	StateProposed   State = "PROPOSED"
	StateValidating State = "VALIDATING"
	StateAccepted   State = "ACCEPTED"
	StateRejected   State = "REJECTED"
)

var transitions = map[State][]State{
	StateProposed:   {StateValidating},
	StateValidating: {StateAccepted, StateRejected},
}

// Proposal is a booking awaiting validation.
type Proposal struct {
	EventTypeID    string
	HostIDs        []string
	Start          time.Time
	End            time.Time
	Attendees      int
	BufferBefore   time.Duration
	BufferAfter    time.Duration
	SeatsPerSlot   int
	BookingLimits  limits.BookingLimits
	DurationLimits limits.DurationLimits
	Calendar       limits.Calendar
}

// HostState is the current view of one host, read inside the caller's
// transaction.
type HostState struct {
	HostID string
	// Free holds working hours around the proposal; nil skips that check.
	Free []interval.Interval
	// Busy excludes seated bookings of the same event at the same start.
	Busy []interval.Interval
	// Usage lists bookings counted against the event type's limits.
	Usage []limits.Entry
	// SeatsTaken counts attendees already booked into the proposed slot.
	SeatsTaken int
}

// StateReader loads host state for a proposal.
type StateReader interface {
	HostStates(ctx context.Context, proposal Proposal) ([]HostState, error)
}

// Decision is the outcome of a validation run.
type Decision struct {
	State     State
	Reason    error
	Conflicts []Conflict
	History   []State
}

func newDecision() Decision {
	return Decision{State: StateProposed, History: []State{StateProposed}}
}

func (d *Decision) transition(to State) error {
	for _, allowed := range transitions[d.State] {
		if allowed == to {
			d.State = to
			d.History = append(d.History, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, d.State, to)
}

// RejectedDecision records a rejection found after validation, such as a
// uniqueness constraint firing when the booking is written.
func RejectedDecision(reason error) Decision {
	var conflicts []Conflict
	var unavailable *SlotNoLongerAvailableError
	if errors.As(reason, &unavailable) {
		conflicts = unavailable.Conflicts
	}
	return Decision{
		State:     StateRejected,
		Reason:    reason,
		Conflicts: conflicts,
		History:   []State{StateProposed, StateValidating, StateRejected},
	}
}

// Accepted reports whether the proposal may be written.
func (d Decision) Accepted() bool { return d.State == StateAccepted }

// Validator checks proposals. It holds no state between calls.
type Validator struct{}

// NewValidator constructs a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate walks the proposal through the lifecycle. A rejection returns the
// decision together with its typed reason; read failures leave the decision
// in VALIDATING.
func (v *Validator) Validate(ctx context.Context, reader StateReader, p Proposal) (Decision, error) {
	d := newDecision()
	if err := checkProposal(p); err != nil {
		return d, err
	}
	if err := d.transition(StateValidating); err != nil {
		return d, err
	}

	states, err := reader.HostStates(ctx, p)
	if err != nil {
		return d, fmt.Errorf("scheduler: read host state: %w", err)
	}
	byHost := make(map[string]HostState, len(states))
	for _, s := range states {
		byHost[s.HostID] = s
	}

	if reason := evaluate(p, byHost); reason != nil {
		if !IsRejection(reason) {
			return d, reason
		}
		d.Reason = reason
		var unavailable *SlotNoLongerAvailableError
		if errors.As(reason, &unavailable) {
			d.Conflicts = unavailable.Conflicts
		}
		if err := d.transition(StateRejected); err != nil {
			return d, err
		}
		return d, reason
	}
	if err := d.transition(StateAccepted); err != nil {
		return d, err
	}
	return d, nil
}

func checkProposal(p Proposal) error {
	switch {
	case len(p.HostIDs) == 0:
		return fmt.Errorf("%w: no hosts", ErrInvalidProposal)
	case !p.End.After(p.Start):
		return fmt.Errorf("%w: end must be after start", ErrInvalidProposal)
	case p.Attendees < 0:
		return fmt.Errorf("%w: negative attendee count", ErrInvalidProposal)
	}
	return nil
}

// IsRejection reports whether err is an expected outcome of a race for a
// slot rather than a failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrSlotNoLongerAvailable) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrBookingLimitExceeded)
}

func evaluate(p Proposal, byHost map[string]HostState) error {
	attendees := p.Attendees
	if attendees == 0 {
		attendees = 1
	}

	busy := make(map[string]*interval.Index, len(p.HostIDs))
	for _, id := range p.HostIDs {
		state := byHost[id]
		if state.Free != nil {
			free, err := interval.BuildIndex(state.Free)
			if err != nil {
				return fmt.Errorf("scheduler: free time for host %s: %w", id, err)
			}
			if !free.Contains(p.Start, p.End) {
				return &SlotNoLongerAvailableError{Start: p.Start, End: p.End, HostID: id}
			}
		}
		ix, err := interval.BuildIndex(state.Busy)
		if err != nil {
			return fmt.Errorf("scheduler: busy time for host %s: %w", id, err)
		}
		busy[id] = ix
	}

	if conflicts := DetectConflicts(busy, p.HostIDs, p.Start, p.End, p.BufferBefore, p.BufferAfter); len(conflicts) > 0 {
		return &SlotNoLongerAvailableError{
			Start:     p.Start,
			End:       p.End,
			HostID:    conflicts[0].HostID,
			Conflicts: conflicts,
		}
	}

	joining := false
	if p.SeatsPerSlot > 0 {
		for _, id := range p.HostIDs {
			taken := byHost[id].SeatsTaken
			if taken+attendees > p.SeatsPerSlot {
				return &CapacityExceededError{Start: p.Start, Seats: p.SeatsPerSlot, Taken: taken, Requested: attendees}
			}
			if taken > 0 {
				joining = true
			}
		}
	}

	// Joining an existing seated booking does not create a new one.
	if joining || (p.BookingLimits.IsZero() && p.DurationLimits.IsZero()) {
		return nil
	}
	duration := p.End.Sub(p.Start)
	for _, id := range p.HostIDs {
		counter := limits.NewCounter(p.Calendar, byHost[id].Usage)
		if period, exceeded := counter.Exceeded(p.BookingLimits, p.DurationLimits, p.Start, duration); exceeded {
			return &BookingLimitExceededError{HostID: id, Period: period}
		}
	}
	return nil
}
