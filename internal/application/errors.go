package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/interval"
	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/scheduler"
)

var (
	// ErrNotFound is returned when the requested event type, host or booking does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrUnavailable is returned when the backing store stays locked after retries.
	ErrUnavailable = errors.New("application: temporarily unavailable")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = field + ": " + v.FieldErrors[field]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// mapStoreError translates persistence sentinels at the service boundary.
func mapStoreError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, persistence.ErrLocked):
		return fmt.Errorf("%s: %w: %w", what, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable), errors.Is(err, persistence.ErrLocked):
		return "unavailable"
	case errors.Is(err, scheduler.ErrSlotNoLongerAvailable):
		return "slot_unavailable"
	case errors.Is(err, scheduler.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, scheduler.ErrBookingLimitExceeded):
		return "booking_limit_exceeded"
	case errors.Is(err, availability.ErrInvalidSchedule):
		return "invalid_schedule"
	case errors.Is(err, interval.ErrInvalidInterval):
		return "invalid_interval"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}
