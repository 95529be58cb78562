package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a record fails a check or foreign key.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrLocked is returned when the store is busy; callers may retry.
	ErrLocked = errors.New("persistence: locked")
)
