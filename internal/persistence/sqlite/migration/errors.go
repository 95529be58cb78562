package migration

import (
	"errors"
	"fmt"
)

var (
	// ErrMigrationFailed indicates that a migration execution failed.
	ErrMigrationFailed = errors.New("migration: execution failed")
	// ErrInvalidMigrationFile indicates a malformed file name or empty file.
	ErrInvalidMigrationFile = errors.New("migration: invalid migration file")
	// ErrDuplicateVersion indicates that two files share a version.
	ErrDuplicateVersion = errors.New("migration: duplicate version")
	// ErrVersionConflict indicates a gap in the sequence or an applied version without a file.
	ErrVersionConflict = errors.New("migration: version conflict")
	// ErrChecksumMismatch indicates an applied file was edited afterwards.
	ErrChecksumMismatch = errors.New("migration: checksum mismatch")
)

// MigrationError wraps migration failures with the version and operation.
type MigrationError struct {
	Version   string
	FilePath  string
	Operation string
	Err       error
}

func (e *MigrationError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("migration %s (%s): %s: %v", e.Version, e.FilePath, e.Operation, e.Err)
	}
	return fmt.Sprintf("migration (%s): %s: %v", e.FilePath, e.Operation, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// NewMigrationError creates a new MigrationError with context.
func NewMigrationError(version, filePath, operation string, err error) *MigrationError {
	return &MigrationError{
		Version:   version,
		FilePath:  filePath,
		Operation: operation,
		Err:       err,
	}
}
