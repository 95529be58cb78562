package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/persistence/sqlite/migration"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ConnectionPool owns the database handle.
type ConnectionPool struct {
	db     *sql.DB
	config migration.SQLiteConfig
}

// NewConnectionPool opens the database described by config.
func NewConnectionPool(config migration.SQLiteConfig) (*ConnectionPool, error) {
	db, err := migration.Open(config)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create connection pool: %w", err)
	}
	return &ConnectionPool{db: db, config: config}, nil
}

// DB returns the underlying database handle.
func (cp *ConnectionPool) DB() *sql.DB {
	return cp.db
}

// Close closes the connection pool.
func (cp *ConnectionPool) Close() error {
	if cp == nil || cp.db == nil {
		return nil
	}
	return cp.db.Close()
}

// Ping tests the database connection.
func (cp *ConnectionPool) Ping(ctx context.Context) error {
	return cp.db.PingContext(ctx)
}

// WithTransaction runs fn in a transaction, rolling back when fn returns an
// error or panics. With ImmediateTx configured the transaction holds the
// write lock from its first statement.
func (cp *ConnectionPool) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := cp.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("sqlite: begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("sqlite: rollback failed (%v): %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("sqlite: commit transaction: %w", err))
	}
	return nil
}

// mapError translates driver errors into persistence sentinels while
// keeping the original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %w", persistence.ErrDuplicate, err)
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %w", persistence.ErrConstraintViolation, err)
		case code&0xff == sqlite3.SQLITE_BUSY || code&0xff == sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", persistence.ErrLocked, err)
		}
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %w", persistence.ErrDuplicate, err)
	case strings.Contains(msg, "constraint failed"):
		return fmt.Errorf("%w: %w", persistence.ErrConstraintViolation, err)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return fmt.Errorf("%w: %w", persistence.ErrLocked, err)
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", value, err)
	}
	return t.UTC(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
