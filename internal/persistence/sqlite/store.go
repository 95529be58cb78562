// Package sqlite implements persistence on SQLite through the pure Go
// modernc.org/sqlite driver. The schema ships embedded and is applied with
// the migration package.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"

	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements persistence.Store and persistence.Transactor. A Store
// returned inside WithinTransaction is bound to that transaction.
type Store struct {
	pool *ConnectionPool
	q    querier
	tx   bool
}

var (
	_ persistence.Store      = (*Store)(nil)
	_ persistence.Transactor = (*Store)(nil)
)

// NewStore wraps a connection pool.
func NewStore(pool *ConnectionPool) *Store {
	return &Store{pool: pool, q: pool.DB()}
}

// Open connects and applies pending migrations.
func Open(ctx context.Context, config migration.SQLiteConfig, logger *slog.Logger) (*Store, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	if _, err := Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return NewStore(pool), nil
}

// Migrate applies the embedded schema and returns the versions applied.
func Migrate(ctx context.Context, pool *ConnectionPool, logger *slog.Logger) ([]string, error) {
	runner, err := migration.NewRunner(migration.NewExecutor(pool.DB()), migrationFiles, "migrations", logger)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Users() persistence.UserRepository { return &UserRepository{store: s} }

func (s *Store) Schedules() persistence.ScheduleRepository { return &ScheduleRepository{store: s} }

func (s *Store) EventTypes() persistence.EventTypeRepository { return &EventTypeRepository{store: s} }

func (s *Store) Bookings() persistence.BookingRepository { return &BookingRepository{store: s} }

func (s *Store) OutOfOffice() persistence.OutOfOfficeRepository { return &CalendarRepository{store: s} }

func (s *Store) BusyTimes() persistence.BusyTimeRepository { return &CalendarRepository{store: s} }

func (s *Store) Attributes() persistence.AttributeRepository { return &UserRepository{store: s} }

// WithinTransaction runs fn against a Store bound to a new transaction.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, store persistence.Store) error) error {
	if s.tx {
		return fn(ctx, s)
	}
	return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &Store{pool: s.pool, q: tx, tx: true})
	})
}

// write runs a multi-statement change atomically, reusing the caller's
// transaction when there is one.
func (s *Store) write(ctx context.Context, fn func(q querier) error) error {
	if s.tx {
		return fn(s.q)
	}
	return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		return fn(tx)
	})
}
