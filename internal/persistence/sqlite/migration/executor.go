package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Executor runs migrations against a database.
type Executor struct {
	db  *sql.DB
	now func() time.Time
}

// NewExecutor creates an executor.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db, now: time.Now}
}

// InitializeVersionTable creates schema_migrations if it does not exist.
func (e *Executor) InitializeVersionTable(ctx context.Context) error {
	const stmt = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			execution_time_ms INTEGER NOT NULL DEFAULT 0
		)`
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return NewMigrationError("", "", "create schema_migrations", err)
	}
	return nil
}

// Apply runs every statement of m and records it, all in one transaction.
func (e *Executor) Apply(ctx context.Context, m Migration) (time.Duration, error) {
	statements := splitStatements(m.SQL)
	if len(statements) == 0 {
		return 0, NewMigrationError(m.Version, m.FilePath, "parse SQL",
			fmt.Errorf("%w: no statements", ErrInvalidMigrationFile))
	}

	started := e.now()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewMigrationError(m.Version, m.FilePath, "begin transaction", err)
	}
	defer func() {
		// Rollback after Commit returns sql.ErrTxDone and is ignored.
		_ = tx.Rollback()
	}()

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, NewMigrationError(m.Version, m.FilePath, fmt.Sprintf("execute statement %d", i+1),
				fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}
	}

	elapsed := e.now().Sub(started)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`,
		m.Version, e.now().UTC().Format(time.RFC3339), m.Checksum, elapsed.Milliseconds(),
	); err != nil {
		return 0, NewMigrationError(m.Version, m.FilePath, "record migration", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, NewMigrationError(m.Version, m.FilePath, "commit transaction", err)
	}
	return elapsed, nil
}

// Applied returns recorded migrations ordered by version.
func (e *Executor) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT version, applied_at, checksum, execution_time_ms FROM schema_migrations`)
	if err != nil {
		return nil, NewMigrationError("", "", "query schema_migrations", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			a         AppliedMigration
			appliedAt string
			elapsedMs int64
		)
		if err := rows.Scan(&a.Version, &appliedAt, &a.Checksum, &elapsedMs); err != nil {
			return nil, NewMigrationError("", "", "scan schema_migrations", err)
		}
		a.AppliedAt, err = time.Parse(time.RFC3339, appliedAt)
		if err != nil {
			return nil, NewMigrationError(a.Version, "", "parse applied_at", err)
		}
		a.ExecutionTime = time.Duration(elapsedMs) * time.Millisecond
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, NewMigrationError("", "", "iterate schema_migrations", err)
	}

	sortApplied(applied)
	return applied, nil
}
