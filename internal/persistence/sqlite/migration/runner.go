package migration

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
)

// Status summarizes the schema state.
type Status struct {
	CurrentVersion string
	Applied        []AppliedMigration
	Pending        []Migration
}

// Runner applies pending migrations in version order.
type Runner struct {
	executor   *Executor
	migrations []Migration
	logger     *slog.Logger
}

// NewRunner loads migrations from dir of fsys.
func NewRunner(executor *Executor, fsys fs.FS, dir string, logger *slog.Logger) (*Runner, error) {
	migrations, err := Load(fsys, dir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{executor: executor, migrations: migrations, logger: logger.With("component", "migration")}, nil
}

// Run applies every pending migration and returns the versions applied.
func (r *Runner) Run(ctx context.Context) ([]string, error) {
	status, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}
	if len(status.Pending) == 0 {
		r.logger.InfoContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return nil, nil
	}

	var applied []string
	for _, m := range status.Pending {
		elapsed, err := r.executor.Apply(ctx, m)
		if err != nil {
			r.logger.ErrorContext(ctx, "migration failed", "version", m.Version, "file", m.FilePath, "error", err)
			return applied, err
		}
		r.logger.InfoContext(ctx, "migration applied",
			"version", m.Version,
			"description", m.Description,
			"duration_ms", elapsed.Milliseconds(),
		)
		applied = append(applied, m.Version)
	}
	return applied, nil
}

// Status compares the files with schema_migrations. It fails on gaps in the
// file sequence, applied versions without a file, and edited files.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	if err := r.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, err
	}
	applied, err := r.executor.Applied(ctx)
	if err != nil {
		return Status{}, err
	}

	files := make(map[string]Migration, len(r.migrations))
	for i, m := range r.migrations {
		files[m.Version] = m
		if i > 0 && versionNumber(m.Version) != versionNumber(r.migrations[i-1].Version)+1 {
			return Status{}, fmt.Errorf("%w: gap before version %s", ErrVersionConflict, m.Version)
		}
	}

	done := make(map[string]bool, len(applied))
	status := Status{Applied: applied}
	for _, a := range applied {
		m, ok := files[a.Version]
		if !ok {
			return Status{}, fmt.Errorf("%w: applied version %s has no file", ErrVersionConflict, a.Version)
		}
		if a.Checksum != "" && a.Checksum != m.Checksum {
			return Status{}, NewMigrationError(a.Version, m.FilePath, "verify checksum", ErrChecksumMismatch)
		}
		done[a.Version] = true
		status.CurrentVersion = a.Version
	}
	for _, m := range r.migrations {
		if !done[m.Version] {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

func sortApplied(applied []AppliedMigration) {
	sort.Slice(applied, func(i, j int) bool {
		return versionNumber(applied[i].Version) < versionNumber(applied[j].Version)
	})
}
