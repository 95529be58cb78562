package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteConfig holds connection settings. Pragmas are passed in the DSN so
// every pooled connection receives them.
type SQLiteConfig struct {
	Path              string
	BusyTimeout       time.Duration
	EnableForeignKeys bool
	JournalMode       string
	Synchronous       string
	// ImmediateTx starts write transactions with BEGIN IMMEDIATE so the
	// write lock is taken before any read inside the transaction.
	ImmediateTx     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLiteConfig returns settings for a file-backed database.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:              path,
		BusyTimeout:       5 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "WAL",
		Synchronous:       "NORMAL",
		ImmediateTx:       true,
		MaxOpenConns:      8,
		MaxIdleConns:      4,
		ConnMaxLifetime:   5 * time.Minute,
	}
}

var (
	validJournalModes = map[string]bool{"DELETE": true, "TRUNCATE": true, "PERSIST": true, "MEMORY": true, "WAL": true, "OFF": true}
	validSyncModes    = map[string]bool{"OFF": true, "NORMAL": true, "FULL": true, "EXTRA": true}
)

// Validate checks the configuration.
func (c SQLiteConfig) Validate() error {
	var problems []string
	if c.Path == "" {
		problems = append(problems, "path cannot be empty")
	}
	if c.BusyTimeout < 0 {
		problems = append(problems, "busy timeout cannot be negative")
	}
	if c.JournalMode != "" && !validJournalModes[strings.ToUpper(c.JournalMode)] {
		problems = append(problems, fmt.Sprintf("invalid journal mode %q", c.JournalMode))
	}
	if c.Synchronous != "" && !validSyncModes[strings.ToUpper(c.Synchronous)] {
		problems = append(problems, fmt.Sprintf("invalid synchronous mode %q", c.Synchronous))
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 || c.ConnMaxLifetime < 0 {
		problems = append(problems, "pool settings cannot be negative")
	}
	if len(problems) > 0 {
		return errors.New("sqlite config: " + strings.Join(problems, "; "))
	}
	return nil
}

// DSN renders the modernc.org/sqlite connection string.
func (c SQLiteConfig) DSN() string {
	params := url.Values{}
	if c.BusyTimeout > 0 {
		params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	}
	if c.EnableForeignKeys {
		params.Add("_pragma", "foreign_keys(1)")
	}
	if c.JournalMode != "" {
		params.Add("_pragma", fmt.Sprintf("journal_mode(%s)", strings.ToUpper(c.JournalMode)))
	}
	if c.Synchronous != "" {
		params.Add("_pragma", fmt.Sprintf("synchronous(%s)", strings.ToUpper(c.Synchronous)))
	}
	if c.ImmediateTx {
		params.Set("_txlock", "immediate")
	}
	if len(params) == 0 {
		return "file:" + c.Path
	}
	return "file:" + c.Path + "?" + params.Encode()
}

// Open validates the configuration, creates the parent directory and
// returns a pinged connection pool.
func Open(c SQLiteConfig) (*sql.DB, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return db, nil
}
