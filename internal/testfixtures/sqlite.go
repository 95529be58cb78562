package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/availability-engine/internal/persistence/sqlite"
	"github.com/example/availability-engine/internal/persistence/sqlite/migration"
)

// NewSQLiteStore opens a migrated SQLite store in a temporary directory. The
// store is closed when the test finishes.
func NewSQLiteStore(tb testing.TB) *sqlite.Store {
	tb.Helper()

	config := migration.DefaultSQLiteConfig(filepath.Join(tb.TempDir(), "slotengine.db"))
	store, err := sqlite.Open(context.Background(), config, nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
