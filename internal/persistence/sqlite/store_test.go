package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/persistence/sqlite"
	"github.com/example/availability-engine/internal/persistence/sqlite/migration"
	"github.com/example/availability-engine/internal/persistence/storetest"
	"github.com/example/availability-engine/internal/testfixtures"
)

func TestStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) storetest.Backend { return testfixtures.NewSQLiteStore(t) })
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	config := migration.DefaultSQLiteConfig(filepath.Join(t.TempDir(), "nested", "engine.db"))

	first, err := sqlite.Open(ctx, config, nil)
	require.NoError(t, err)
	require.NoError(t, first.Ping(ctx))
	require.NoError(t, first.Close())

	second, err := sqlite.Open(ctx, config, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	require.NoError(t, second.Ping(ctx))
}

func TestMigrateReportsAppliedVersions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool, err := sqlite.NewConnectionPool(migration.DefaultSQLiteConfig(filepath.Join(t.TempDir(), "engine.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	applied, err := sqlite.Migrate(ctx, pool, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002", "003", "004"}, applied)

	applied, err = sqlite.Migrate(ctx, pool, nil)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestNestedTransactionReusesOuter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := testfixtures.NewSQLiteStore(t)
	team := testfixtures.NewTeam(1)
	eventType := testfixtures.NewEventType(team.Hosts())
	testfixtures.Seed(t, store, append(team.Records(), eventType)...)

	booking := testfixtures.NewBooking(eventType.ID, testfixtures.At(1, 9, 0), 30*time.Minute, team.IDs())
	err := store.WithinTransaction(ctx, func(ctx context.Context, tx persistence.Store) error {
		return tx.(persistence.Transactor).WithinTransaction(ctx, func(ctx context.Context, inner persistence.Store) error {
			return inner.Bookings().CreateBooking(ctx, booking)
		})
	})
	require.NoError(t, err)

	got, err := store.Bookings().GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, team.IDs(), got.HostIDs)
}
