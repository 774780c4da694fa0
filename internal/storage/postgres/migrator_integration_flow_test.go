package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100), "reset")
	status, err := store.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, MigrationStatus{Version: 0, Applied: 0, Pending: 2}, status)

	require.NoError(t, store.MigrateUp(ctx, 1))
	status, err = store.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, MigrationStatus{Version: 1, Applied: 1, Pending: 1}, status)

	require.NoError(t, store.MigrateUp(ctx, 0))
	require.NoError(t, store.MigrateUp(ctx, 0), "idempotent up")
	status, err = store.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, MigrationStatus{Version: 2, Applied: 2, Pending: 0}, status)

	require.NoError(t, store.MigrateDown(ctx, 0), "default down is one step")
	status, err = store.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), status.Version)

	require.NoError(t, store.MigrateDown(ctx, 5))
	require.NoError(t, store.MigrateDown(ctx, 1), "down on empty schema is a no-op")
	status, err = store.Status(ctx)
	require.NoError(t, err)
	require.Zero(t, status.Applied)

	require.NoError(t, store.MigrateUp(ctx, 0))
}

func TestMigrator_NilStoreGuards(t *testing.T) {
	var nilStore *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.ErrorIs(t, nilStore.MigrateUp(ctx, 0), errStoreNotInitialized)
	require.ErrorIs(t, nilStore.MigrateDown(ctx, 1), errStoreNotInitialized)
	_, err := nilStore.Status(ctx)
	require.ErrorIs(t, err, errStoreNotInitialized)
}
