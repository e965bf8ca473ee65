package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStoreRoundtrip(t *testing.T) {
	store, err := NewStateStore(t.TempDir())
	require.NoError(t, err)

	stamp := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, store.SetLastSync(stamp))
	require.NoError(t, store.SetLastShutdown(stamp.Add(time.Hour)))

	sync, err := store.LastSync()
	require.NoError(t, err)
	assert.True(t, sync.Equal(stamp))

	shutdown, err := store.LastShutdown()
	require.NoError(t, err)
	assert.True(t, shutdown.Equal(stamp.Add(time.Hour)))
}

func TestStateStoreMissingMarkerReadsZero(t *testing.T) {
	store, err := NewStateStore(t.TempDir())
	require.NoError(t, err)

	sync, err := store.LastSync()
	require.NoError(t, err)
	assert.True(t, sync.IsZero())

	shutdown, err := store.LastShutdown()
	require.NoError(t, err)
	assert.True(t, shutdown.IsZero())
}

func TestStateStoreCorruptMarker(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStateStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "last_sync"), []byte("not a time\n"), 0o644))

	_, err = store.LastSync()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last_sync")
}

func TestStateStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	_, err := NewStateStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
