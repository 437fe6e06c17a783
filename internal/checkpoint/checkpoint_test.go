package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory builds a fresh store bound to the given directory so restart
// behavior can be exercised by constructing a second store over the same
// location.
type storeFactory func(t *testing.T, dir string) Store

func fileFactory(t *testing.T, dir string) Store {
	t.Helper()
	s, err := NewFileStore(dir, "checkpoints.json")
	require.NoError(t, err)
	return s
}

func sqliteFactory(t *testing.T, dir string) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(dir, "checkpoints.db"))
	require.NoError(t, err)
	return s
}

func forEachBackend(t *testing.T, fn func(t *testing.T, newStore storeFactory)) {
	t.Run("file", func(t *testing.T) { fn(t, fileFactory) })
	t.Run("sqlite", func(t *testing.T) { fn(t, sqliteFactory) })
}

func TestStore_FreshPartitionHasNoCheckpoint(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, t.TempDir())
		defer s.Close()

		off, err := s.Load(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, NoCheckpoint, off)
	})
}

func TestStore_AdvanceAndLoad(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, t.TempDir())
		defer s.Close()

		require.NoError(t, s.Advance(ctx, 0, 99))
		require.NoError(t, s.Advance(ctx, 1, 7))

		off, err := s.Load(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(99), off)

		off, err = s.Load(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(7), off)
	})
}

func TestStore_OffsetZeroIsAddressable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, t.TempDir())
		defer s.Close()

		require.NoError(t, s.Advance(ctx, 3, 0))
		off, err := s.Load(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(0), off)
	})
}

func TestStore_RegressionRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, t.TempDir())
		defer s.Close()

		require.NoError(t, s.Advance(ctx, 0, 50))
		err := s.Advance(ctx, 0, 49)
		require.ErrorIs(t, err, ErrRegression)

		// Same offset again is a harmless no-op.
		require.NoError(t, s.Advance(ctx, 0, 50))

		off, err := s.Load(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(50), off)
	})
}

func TestStore_SurvivesRestart(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		dir := t.TempDir()

		s := newStore(t, dir)
		require.NoError(t, s.Advance(ctx, 0, 120))
		require.NoError(t, s.Advance(ctx, 2, 15))
		require.NoError(t, s.Close())

		s2 := newStore(t, dir)
		defer s2.Close()

		off, err := s2.Load(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(120), off)

		off, err = s2.Load(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(15), off)

		// Monotonicity holds across restarts too.
		require.ErrorIs(t, s2.Advance(ctx, 0, 100), ErrRegression)
	})
}
