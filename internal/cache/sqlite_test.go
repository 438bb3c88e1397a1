package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eval_harness/internal/eval"
)

func newTestSQLiteStore(t *testing.T, ttl time.Duration) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundtrip(t *testing.T) {
	store := newTestSQLiteStore(t, time.Minute)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	result := eval.Success("hello", &eval.TokenUsage{Prompt: 1, Completion: 2, Total: 3})
	require.NoError(t, store.Set(ctx, "k1", result))

	got, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Output)
	require.NotNil(t, got.TokenUsage)
	assert.Equal(t, 3, got.TokenUsage.Total)

	// Set on an existing key overwrites.
	require.NoError(t, store.Set(ctx, "k1", eval.Success("updated", nil)))
	got, ok, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "updated", got.Output)
}

func TestSQLiteStoreExpiry(t *testing.T) {
	store := newTestSQLiteStore(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", eval.Success("v", nil)))
	time.Sleep(40 * time.Millisecond)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entries read as misses")
}

func TestSQLiteStoreCleanupExpired(t *testing.T) {
	store := newTestSQLiteStore(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", eval.Success("a", nil)))
	require.NoError(t, store.Set(ctx, "b", eval.Success("b", nil)))
	time.Sleep(40 * time.Millisecond)

	removed, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestSQLiteStoreEvict(t *testing.T) {
	store := newTestSQLiteStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", eval.Success("v", nil)))
	require.NoError(t, store.Evict(ctx, "k"))

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
