package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFactory builds handles and tracks creations and teardowns.
type countingFactory struct {
	created   atomic.Int64
	tornDown  atomic.Int64
}

func (f *countingFactory) new(ctx context.Context) (*Handle, error) {
	f.created.Add(1)
	h := NewHandle("test", "")
	h.Teardown = func(ctx context.Context) error {
		f.tornDown.Add(1)
		return nil
	}
	return h, nil
}

func TestManagerAcquireReuses(t *testing.T) {
	m := NewManager(4)
	defer m.Close()
	f := &countingFactory{}
	ctx := context.Background()

	first, err := m.Acquire(ctx, "k1", f.new)
	require.NoError(t, err)
	second, err := m.Acquire(ctx, "k1", f.new)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), f.created.Load())
	assert.Equal(t, 1, m.Len())
}

func TestManagerAcquireConcurrent(t *testing.T) {
	m := NewManager(4)
	defer m.Close()
	f := &countingFactory{}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Acquire(ctx, "shared", f.new)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Concurrent acquires for one key never open a second session.
	assert.Equal(t, int64(1), f.created.Load())
}

func TestManagerPoolBoundEvictsLRU(t *testing.T) {
	m := NewManager(1)
	defer m.Close()
	f := &countingFactory{}
	ctx := context.Background()

	first, err := m.Acquire(ctx, "k1", f.new)
	require.NoError(t, err)
	second, err := m.Acquire(ctx, "k2", f.new)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 1, m.Len())
	// The evicted handle was torn down before the pool moved on.
	assert.Equal(t, int64(1), f.tornDown.Load())

	// k1 is gone; acquiring it again creates a fresh handle.
	third, err := m.Acquire(ctx, "k1", f.new)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, int64(3), f.created.Load())
}

func TestManagerEphemeral(t *testing.T) {
	m := NewManager(4)
	defer m.Close()
	f := &countingFactory{}

	handle, release, err := m.Ephemeral(context.Background(), f.new)
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, 0, m.Len(), "ephemeral handles stay outside the pool")

	release()
	assert.Equal(t, int64(1), f.tornDown.Load())
}

func TestManagerAttach(t *testing.T) {
	m := NewManager(4)
	defer m.Close()

	handle := m.Attach("k1", "openai", "thread-abc")
	assert.Equal(t, "thread-abc", handle.ExternalID)
	assert.Equal(t, "openai", handle.Vendor)
	assert.Equal(t, 1, m.Len())

	// Attaching again rebinds the same handle to the new external ID.
	again := m.Attach("k1", "openai", "thread-def")
	assert.Same(t, handle, again)
	assert.Equal(t, "thread-def", handle.ExternalID)
	assert.Equal(t, 1, m.Len())
}

func TestManagerAttachDoesNotEvictPooled(t *testing.T) {
	m := NewManager(1)
	defer m.Close()
	f := &countingFactory{}
	ctx := context.Background()

	live, err := m.Acquire(ctx, "live", f.new)
	require.NoError(t, err)

	// Binding an external session never pushes a live conversation out of
	// the pool, even when the pool is full.
	m.Attach("external", "openai", "thread-abc")
	assert.Equal(t, int64(0), f.tornDown.Load())
	assert.Equal(t, 2, m.Len())

	again, err := m.Acquire(ctx, "live", f.new)
	require.NoError(t, err)
	assert.Same(t, live, again)
	assert.Equal(t, int64(1), f.created.Load())

	// Attached handles are evictable by key like pooled ones.
	require.NoError(t, m.Evict(ctx, "external"))
	assert.Equal(t, 1, m.Len())
}

func TestManagerEvict(t *testing.T) {
	m := NewManager(4)
	defer m.Close()
	f := &countingFactory{}
	ctx := context.Background()

	_, err := m.Acquire(ctx, "k1", f.new)
	require.NoError(t, err)

	require.NoError(t, m.Evict(ctx, "k1"))
	assert.Equal(t, int64(1), f.tornDown.Load())
	assert.Equal(t, 0, m.Len())

	// Evicting an absent key is a no-op.
	require.NoError(t, m.Evict(ctx, "absent"))
}

func TestManagerSweepIdle(t *testing.T) {
	m := NewManager(4)
	defer m.Close()
	f := &countingFactory{}
	ctx := context.Background()

	_, err := m.Acquire(ctx, "old", f.new)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	_, err = m.Acquire(ctx, "fresh", f.new)
	require.NoError(t, err)

	swept := m.SweepIdle(ctx, 20*time.Millisecond)
	assert.Equal(t, 1, swept)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, int64(1), f.tornDown.Load())
}

func TestManagerClose(t *testing.T) {
	m := NewManager(4)
	f := &countingFactory{}
	ctx := context.Background()

	_, err := m.Acquire(ctx, "k1", f.new)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "k2", f.new)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.Equal(t, int64(2), f.tornDown.Load())

	_, err = m.Acquire(ctx, "k3", f.new)
	assert.ErrorIs(t, err, ErrManagerClosed)
}
