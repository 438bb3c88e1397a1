package session

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrManagerClosed is returned when acquiring from a closed manager.
var ErrManagerClosed = errors.New("session manager is closed")

// Handle is an opaque reference to vendor-side or local conversational
// state (thread ID, browser context, conversation ID). Callers only ever
// see the handle; the underlying resource is owned by its adapter.
type Handle struct {
	// ID is a local opaque token for this handle.
	ID string

	// ExternalID is the vendor-side identifier (thread ID, context ID).
	ExternalID string

	// Vendor records which adapter created the handle.
	Vendor string

	// State is adapter-private conversational state, if any.
	State any

	// Teardown releases the underlying resource. May be nil.
	Teardown func(ctx context.Context) error
}

// NewHandle builds a handle with a fresh opaque ID.
func NewHandle(vendor, externalID string) *Handle {
	return &Handle{ID: uuid.New().String(), ExternalID: externalID, Vendor: vendor}
}

func (h *Handle) teardown(ctx context.Context) error {
	if h.Teardown == nil {
		return nil
	}
	return h.Teardown(ctx)
}

// Factory creates a new handle on first use of a session key.
type Factory func(ctx context.Context) (*Handle, error)

type entry struct {
	key      string
	handle   *Handle
	lastUsed time.Time
}

// Manager keeps session handles alive and addressable across calls.
//
// Lifecycle per logical session: first acquire for a key creates the handle
// (ACTIVE); later acquires with persist semantics reuse it; pool overflow
// evicts the least-recently-used handle, tearing down its resource first.
// Deciding when a conversation ends (max turns, stop token, timeout) is the
// caller's job, not the manager's.
type Manager struct {
	mu       sync.Mutex
	max      int
	items    map[string]*list.Element
	eviction *list.List // front = most recently used

	// attached holds handles bound to external session IDs. They live
	// outside the bounded pool: the underlying resource belongs to whoever
	// created it, so attaching must never evict a live pooled handle.
	attached map[string]*Handle
	closed   bool
}

// NewManager creates a pool bounded to max concurrent handles.
func NewManager(max int) *Manager {
	if max <= 0 {
		max = 16
	}
	return &Manager{
		max:      max,
		items:    make(map[string]*list.Element, max),
		eviction: list.New(),
		attached: make(map[string]*Handle),
	}
}

// Acquire returns the ACTIVE handle for key, creating one via factory if
// none exists. Two concurrent acquires for the same key never create two
// handles. Creating a handle beyond the pool bound evicts the LRU entry.
func (m *Manager) Acquire(ctx context.Context, key string, factory Factory) (*Handle, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if elem, ok := m.items[key]; ok {
		ent := elem.Value.(*entry)
		ent.lastUsed = time.Now()
		m.eviction.MoveToFront(elem)
		h := ent.handle
		m.mu.Unlock()
		return h, nil
	}

	// Creation happens under the lock so a racing acquire for the same key
	// waits instead of opening a second vendor-side session.
	var evicted *Handle
	if m.eviction.Len() >= m.max {
		evicted = m.removeOldestLocked()
	}
	handle, err := factory(ctx)
	if err != nil {
		m.mu.Unlock()
		if evicted != nil {
			_ = evicted.teardown(ctx)
		}
		return nil, fmt.Errorf("failed to open session for %q: %w", key, err)
	}
	elem := m.eviction.PushFront(&entry{key: key, handle: handle, lastUsed: time.Now()})
	m.items[key] = elem
	m.mu.Unlock()

	if evicted != nil {
		_ = evicted.teardown(ctx)
	}
	return handle, nil
}

// Ephemeral creates a handle outside the pool. The returned release func
// tears the resource down; callers invoke it right after the call completes.
func (m *Manager) Ephemeral(ctx context.Context, factory Factory) (*Handle, func(), error) {
	handle, err := factory(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ephemeral session: %w", err)
	}
	release := func() { _ = handle.teardown(context.Background()) }
	return handle, release, nil
}

// Attach binds key directly to a named external session, bypassing the
// factory and the pool bound. Used for explicit resumption by external ID.
func (m *Manager) Attach(key, vendor, externalID string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if handle, ok := m.attached[key]; ok {
		handle.ExternalID = externalID
		return handle
	}
	handle := NewHandle(vendor, externalID)
	m.attached[key] = handle
	return handle
}

// Evict tears down the handle for key, if present.
func (m *Manager) Evict(ctx context.Context, key string) error {
	m.mu.Lock()
	if handle, ok := m.attached[key]; ok {
		delete(m.attached, key)
		m.mu.Unlock()
		return handle.teardown(ctx)
	}
	elem, ok := m.items[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	ent := elem.Value.(*entry)
	m.eviction.Remove(elem)
	delete(m.items, key)
	m.mu.Unlock()
	return ent.handle.teardown(ctx)
}

// SweepIdle evicts handles unused for longer than maxIdle. Returns the
// number of handles torn down.
func (m *Manager) SweepIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var stale []*Handle
	for elem := m.eviction.Back(); elem != nil; {
		ent := elem.Value.(*entry)
		if ent.lastUsed.After(cutoff) {
			break
		}
		prev := elem.Prev()
		m.eviction.Remove(elem)
		delete(m.items, ent.key)
		stale = append(stale, ent.handle)
		elem = prev
	}
	m.mu.Unlock()

	for _, h := range stale {
		_ = h.teardown(ctx)
	}
	return len(stale)
}

// Len reports the number of ACTIVE handles, pooled and attached.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eviction.Len() + len(m.attached)
}

// Close tears down every handle and rejects further acquires.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var handles []*Handle
	for elem := m.eviction.Front(); elem != nil; elem = elem.Next() {
		handles = append(handles, elem.Value.(*entry).handle)
	}
	for _, h := range m.attached {
		handles = append(handles, h)
	}
	m.items = make(map[string]*list.Element)
	m.eviction.Init()
	m.attached = make(map[string]*Handle)
	m.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := h.teardown(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) removeOldestLocked() *Handle {
	elem := m.eviction.Back()
	if elem == nil {
		return nil
	}
	ent := elem.Value.(*entry)
	m.eviction.Remove(elem)
	delete(m.items, ent.key)
	return ent.handle
}
