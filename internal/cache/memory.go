package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"eval_harness/internal/eval"
)

type memoryEntry struct {
	key       string
	result    *eval.Result
	expiresAt time.Time
}

// MemoryStore is a thread-safe LRU cache with TTL. Zero external
// dependencies; the default for standalone runs.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	eviction *list.List // front = most recently used
	closed   bool

	hits   int64
	misses int64
}

// NewMemoryStore creates an in-memory store bounded to capacity entries.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		eviction: list.New(),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*eval.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}

	elem, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if s.ttl > 0 && time.Now().After(entry.expiresAt) {
		s.removeLocked(elem)
		s.misses++
		return nil, false, nil
	}
	s.eviction.MoveToFront(elem)
	s.hits++
	// Clone so callers flipping Cached never mutate the stored entry.
	return entry.result.Clone(), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, result *eval.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	expiresAt := time.Now().Add(s.ttl)
	if elem, ok := s.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.result = result.Clone()
		entry.expiresAt = expiresAt
		s.eviction.MoveToFront(elem)
		return nil
	}

	if s.eviction.Len() >= s.capacity {
		if oldest := s.eviction.Back(); oldest != nil {
			s.removeLocked(oldest)
		}
	}
	s.items[key] = s.eviction.PushFront(&memoryEntry{
		key:       key,
		result:    result.Clone(),
		expiresAt: expiresAt,
	})
	return nil
}

func (s *MemoryStore) Evict(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if elem, ok := s.items[key]; ok {
		s.removeLocked(elem)
	}
	return nil
}

// CleanupExpired drops expired entries; called from the maintenance sweep.
func (s *MemoryStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ttl <= 0 {
		return 0
	}
	now := time.Now()
	removed := 0
	for elem := s.eviction.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*memoryEntry).expiresAt.Before(now) {
			s.removeLocked(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Stats reports hit/miss counts and current size.
func (s *MemoryStore) Stats() (hits, misses int64, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses, s.eviction.Len()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = make(map[string]*list.Element)
	s.eviction.Init()
	return nil
}

func (s *MemoryStore) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	s.eviction.Remove(elem)
	delete(s.items, entry.key)
}
