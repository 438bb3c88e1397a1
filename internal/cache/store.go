package cache

import (
	"context"
	"errors"

	"eval_harness/internal/eval"
)

// ErrStoreClosed is returned when operating on a closed store.
var ErrStoreClosed = errors.New("cache store is closed")

// Store persists evaluation results keyed by the deterministic hash from
// Key. Three backends exist: in-memory LRU for standalone runs, SQLite for
// a local disk cache that survives restarts, and Redis for shared caches
// across workers.
type Store interface {
	// Get returns the cached result for key, if present and fresh.
	Get(ctx context.Context, key string) (*eval.Result, bool, error)

	// Set stores a result under key.
	Set(ctx context.Context, key string, result *eval.Result) error

	// Evict removes a key.
	Evict(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
