package queue

import (
	"context"
	"time"

	"eval_harness/internal/models"
)

// Package queue buffers eval records between the pipeline and the database
// writer, with two backends:
//
//  1. Memory queue (channel-based): no persistence, zero external
//     dependencies; the default for standalone runs.
//  2. Redis queue (list-based): survives restarts and supports multiple
//     workers draining one queue.
//
// The writer worker pulls batches, retries failed flushes with exponential
// backoff, and parks records that exhaust their retries in a dead letter
// queue for inspection.

// Queue defines the interface for staging eval records.
type Queue interface {
	// Enqueue adds a record to the queue.
	Enqueue(ctx context.Context, rec *models.EvalRecord) error

	// Dequeue retrieves up to maxItems records, blocking until at least one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context, maxItems int) ([]*models.EvalRecord, error)

	// DequeueWithTimeout retrieves up to maxItems records, returning an
	// empty slice if none arrive before the timeout.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*models.EvalRecord, error)

	// Length returns the current queue length.
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue.
	Close() error
}

// DeadLetterQueue holds records whose database writes kept failing.
type DeadLetterQueue interface {
	// Add parks a failed record with its error.
	Add(ctx context.Context, rec *models.EvalRecord, err error) error

	// List retrieves up to maxItems parked records.
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove deletes a parked record by ID.
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue.
	Close() error
}

// DeadLetterItem is one parked record with failure context.
type DeadLetterItem struct {
	ID        string             `json:"id"`
	Record    *models.EvalRecord `json:"record"`
	Error     string             `json:"error"`
	Timestamp time.Time          `json:"timestamp"`
	Retries   int                `json:"retries"`
}

// Config holds queue configuration.
type Config struct {
	// BatchSize is the maximum number of records per batch.
	BatchSize int

	// BatchTimeout is how long to wait before flushing a partial batch.
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of flush retry attempts.
	MaxRetries int

	// RetryBackoff is the initial backoff for flush retries.
	RetryBackoff time.Duration

	// UseRedis selects the Redis backend over the in-memory one.
	UseRedis bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// QueueName is the name/key for the queue.
	QueueName string
}

// DefaultConfig returns the stock queue configuration.
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		UseRedis:     false,
		QueueName:    queueName,
	}
}
