package storage

import (
	"context"
	"fmt"
	"time"

	"eval_harness/internal/logging"
	"eval_harness/internal/models"
	"eval_harness/internal/queue"
)

// RecordStore is the subset of ResultRepository the worker writes through.
// It exists so the worker can be exercised without a live database.
type RecordStore interface {
	Create(ctx context.Context, rec *models.EvalRecord) error
	CreateBatch(ctx context.Context, records []*models.EvalRecord) error
}

// ResultQueueWorker drains the eval record queue into Postgres.
type ResultQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	repo        RecordStore
	config      *queue.Config
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewResultQueueWorker creates a new result queue worker.
func NewResultQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, db *DB, config *queue.Config) *ResultQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("results")
	}
	return &ResultQueueWorker{
		queue:       q,
		dlq:         dlq,
		repo:        NewResultRepository(db),
		config:      config,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine.
func (w *ResultQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker.
func (w *ResultQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue stages an eval record for persistence.
func (w *ResultQueueWorker) Enqueue(ctx context.Context, rec *models.EvalRecord) error {
	return w.queue.Enqueue(ctx, rec)
}

func (w *ResultQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	logger := logging.NewLogger("result-worker")

	for {
		select {
		case <-w.stopChan:
			logger.Info("Result worker stopping")
			return
		case <-ctx.Done():
			logger.Info("Result worker context cancelled")
			return
		default:
			w.processBatch(ctx, logger)
		}
	}
}

// processBatch pulls one batch and writes it, falling back to individual
// inserts with retries when the batch insert fails.
func (w *ResultQueueWorker) processBatch(ctx context.Context, logger *logging.Logger) {
	records, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		logger.Error("Failed to dequeue eval records", "error", err)
		time.Sleep(1 * time.Second) // Back off on error
		return
	}
	if len(records) == 0 {
		return
	}

	logger.Debug("Processing result batch", "count", len(records))

	if err := w.repo.CreateBatch(ctx, records); err != nil {
		logger.Error("Failed to insert batch, falling back to individual inserts", "error", err)
		for _, rec := range records {
			if err := w.processRecord(ctx, rec, logger); err != nil {
				logger.Error("Failed to persist eval record", "error", err)
			}
		}
	}
}

// processRecord inserts one record with exponential backoff; exhausted
// retries park the record in the dead letter queue.
func (w *ResultQueueWorker) processRecord(ctx context.Context, rec *models.EvalRecord, logger *logging.Logger) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			logger.Debug("Retrying eval record", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := w.repo.Create(ctx, rec); err != nil {
			lastErr = err
			logger.Error("Failed to insert eval record", "attempt", attempt, "error", err)
			continue
		}
		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, rec, lastErr); err != nil {
			logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			logger.Warn("Eval record moved to DLQ", "id", rec.ID, "error", lastErr)
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetQueueLength returns the current queue length.
func (w *ResultQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns parked records.
func (w *ResultQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a parked record and removes it from the DLQ.
func (w *ResultQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}
	for _, dlItem := range items {
		if dlItem.ID == id {
			if err := w.queue.Enqueue(ctx, dlItem.Record); err != nil {
				return fmt.Errorf("failed to re-enqueue record: %w", err)
			}
			if err := w.dlq.Remove(ctx, id); err != nil {
				return fmt.Errorf("failed to remove from DLQ: %w", err)
			}
			return nil
		}
	}
	return queue.ErrItemNotFound
}
