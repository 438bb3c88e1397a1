package storage

import (
	"context"
	"fmt"
	"time"

	"eval_harness/internal/models"
)

// ResultRepository persists eval records.
type ResultRepository struct {
	db *DB
}

// NewResultRepository creates a new result repository.
func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

const insertRecord = `
	INSERT INTO eval_records (
		id, run_id, provider_id, vendor, mode, model_name,
		session_key, cached, attempts, latency_ms,
		prompt_tokens, completion_tokens, total_tokens, cost_usd,
		output, error_kind, error_message, metadata, created_at
	) VALUES (
		:id, :run_id, :provider_id, :vendor, :mode, :model_name,
		:session_key, :cached, :attempts, :latency_ms,
		:prompt_tokens, :completion_tokens, :total_tokens, :cost_usd,
		:output, :error_kind, :error_message, :metadata, :created_at
	)`

// Create inserts one eval record.
func (r *ResultRepository) Create(ctx context.Context, rec *models.EvalRecord) error {
	if _, err := r.db.conn.NamedExecContext(ctx, insertRecord, rec); err != nil {
		return fmt.Errorf("failed to insert eval record: %w", err)
	}
	return nil
}

// CreateBatch inserts records in one transaction. All or nothing: callers
// fall back to individual inserts when the batch fails.
func (r *ResultRepository) CreateBatch(ctx context.Context, records []*models.EvalRecord) error {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if _, err := tx.NamedExecContext(ctx, insertRecord, rec); err != nil {
			return fmt.Errorf("failed to insert eval record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByRun fetches the records of one run, oldest first.
func (r *ResultRepository) ListByRun(ctx context.Context, runID string, limit int) ([]*models.EvalRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	var records []*models.EvalRecord
	err := r.db.conn.SelectContext(ctx, &records,
		`SELECT * FROM eval_records WHERE run_id = $1 ORDER BY created_at ASC LIMIT $2`,
		runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list eval records: %w", err)
	}
	return records, nil
}

// RunCostSummary aggregates spend and token counts for one run.
type RunCostSummary struct {
	RunID            string   `db:"run_id"`
	Evals            int      `db:"evals"`
	Failures         int      `db:"failures"`
	PromptTokens     int64    `db:"prompt_tokens"`
	CompletionTokens int64    `db:"completion_tokens"`
	CostUSD          *float64 `db:"cost_usd"`
}

// SummarizeRun computes the cost summary for a run. CostUSD is nil when no
// record in the run had known pricing.
func (r *ResultRepository) SummarizeRun(ctx context.Context, runID string) (*RunCostSummary, error) {
	var summary RunCostSummary
	err := r.db.conn.GetContext(ctx, &summary, `
		SELECT
			run_id,
			COUNT(*) AS evals,
			COUNT(*) FILTER (WHERE error_kind <> '') AS failures,
			COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			SUM(cost_usd) AS cost_usd
		FROM eval_records
		WHERE run_id = $1
		GROUP BY run_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize run: %w", err)
	}
	return &summary, nil
}

// DeleteOlderThan removes records past the retention window.
func (r *ResultRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM eval_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old eval records: %w", err)
	}
	return res.RowsAffected()
}
