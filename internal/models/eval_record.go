package models

import (
	"time"

	"github.com/google/uuid"

	"eval_harness/internal/eval"
)

// EvalRecord represents a single evaluation call persisted for analysis
type EvalRecord struct {
	ID    uuid.UUID `db:"id" json:"id"`
	RunID string    `db:"run_id" json:"run_id,omitempty"`

	ProviderID string `db:"provider_id" json:"provider_id"`
	Vendor     string `db:"vendor" json:"vendor"`
	Mode       string `db:"mode" json:"mode"`
	ModelName  string `db:"model_name" json:"model_name"`

	SessionKey string `db:"session_key" json:"session_key,omitempty"`
	Cached     bool   `db:"cached" json:"cached"`
	Attempts   int    `db:"attempts" json:"attempts"`
	LatencyMS  int64  `db:"latency_ms" json:"latency_ms"`

	PromptTokens     int      `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int      `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int      `db:"total_tokens" json:"total_tokens"`
	CostUSD          *float64 `db:"cost_usd" json:"cost_usd,omitempty"`

	Output       string `db:"output" json:"output,omitempty"`
	ErrorKind    string `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage string `db:"error_message" json:"error_message,omitempty"`

	Metadata JSONB `db:"metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewEvalRecord flattens a pipeline result into a persistable record.
func NewEvalRecord(runID, providerID, vendor, mode, model string, result *eval.Result) *EvalRecord {
	rec := &EvalRecord{
		ID:         uuid.New(),
		RunID:      runID,
		ProviderID: providerID,
		Vendor:     vendor,
		Mode:       mode,
		ModelName:  model,
		Cached:     result.Cached,
		CostUSD:    result.CostUSD,
		Output:     result.Output,
		Metadata:   JSONB(result.Metadata),
		CreatedAt:  time.Now(),
	}
	if result.TokenUsage != nil {
		rec.PromptTokens = result.TokenUsage.Prompt
		rec.CompletionTokens = result.TokenUsage.Completion
		rec.TotalTokens = result.TokenUsage.Total
	}
	if result.Error != nil {
		rec.ErrorKind = string(result.Error.Kind)
		rec.ErrorMessage = result.Error.Message
	}
	return rec
}
