package logging

import (
	"time"

	"eval_harness/internal/eval"
)

// ResultRecord is one evaluation call as written to the results log
// (JSONL file locally, or Redis buffer then S3 for fleet runs).
type ResultRecord struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`

	Provider string `json:"provider"`
	Vendor   string `json:"vendor"`
	Mode     string `json:"mode"`
	Model    string `json:"model"`

	SessionKey string `json:"session_key,omitempty"`
	Cached     bool   `json:"cached"`
	Attempts   int    `json:"attempts"`
	LatencyMs  int64  `json:"latency_ms"`

	PromptTokens     int      `json:"prompt_tokens,omitempty"`
	CompletionTokens int      `json:"completion_tokens,omitempty"`
	CostUSD          *float64 `json:"cost_usd,omitempty"`

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error,omitempty"`

	Output string `json:"output,omitempty"`
}

// NewResultRecord flattens a pipeline result into a log record.
func NewResultRecord(providerID, vendor, mode, model string, result *eval.Result) *ResultRecord {
	rec := &ResultRecord{
		Timestamp: time.Now(),
		Provider:  providerID,
		Vendor:    vendor,
		Mode:      mode,
		Model:     model,
		Cached:    result.Cached,
		CostUSD:   result.CostUSD,
		Output:    result.Output,
	}
	if result.TokenUsage != nil {
		rec.PromptTokens = result.TokenUsage.Prompt
		rec.CompletionTokens = result.TokenUsage.Completion
	}
	if result.Error != nil {
		rec.ErrorKind = string(result.Error.Kind)
		rec.ErrorMessage = result.Error.Message
	}
	return rec
}

// Sink receives result records from the pipeline.
type Sink interface {
	Enqueue(rec *ResultRecord) error
	Close() error
}

// NoopSink discards records; used when result logging is disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (s *NoopSink) Enqueue(rec *ResultRecord) error { return nil }

func (s *NoopSink) Close() error { return nil }
