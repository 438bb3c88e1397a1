package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"eval_harness/internal/eval"
	"eval_harness/internal/models"
)

// evalRequest is the JSON body of POST /v1/eval.
type evalRequest struct {
	Provider   string            `json:"provider"`
	Prompt     string            `json:"prompt,omitempty"`
	Messages   []eval.Message    `json:"messages,omitempty"`
	Vars       map[string]string `json:"vars,omitempty"`
	Overrides  map[string]any    `json:"overrides,omitempty"`
	SessionKey string            `json:"session_key,omitempty"`
	RunID      string            `json:"run_id,omitempty"`
}

// evalResponse wraps the pipeline result with tracing fields.
type evalResponse struct {
	RequestID string       `json:"request_id"`
	Provider  string       `json:"provider"`
	Result    *eval.Result `json:"result"`
	LatencyMs int64        `json:"latency_ms"`
}

// handleEval runs one evaluation.
//
// Flow:
//  1. Validate method and decode JSON body
//  2. Run the call through the pipeline (never returns an error;
//     failures arrive inside the result)
//  3. Stage the record for persistence, if a database is configured
//  4. Return the uniform result
func (d *Dependencies) handleEval(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := uuid.New().String()

	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body evalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Provider == "" {
		writeJSONError(w, http.StatusBadRequest, "missing 'provider' field")
		return
	}

	req := &eval.Request{
		Prompt:     body.Prompt,
		Messages:   body.Messages,
		Vars:       body.Vars,
		Overrides:  body.Overrides,
		SessionKey: body.SessionKey,
	}

	result := d.Engine.Invoke(r.Context(), body.Provider, req)
	latency := time.Since(start)

	if d.ResultWorker != nil {
		spec, err := d.Registry.Parser().Parse(body.Provider)
		if err == nil {
			rec := models.NewEvalRecord(body.RunID, body.Provider, spec.Vendor, string(spec.Mode), spec.Model, result)
			rec.SessionKey = body.SessionKey
			rec.LatencyMS = latency.Milliseconds()
			if err := d.ResultWorker.Enqueue(context.Background(), rec); err != nil {
				d.Logger.Warn("Failed to stage eval record", "error", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(evalResponse{
		RequestID: reqID,
		Provider:  body.Provider,
		Result:    result,
		LatencyMs: latency.Milliseconds(),
	})
}

// writeJSONError writes a uniform error response.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    statusCode,
		},
	}
	_ = json.NewEncoder(w).Encode(errorResp)
}
