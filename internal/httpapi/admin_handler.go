package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"eval_harness/internal/queue"
	"eval_harness/internal/storage"
)

// handleQueueStatus reports the depth of the persistence queue.
func (d *Dependencies) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	length, err := d.ResultWorker.GetQueueLength(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read queue length")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"length": length})
}

// handleDeadLetterList returns records parked after exhausted insert retries.
func (d *Dependencies) handleDeadLetterList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	items, err := d.ResultWorker.GetDeadLetterItems(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list dead letter items")
		return
	}
	if items == nil {
		items = []queue.DeadLetterItem{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
}

// deadLetterRetryRequest is the JSON body of POST /v1/deadletter/retry.
type deadLetterRetryRequest struct {
	ID string `json:"id"`
}

// handleDeadLetterRetry re-enqueues one parked record.
func (d *Dependencies) handleDeadLetterRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body deadLetterRetryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.ID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing 'id' field")
		return
	}

	if err := d.ResultWorker.RetryDeadLetterItem(r.Context(), body.ID); err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			writeJSONError(w, http.StatusNotFound, "dead letter item not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to retry dead letter item")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "requeued", "id": body.ID})
}

// handleRun serves persisted run data:
//
//	GET /v1/runs/{id}/records  individual eval records, oldest first
//	GET /v1/runs/{id}/summary  aggregated cost and failure counts
func (d *Dependencies) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	runID := parts[0]
	repo := storage.NewResultRepository(d.DB)

	switch parts[1] {
	case "records":
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
				return
			}
			limit = parsed
		}
		records, err := repo.ListByRun(r.Context(), runID, limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to list run records")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"run_id": runID, "records": records})
	case "summary":
		summary, err := repo.SummarizeRun(r.Context(), runID)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "run not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summary)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}
