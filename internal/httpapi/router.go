package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"eval_harness/internal/logging"
	"eval_harness/internal/metrics"
	"eval_harness/internal/pipeline"
	"eval_harness/internal/providers"
	"eval_harness/internal/storage"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	APIKeySHA256 string

	Engine   *pipeline.Engine
	Registry *providers.Registry
	Metrics  *metrics.Metrics
	Logger   *logging.Logger

	// DB and ResultWorker are nil when persistence is disabled.
	DB           *storage.DB
	ResultWorker *storage.ResultQueueWorker
}

// NewRouter creates an HTTP router over pre-wired dependencies.
func NewRouter(deps *Dependencies) *http.ServeMux {
	if deps.Logger == nil {
		deps.Logger = logging.NewLogger("httpapi")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/eval", requireAPIKey(deps.APIKeySHA256, deps.handleEval))
	mux.HandleFunc("/healthz", deps.handleHealth)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics.Handler())
	}
	if deps.ResultWorker != nil {
		mux.HandleFunc("/v1/queue", requireAPIKey(deps.APIKeySHA256, deps.handleQueueStatus))
		mux.HandleFunc("/v1/deadletter", requireAPIKey(deps.APIKeySHA256, deps.handleDeadLetterList))
		mux.HandleFunc("/v1/deadletter/retry", requireAPIKey(deps.APIKeySHA256, deps.handleDeadLetterRetry))
	}
	if deps.DB != nil {
		mux.HandleFunc("/v1/runs/", requireAPIKey(deps.APIKeySHA256, deps.handleRun))
	}
	return mux
}

// handleHealth reports liveness plus database reachability when configured.
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	code := http.StatusOK

	if d.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.DB.Health(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["database"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
