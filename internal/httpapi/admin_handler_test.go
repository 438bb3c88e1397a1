package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eval_harness/internal/eval"
	"eval_harness/internal/models"
	"eval_harness/internal/queue"
	"eval_harness/internal/storage"
)

// adminDependencies wires a result worker over in-memory queues. The worker
// is never started so staged records stay visible to the endpoints.
func adminDependencies(t *testing.T, apiKeySHA256 string) (*Dependencies, queue.Queue, queue.DeadLetterQueue) {
	t.Helper()
	deps := testDependencies(t, apiKeySHA256)

	cfg := queue.DefaultConfig("test-admin")
	q := queue.NewMemoryQueue(cfg)
	dlq := queue.NewMemoryDeadLetterQueue()
	t.Cleanup(func() {
		_ = q.Close()
		_ = dlq.Close()
	})

	deps.ResultWorker = storage.NewResultQueueWorker(q, dlq, nil, cfg)
	return deps, q, dlq
}

func stagedRecord(runID string) *models.EvalRecord {
	return models.NewEvalRecord(runID, "echo:chat:test", "echo", "chat", "test",
		eval.Success("ok", nil))
}

func TestHandleQueueStatus(t *testing.T) {
	deps, q, _ := adminDependencies(t, "")
	mux := NewRouter(deps)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, stagedRecord("run-1")))
	require.NoError(t, q.Enqueue(ctx, stagedRecord("run-1")))

	req := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp["length"])
}

func TestHandleDeadLetterList(t *testing.T) {
	deps, _, dlq := adminDependencies(t, "")
	mux := NewRouter(deps)
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/deadletter", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Items []queue.DeadLetterItem `json:"items"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Items)
	})

	require.NoError(t, dlq.Add(ctx, stagedRecord("run-2"), fmt.Errorf("insert refused")))

	t.Run("one parked record", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/deadletter", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Items []queue.DeadLetterItem `json:"items"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Items, 1)
		assert.Equal(t, "insert refused", resp.Items[0].Error)
		assert.Equal(t, "run-2", resp.Items[0].Record.RunID)
	})

	t.Run("bad limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/deadletter?limit=nope", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleDeadLetterRetry(t *testing.T) {
	deps, q, dlq := adminDependencies(t, "")
	mux := NewRouter(deps)
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, stagedRecord("run-3"), fmt.Errorf("insert refused")))
	items, err := dlq.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	post := func(body map[string]any) *httptest.ResponseRecorder {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/v1/deadletter/retry", bytes.NewReader(encoded))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	t.Run("unknown id", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, post(map[string]any{"id": "no-such-id"}).Code)
	})

	t.Run("missing id", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, post(map[string]any{}).Code)
	})

	t.Run("requeues the record", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, post(map[string]any{"id": items[0].ID}).Code)

		length, err := q.Length(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, length)

		remaining, err := dlq.List(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, remaining)
	})
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	sum := sha256.Sum256([]byte("admin-secret"))
	deps, _, _ := adminDependencies(t, hex.EncodeToString(sum[:]))
	mux := NewRouter(deps)

	for _, path := range []string{"/v1/queue", "/v1/deadletter"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}
