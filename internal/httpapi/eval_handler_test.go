package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eval_harness/internal/config"
	"eval_harness/internal/pipeline"
	"eval_harness/internal/providers"
)

func testDependencies(t *testing.T, apiKeySHA256 string) *Dependencies {
	t.Helper()
	registry := providers.NewRegistry(providers.NewFactory())
	t.Cleanup(func() { _ = registry.Close() })

	engine := pipeline.NewEngine(pipeline.Options{
		Registry: registry,
		Resolver: &config.Resolver{
			Defaults:    config.DefaultDefaults(),
			RequiresKey: registry.RequiresKey,
			Getenv:      func(string) string { return "" },
		},
	})

	return &Dependencies{
		APIKeySHA256: apiKeySHA256,
		Engine:       engine,
		Registry:     registry,
	}
}

func postEval(t *testing.T, mux http.Handler, body map[string]any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/eval", bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleEval(t *testing.T) {
	mux := NewRouter(testDependencies(t, ""))

	rec := postEval(t, mux, map[string]any{
		"provider": "echo:chat:test",
		"prompt":   "Summarize {{topic}}.",
		"vars":     map[string]string{"topic": "tides"},
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp evalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "echo:chat:test", resp.Provider)
	require.NotNil(t, resp.Result)
	assert.Nil(t, resp.Result.Error)
	assert.Equal(t, "Summarize tides.", resp.Result.Output)
}

func TestHandleEvalFailureInsideResult(t *testing.T) {
	mux := NewRouter(testDependencies(t, ""))

	// Pipeline failures still answer 200; the error rides inside the result.
	rec := postEval(t, mux, map[string]any{
		"provider": "unknown:chat:model",
		"prompt":   "hello",
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp evalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result.Error)
	assert.Empty(t, resp.Result.Output)
}

func TestHandleEvalBadRequests(t *testing.T) {
	mux := NewRouter(testDependencies(t, ""))

	t.Run("missing provider", func(t *testing.T) {
		rec := postEval(t, mux, map[string]any{"prompt": "hello"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/eval", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/eval", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleEvalAuth(t *testing.T) {
	apiKey := "test-secret"
	sum := sha256.Sum256([]byte(apiKey))
	mux := NewRouter(testDependencies(t, hex.EncodeToString(sum[:])))

	body := map[string]any{"provider": "echo:chat:test", "prompt": "hello"}

	t.Run("missing token", func(t *testing.T) {
		rec := postEval(t, mux, body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		rec := postEval(t, mux, body, map[string]string{"Authorization": "Bearer wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		rec := postEval(t, mux, body, map[string]string{"Authorization": "Basic abc"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		rec := postEval(t, mux, body, map[string]string{"Authorization": "Bearer " + apiKey})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	mux := NewRouter(testDependencies(t, ""))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
}

func TestHandleEvalLatencyReported(t *testing.T) {
	mux := NewRouter(testDependencies(t, ""))

	start := time.Now()
	rec := postEval(t, mux, map[string]any{"provider": "echo:chat:test", "prompt": "hi"}, nil)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp evalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp.LatencyMs, int64(0))
	assert.LessOrEqual(t, resp.LatencyMs, elapsed.Milliseconds()+1)
}
