package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.RecordEval("openai", "gpt-4o-mini", "ok")
	m.RecordEval("openai", "gpt-4o-mini", "cached")
	m.RecordLatency("openai", "gpt-4o-mini", 0.42)
	m.RecordRetry("openai")
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCost("openai", "gpt-4o-mini", 0.0015)
	m.SetActiveSessions(3)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	for _, want := range []string{
		`evalharness_evals_total{model="gpt-4o-mini",outcome="ok",vendor="openai"} 1`,
		`evalharness_evals_total{model="gpt-4o-mini",outcome="cached",vendor="openai"} 1`,
		`evalharness_retries_total{vendor="openai"} 1`,
		`evalharness_cache_hits_total 1`,
		`evalharness_cache_misses_total 1`,
		`evalharness_sessions_active 3`,
	} {
		assert.True(t, strings.Contains(text, want), "missing metric line: %s", want)
	}
	assert.Contains(t, text, "evalharness_eval_latency_seconds_bucket")
	assert.Contains(t, text, "evalharness_cost_usd_total")
}

func TestMetricsIsolatedRegistries(t *testing.T) {
	// Two instances must not collide; each carries a private registry.
	first := New()
	second := New()
	first.RecordCacheHit()
	assert.NotSame(t, first, second)
}
