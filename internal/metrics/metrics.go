package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks pipeline health and performance.
//
// Metrics:
//   - evalharness_evals_total: evaluation count by vendor, model and outcome
//   - evalharness_eval_latency_seconds: vendor call latency
//   - evalharness_retries_total: retry attempts by vendor
//   - evalharness_cache_hits_total / _misses_total: response cache traffic
//   - evalharness_cost_usd_total: accumulated spend by vendor and model
//   - evalharness_sessions_active: live session handles in the pool
type Metrics struct {
	registry *prometheus.Registry

	evals   *prometheus.CounterVec
	latency *prometheus.HistogramVec
	retries *prometheus.CounterVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	costUSD *prometheus.CounterVec

	sessionsActive prometheus.Gauge
}

// New creates and registers all pipeline metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		evals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evalharness",
				Name:      "evals_total",
				Help:      "Total number of evaluations by outcome",
			},
			[]string{"vendor", "model", "outcome"},
		),

		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "evalharness",
				Name:      "eval_latency_seconds",
				Help:      "Vendor call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"vendor", "model"},
		),

		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evalharness",
				Name:      "retries_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"vendor"},
		),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evalharness",
			Name:      "cache_hits_total",
			Help:      "Total number of response cache hits",
		}),

		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evalharness",
			Name:      "cache_misses_total",
			Help:      "Total number of response cache misses",
		}),

		costUSD: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evalharness",
				Name:      "cost_usd_total",
				Help:      "Accumulated cost in USD for calls with known pricing",
			},
			[]string{"vendor", "model"},
		),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evalharness",
			Name:      "sessions_active",
			Help:      "Current number of live session handles",
		}),
	}

	registry.MustRegister(
		m.evals,
		m.latency,
		m.retries,
		m.cacheHits,
		m.cacheMisses,
		m.costUSD,
		m.sessionsActive,
	)

	return m
}

// RecordEval records one completed evaluation. outcome is "ok", the error
// kind for failures, or "cached" for cache hits.
func (m *Metrics) RecordEval(vendor, model, outcome string) {
	m.evals.WithLabelValues(vendor, model, outcome).Inc()
}

// RecordLatency records the wall time of one vendor call.
func (m *Metrics) RecordLatency(vendor, model string, seconds float64) {
	m.latency.WithLabelValues(vendor, model).Observe(seconds)
}

// RecordRetry records one retry attempt.
func (m *Metrics) RecordRetry(vendor string) {
	m.retries.WithLabelValues(vendor).Inc()
}

// RecordCacheHit records a response cache hit.
func (m *Metrics) RecordCacheHit() { m.cacheHits.Inc() }

// RecordCacheMiss records a response cache miss.
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Inc() }

// RecordCost adds a known call cost to the spend counter.
func (m *Metrics) RecordCost(vendor, model string, usd float64) {
	m.costUSD.WithLabelValues(vendor, model).Add(usd)
}

// SetActiveSessions updates the live session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.sessionsActive.Set(float64(n))
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
