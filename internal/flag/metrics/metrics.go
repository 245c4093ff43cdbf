package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the flag module. All methods are
// nil-safe so tests can pass a nil *Metrics and skip registration.
type Metrics struct {
	// Cache traffic by namespace ("data", "eval") and outcome ("hit", "miss").
	CacheRequests *prometheus.CounterVec

	// Cache backend failures that were downgraded to misses or no-ops.
	CacheFailures *prometheus.CounterVec

	// Cache invalidations triggered by mutations.
	CacheInvalidations prometheus.Counter

	// Evaluation outcomes by result.
	Evaluations *prometheus.CounterVec

	// Full evaluate operation latency, cache hits included.
	EvaluateLatency prometheus.Histogram
}

// New creates a Metrics instance with all flag module metrics registered on
// the default registry. Call once per process.
func New() *Metrics {
	return &Metrics{
		CacheRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flaggate_cache_requests_total",
			Help: "Total cache lookups by namespace and outcome",
		}, []string{"namespace", "outcome"}),

		CacheFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flaggate_cache_failures_total",
			Help: "Cache backend failures downgraded to misses or no-ops",
		}, []string{"operation"}),

		CacheInvalidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flaggate_cache_invalidations_total",
			Help: "Cache invalidations triggered by flag mutations",
		}),

		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flaggate_evaluations_total",
			Help: "Flag evaluations by result",
		}, []string{"result"}),

		EvaluateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "flaggate_evaluate_duration_seconds",
			Help:    "Duration of flag evaluation including cache lookups",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

// RecordCacheHit counts a cache hit for a namespace.
func (m *Metrics) RecordCacheHit(namespace string) {
	if m != nil {
		m.CacheRequests.WithLabelValues(namespace, "hit").Inc()
	}
}

// RecordCacheMiss counts a cache miss for a namespace.
func (m *Metrics) RecordCacheMiss(namespace string) {
	if m != nil {
		m.CacheRequests.WithLabelValues(namespace, "miss").Inc()
	}
}

// RecordCacheFailure counts a swallowed cache backend failure.
func (m *Metrics) RecordCacheFailure(operation string) {
	if m != nil {
		m.CacheFailures.WithLabelValues(operation).Inc()
	}
}

// RecordInvalidation counts a mutation-triggered invalidation.
func (m *Metrics) RecordInvalidation() {
	if m != nil {
		m.CacheInvalidations.Inc()
	}
}

// RecordEvaluation counts an evaluation outcome ("enabled" or "disabled").
func (m *Metrics) RecordEvaluation(enabled bool) {
	if m != nil {
		result := "disabled"
		if enabled {
			result = "enabled"
		}
		m.Evaluations.WithLabelValues(result).Inc()
	}
}

// ObserveEvaluateLatency records the total evaluate duration.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}
