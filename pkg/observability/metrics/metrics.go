// Package metrics exposes Prometheus instrumentation for the cache engine,
// the resilience layer, and the stream replayer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by match tier (exact|template).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "The total number of cache hits by match tier",
		},
		[]string{"match"},
	)

	// CacheMisses tracks cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "The total number of cache misses",
		},
	)

	// CacheOperationDuration tracks the duration of cache operations by backend and operation type.
	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "The duration of cache operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"backend", "operation"},
	)

	// CacheOperationTotal tracks the total number of cache operations by backend, operation, and status.
	CacheOperationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "The total number of cache operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// CacheEntriesTotal tracks the number of live entries per backend tier.
	CacheEntriesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries_total",
			Help: "The total number of entries in the cache",
		},
		[]string{"backend"},
	)

	// CacheScore observes the composite score of admitted template hits.
	CacheScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cache_composite_score",
			Help:    "Composite similarity score of admitted template hits",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.87, 0.9, 0.95, 0.99, 1.0},
		},
	)

	// BreakerState reports the current circuit breaker state per dependency (0=closed,1=half-open,2=open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_breaker_state",
			Help: "Circuit breaker state per dependency: 0=closed, 1=half-open, 2=open",
		},
		[]string{"dependency"},
	)

	// DegradationMode reports the currently active degradation mode as a gauge with a value of 1 on the active label.
	DegradationMode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_degradation_mode",
			Help: "Active degradation mode; the gauge for the current mode is set to 1, all others to 0",
		},
		[]string{"mode"},
	)

	// ReplayChunksEmitted counts SSE chunks emitted by the stream replayer.
	ReplayChunksEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_replay_chunks_total",
			Help: "The total number of streaming chunks emitted during deterministic replay",
		},
	)
)

// RecordCacheHit records a cache hit for the given match tier.
func RecordCacheHit(match string) {
	CacheHits.WithLabelValues(match).Inc()
}

// RecordCacheMiss records a cache miss.
func RecordCacheMiss() {
	CacheMisses.Inc()
}

// RecordCacheOperation records a cache operation with duration and status.
func RecordCacheOperation(backend, operation, status string, seconds float64) {
	CacheOperationDuration.WithLabelValues(backend, operation).Observe(seconds)
	CacheOperationTotal.WithLabelValues(backend, operation, status).Inc()
}

// UpdateCacheEntries updates the current number of cache entries for a backend.
func UpdateCacheEntries(backend string, count int) {
	CacheEntriesTotal.WithLabelValues(backend).Set(float64(count))
}

// RecordCompositeScore observes an admitted composite score.
func RecordCompositeScore(score float64) {
	CacheScore.Observe(score)
}

var knownModes = []string{"full", "exact_only", "template_only", "full_without_semantic", "template_without_semantic", "passthrough"}

// SetDegradationMode marks `mode` active and clears all other known modes.
func SetDegradationMode(mode string) {
	for _, m := range knownModes {
		if m == mode {
			DegradationMode.WithLabelValues(m).Set(1)
		} else {
			DegradationMode.WithLabelValues(m).Set(0)
		}
	}
}

// BreakerStateValue enumerates the numeric encoding used for BreakerState.
type BreakerStateValue float64

const (
	BreakerClosed   BreakerStateValue = 0
	BreakerHalfOpen BreakerStateValue = 1
	BreakerOpen     BreakerStateValue = 2
)

// SetBreakerState reports the current state of a dependency's circuit breaker.
func SetBreakerState(dependency string, state BreakerStateValue) {
	BreakerState.WithLabelValues(dependency).Set(float64(state))
}

// RecordReplayChunk increments the replay chunk counter.
func RecordReplayChunk() {
	ReplayChunksEmitted.Inc()
}
