// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for production observability:
// - Upstream API client requests, retries and pagination depth
// - Sync operation outcomes and durations
// - Response cache efficiency per cache class
// - Rate limiter waits
// - Circuit breaker state

var (
	// Upstream API client metrics

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsync_api_requests_total",
			Help: "Total upstream API requests by resource and outcome",
		},
		[]string{"resource", "outcome"}, // outcome: "success", "error", "cache_hit"
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adsync_api_request_duration_seconds",
			Help:    "Duration of upstream API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource"},
	)

	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsync_api_retries_total",
			Help: "Total in-place retries by error class",
		},
		[]string{"class"}, // "rate_limit", "transient"
	)

	APIPagesFetched = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adsync_api_pages_per_call",
			Help:    "Pages fetched per paginated list call",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	// Sync engine metrics

	SyncOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsync_sync_operations_total",
			Help: "Total sync runs by outcome",
		},
		[]string{"outcome"}, // "success", "partial", "error", "skipped"
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adsync_sync_duration_seconds",
			Help:    "Duration of full account sync runs in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	SyncEntitiesUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsync_sync_entities_upserted_total",
			Help: "Total entities upserted by level",
		},
		[]string{"level"}, // "campaign", "adset", "ad"
	)

	SyncItemErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsync_sync_item_errors_total",
			Help: "Total per-item sync errors by level",
		},
		[]string{"level"},
	)

	// Response cache metrics

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsync_cache_hits_total",
			Help: "Total response cache hits by cache class",
		},
		[]string{"class"}, // "accounts", "entities", "insights"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsync_cache_misses_total",
			Help: "Total response cache misses by cache class",
		},
		[]string{"class"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsync_cache_evictions_total",
			Help: "Total response cache evictions by cache class",
		},
		[]string{"class"},
	)

	// Rate limiter metrics

	RateLimiterWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsync_ratelimit_waits_total",
			Help: "Total times a caller had to wait for a rate limit gate",
		},
		[]string{"scope"}, // "global", "resource"
	)

	RateLimiterWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adsync_ratelimit_wait_duration_seconds",
			Help:    "Time spent waiting on rate limit gates in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"scope"},
	)

	// Circuit breaker metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsync_circuit_breaker_requests_total",
			Help: "Total requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	// Token lifecycle metrics

	TokenValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsync_token_validations_total",
			Help: "Total token introspection calls by outcome",
		},
		[]string{"outcome"}, // "valid", "invalid", "error"
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsync_token_refreshes_total",
			Help: "Total token refresh exchanges by outcome",
		},
		[]string{"outcome"}, // "refreshed", "skipped", "error"
	)
)

// RecordSyncOperation records the outcome and duration of one sync run.
// Outcome is derived from the error and the collected item errors: a run
// with a batch-level error is "error", a run that completed with item
// errors is "partial", otherwise "success".
func RecordSyncOperation(duration time.Duration, itemErrors int, err error) {
	SyncDuration.Observe(duration.Seconds())

	switch {
	case err != nil:
		SyncOperations.WithLabelValues("error").Inc()
	case itemErrors > 0:
		SyncOperations.WithLabelValues("partial").Inc()
	default:
		SyncOperations.WithLabelValues("success").Inc()
	}
}
