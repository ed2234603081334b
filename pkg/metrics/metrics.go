// Package metrics provides Prometheus metrics for the pricing system.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LookupsTotal is a counter of aggregated lookups by mode and outcome.
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_lookups_total",
			Help: "Total number of price/quote lookups by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// CacheHitsTotal is a counter of cache hits.
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"mode"},
	)

	// CacheMissesTotal is a counter of cache misses.
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"mode"},
	)

	// CacheSize is a gauge of the number of live cache entries.
	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricing_cache_size",
			Help: "Number of unexpired entries in the result cache",
		},
	)

	// SourceAttemptsTotal is a counter of per-source fetch attempts.
	SourceAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_source_attempts_total",
			Help: "Total number of source fetch attempts by outcome",
		},
		[]string{"source", "outcome"},
	)

	// SourceFetchDuration is a histogram of per-source fetch latencies.
	SourceFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricing_source_fetch_duration_seconds",
			Help:    "Duration of source fetch attempts",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	// ValidationRejectionsTotal is a counter of validator rejections.
	ValidationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_validation_rejections_total",
			Help: "Total number of results rejected by the validator",
		},
		[]string{"source", "reason"},
	)

	// SingleflightSharedTotal is a counter of lookups served by a coalesced in-flight call.
	SingleflightSharedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricing_singleflight_shared_total",
			Help: "Total number of lookups that piggybacked on an in-flight fetch",
		},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)
)

// Init registers all metrics with the default Prometheus registry.
func Init() {
	prometheus.MustRegister(
		LookupsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheSize,
		SourceAttemptsTotal,
		SourceFetchDuration,
		ValidationRejectionsTotal,
		SingleflightSharedTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ServeHTTP serves Prometheus metrics on the specified address.
func ServeHTTP(addr string) error {
	http.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      http.DefaultServeMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// RecordLookup records a completed lookup.
func RecordLookup(mode, outcome string) {
	LookupsTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordCacheHit records a cache hit for the given mode.
func RecordCacheHit(mode string) {
	CacheHitsTotal.WithLabelValues(mode).Inc()
}

// RecordCacheMiss records a cache miss for the given mode.
func RecordCacheMiss(mode string) {
	CacheMissesTotal.WithLabelValues(mode).Inc()
}

// SetCacheSize records the current number of live cache entries.
func SetCacheSize(n int) {
	CacheSize.Set(float64(n))
}

// RecordSourceAttempt records one source fetch attempt and its latency.
func RecordSourceAttempt(source, outcome string, duration time.Duration) {
	SourceAttemptsTotal.WithLabelValues(source, outcome).Inc()
	SourceFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordValidationRejection records a validator rejection.
func RecordValidationRejection(source, reason string) {
	ValidationRejectionsTotal.WithLabelValues(source, reason).Inc()
}

// RecordSingleflightShared records a lookup served by an in-flight fetch.
func RecordSingleflightShared() {
	SingleflightSharedTotal.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
