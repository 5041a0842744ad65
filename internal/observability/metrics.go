package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/solar-dashboard-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// Inbound request rate by route and status class.
	HTTPRequestsTotal *prometheus.CounterVec

	// Inbound latency. A cold miss spans the whole fan-out, so expect a bimodal shape.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Outbound provider calls by provider (weather, solar) and status label.
	UpstreamCallsTotal *prometheus.CounterVec

	// Outbound provider latency. Watch p99 against fanout.city_timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Outbound failures by provider and error category.
	UpstreamErrorsTotal *prometheus.CounterVec

	// Per-city outcomes: success or skipped.
	CitiesFetchedTotal *prometheus.CounterVec

	// Wall time of one full fan-out.
	FanoutDuration prometheus.Histogram

	// Blob store operations by operation (get, put) and result (hit, miss, success, error).
	BlobStoreOperationsTotal *prometheus.CounterVec

	// Blob store latency by operation and result.
	BlobStoreOperationDuration *prometheus.HistogramVec

	// Daily cache hits.
	CacheHitsTotal prometheus.Counter

	// Daily cache misses by reason (absent, unconfigured, read_error, parse_error).
	CacheMissesTotal *prometheus.CounterVec

	// Concurrent misses observed for the same daily key within this process.
	CacheStampedeConcurrency prometheus.Histogram

	// Scheduled pre-warm runs by result.
	CachePrewarmTotal *prometheus.CounterVec

	// Inbound rate limit denials (429).
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per provider: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: []float64{.005, .025, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of calls to the weather and solar providers",
		},
		[]string{"provider", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Provider call latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"provider", "status"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "Provider call failures by error category",
		},
		[]string{"provider", "category"},
	)
	CitiesFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citiesFetchedTotal",
			Help: "Per-city fan-out outcomes (success or skipped)",
		},
		[]string{"outcome"},
	)
	FanoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fanoutDurationSeconds",
			Help:    "Duration of one fan-out across all registry cities",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)
	BlobStoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobStoreOperationsTotal",
			Help: "Blob store operations by operation and result",
		},
		[]string{"operation", "result"},
	)
	BlobStoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blobStoreOperationDurationSeconds",
			Help:    "Blob store operation latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation", "result"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Requests served from the daily cache blob",
		},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Requests that ran the fan-out, by miss reason",
		},
		[]string{"reason"},
	)
	CacheStampedeConcurrency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent misses for the same daily key when a stampede is detected",
			Buckets: []float64{2, 3, 5, 10, 20, 50},
		},
	)
	CachePrewarmTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachePrewarmTotal",
			Help: "Scheduled daily cache pre-warm runs by result",
		},
		[]string{"result"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Provider circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"provider"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamErrorsTotal,
		CitiesFetchedTotal, FanoutDuration,
		BlobStoreOperationsTotal, BlobStoreOperationDuration,
		CacheHitsTotal, CacheMissesTotal, CacheStampedeConcurrency, CachePrewarmTotal,
		RateLimitDeniedTotal, CircuitBreakerState,
	)
}

// RegisterRateLimitGauges registers sliding-window load and reject gauges for
// the rate-limited route. Call once from main with the rate limit window.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting the rate-limited path in the sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in the sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// ObserveBlobStore records one blob store operation.
func ObserveBlobStore(operation, result string, start time.Time) {
	BlobStoreOperationsTotal.WithLabelValues(operation, result).Inc()
	BlobStoreOperationDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
