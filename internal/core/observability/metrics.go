// Package observability defines the domain metrics recorded across the
// service. Metrics are created once at package level and attached to a
// registry via Init, so tests can use an isolated registry.
package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	upstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Upstream fetch errors by kind.",
		},
		[]string{"upstream", "kind"},
	)

	cacheResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Query-level cache results by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Store operations by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	cacheOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	rateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by the local rate limiter.",
		},
		[]string{"limiter"},
	)

	evictedEntitiesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "evicted_entities_total",
			Help: "Entities removed by age-based eviction.",
		},
	)

	invalidationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Invalidation events by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sitecache_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

var initOnce sync.Once

// Init registers the domain metrics with reg. Passing nil leaves them
// unregistered; observation calls stay cheap no-op-ish either way.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	initOnce.Do(func() {
		reg.MustRegister(
			httpRequestsTotal,
			httpRequestDurationSeconds,
			upstreamLatencySeconds,
			upstreamErrorsTotal,
			cacheResultsTotal,
			cacheOpTotal,
			cacheOpDurationSeconds,
			rateLimitRejectionsTotal,
			evictedEntitiesTotal,
			invalidationEventsTotal,
			buildInfo,
		)
	})
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncUpstreamError(upstream, kind string) {
	upstreamErrorsTotal.WithLabelValues(upstream, kind).Inc()
}

func IncCacheHit()   { cacheResultsTotal.WithLabelValues("hit").Inc() }
func IncCacheMiss()  { cacheResultsTotal.WithLabelValues("miss").Inc() }
func IncCacheStale() { cacheResultsTotal.WithLabelValues("stale").Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOpTotal.WithLabelValues(op, outcome).Inc()
	cacheOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncRateLimitRejection(limiter string) {
	rateLimitRejectionsTotal.WithLabelValues(limiter).Inc()
}

func AddEvictedEntities(n int) {
	if n > 0 {
		evictedEntitiesTotal.Add(float64(n))
	}
}

func ObserveInvalidation(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	invalidationEventsTotal.WithLabelValues(op, outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
