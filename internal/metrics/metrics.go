package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for the router.
type Registry struct {
	registry *prometheus.Registry

	// Request metrics
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec

	// Cache performance metrics
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	// Coalescer metrics
	CoalescedRequests *prometheus.CounterVec
	RequestsSaved     prometheus.Counter

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// Circuit breaker metrics
	BreakerTransitions *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec

	// Swap lifecycle metrics
	SwapsTotal *prometheus.CounterVec
}

// NewRegistry creates a registry with all router metrics registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solroute_request_duration_seconds",
				Help:    "Duration of router operations in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.35, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"operation", "result"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solroute_requests_total",
				Help: "Total router operations by result",
			},
			[]string{"operation", "result"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "solroute_cache_hit_ratio",
				Help: "Current cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solroute_cache_hits_total",
				Help: "Total cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solroute_cache_misses_total",
				Help: "Total cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		CoalescedRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solroute_coalesced_requests_total",
				Help: "Coalescer outcomes per request: original or duplicate",
			},
			[]string{"kind"},
		),

		RequestsSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "solroute_coalescer_requests_saved_total",
				Help: "Upstream calls avoided by request coalescing",
			},
		),

		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solroute_provider_requests_total",
				Help: "Upstream adapter calls by provider and result",
			},
			[]string{"provider", "operation", "result"},
		),

		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solroute_provider_latency_ms",
				Help:    "Upstream adapter round-trip latency in milliseconds",
				Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2000, 3000, 5000},
			},
			[]string{"provider", "operation"},
		),

		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solroute_breaker_transitions_total",
				Help: "Circuit breaker state transitions by circuit and target state",
			},
			[]string{"circuit", "to_state"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "solroute_breaker_state",
				Help: "Current circuit state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"circuit"},
		),

		SwapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solroute_swaps_total",
				Help: "Swap transaction records by terminal status",
			},
			[]string{"provider", "status"},
		),
	}

	r.registry.MustRegister(
		r.RequestDuration,
		r.RequestsTotal,
		r.CacheHitRatio,
		r.CacheHits,
		r.CacheMisses,
		r.CoalescedRequests,
		r.RequestsSaved,
		r.ProviderRequests,
		r.ProviderLatency,
		r.BreakerTransitions,
		r.BreakerState,
		r.SwapsTotal,
	)

	return r
}

// RecordRequest records one inbound HTTP request, labeled by route and
// status class.
func (r *Registry) RecordRequest(method, route string, status int, duration time.Duration) {
	operation := method + " " + route
	result := fmt.Sprintf("%dxx", status/100)
	r.RequestDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
	r.RequestsTotal.WithLabelValues(operation, result).Inc()
}

// OperationTimer tracks execution time for a router operation.
type OperationTimer struct {
	metrics   *Registry
	operation string
	start     time.Time
}

// StartTimer begins timing an operation.
func (r *Registry) StartTimer(operation string) *OperationTimer {
	return &OperationTimer{metrics: r, operation: operation, start: time.Now()}
}

// Stop completes the timing and records the metric.
func (t *OperationTimer) Stop(result string) {
	duration := time.Since(t.start)
	t.metrics.RequestDuration.WithLabelValues(t.operation, result).Observe(duration.Seconds())
	t.metrics.RequestsTotal.WithLabelValues(t.operation, result).Inc()
}

// RecordCacheHit records a cache hit for the given cache type (the first
// `:`-segment of the key).
func (r *Registry) RecordCacheHit(cacheType string) {
	r.CacheHits.WithLabelValues(cacheType).Inc()
	r.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss for the given cache type.
func (r *Registry) RecordCacheMiss(cacheType string) {
	r.CacheMisses.WithLabelValues(cacheType).Inc()
	r.updateCacheHitRatio()
}

// RecordCoalesced records one coalescer finalization: the original request
// plus the duplicates that piggybacked on it.
func (r *Registry) RecordCoalesced(duplicates int) {
	r.CoalescedRequests.WithLabelValues("original").Inc()
	if duplicates > 0 {
		r.CoalescedRequests.WithLabelValues("duplicate").Add(float64(duplicates))
		r.RequestsSaved.Add(float64(duplicates))
	}
}

// RecordProviderCall records an upstream adapter call outcome.
func (r *Registry) RecordProviderCall(provider, operation, result string, latency time.Duration) {
	r.ProviderRequests.WithLabelValues(provider, operation, result).Inc()
	r.ProviderLatency.WithLabelValues(provider, operation).Observe(float64(latency.Milliseconds()))
}

// RecordBreakerTransition records a circuit state change.
func (r *Registry) RecordBreakerTransition(circuit, toState string, stateValue float64) {
	r.BreakerTransitions.WithLabelValues(circuit, toState).Inc()
	r.BreakerState.WithLabelValues(circuit).Set(stateValue)
	log.Debug().Str("circuit", circuit).Str("to_state", toState).Msg("Circuit breaker transition")
}

// RecordSwap records a swap record reaching a status.
func (r *Registry) RecordSwap(provider, status string) {
	r.SwapsTotal.WithLabelValues(provider, status).Inc()
}

// cacheTypes are the key prefixes tracked for the aggregate hit ratio.
var cacheTypes = []string{"quote", "route", "provider_quote", "token", "lock"}

// updateCacheHitRatio recomputes the hit-ratio gauge from the hit and miss
// counters across all cache types.
func (r *Registry) updateCacheHitRatio() {
	hitMetric := &io_prometheus_client.Metric{}
	missMetric := &io_prometheus_client.Metric{}

	totalHits := 0.0
	totalMisses := 0.0

	for _, cacheType := range cacheTypes {
		if hitCounter, err := r.CacheHits.GetMetricWithLabelValues(cacheType); err == nil {
			if err := hitCounter.Write(hitMetric); err == nil {
				totalHits += hitMetric.GetCounter().GetValue()
			}
		}
		if missCounter, err := r.CacheMisses.GetMetricWithLabelValues(cacheType); err == nil {
			if err := missCounter.Write(missMetric); err == nil {
				totalMisses += missMetric.GetCounter().GetValue()
			}
		}
	}

	total := totalHits + totalMisses
	if total > 0 {
		r.CacheHitRatio.Set(totalHits / total)
	}
}

// Handler returns an HTTP handler for Prometheus metrics exposition.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
