package monitoring

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds application metrics. Collectors are registered on a private registry
// so several instances can coexist in one process (tests, CLI).
type Metrics struct {
	registry *prometheus.Registry

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	predictions        *prometheus.CounterVec
	predictionDuration *prometheus.HistogramVec
	artifactSlots      *prometheus.GaugeVec
	bundleGeneration   prometheus.Gauge
	cacheRequests      *prometheus.CounterVec
	historyWrites      *prometheus.CounterVec
	rateLimitBlocks    *prometheus.CounterVec
	circuitTransitions *prometheus.CounterVec

	// Snapshot counters for /health
	RequestCount int64
	ErrorCount   int64
	CacheHits    int64
	CacheMisses  int64
	StartTime    time.Time
}

// NewMetrics creates a new metrics instance with Go runtime and process collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loan_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_predictions_total",
				Help: "Total number of predictions by model version and decision",
			},
			[]string{"model_version", "decision"},
		),
		predictionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loan_prediction_duration_seconds",
				Help:    "Duration of predictions in seconds",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"model_version"},
		),
		artifactSlots: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loan_artifact_slot_loaded",
				Help: "Whether an artifact slot is loaded (1) or absent (0)",
			},
			[]string{"slot"},
		),
		bundleGeneration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "loan_artifact_bundle_generation",
				Help: "Generation of the active artifact bundle",
			},
		),
		cacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_prediction_cache_requests_total",
				Help: "Prediction cache lookups by result",
			},
			[]string{"result"},
		),
		historyWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_history_writes_total",
				Help: "Prediction history writes by outcome",
			},
			[]string{"outcome"},
		),
		rateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_rate_limit_blocks_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"backend"},
		),
		circuitTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_circuit_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"name", "state"},
		),
		StartTime: time.Now(),
	}
}

// Registry exposes the underlying registry for gathering in tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest records one served HTTP request
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	atomic.AddInt64(&m.RequestCount, 1)
	if status >= 400 {
		atomic.AddInt64(&m.ErrorCount, 1)
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordPrediction records one prediction outcome
func (m *Metrics) RecordPrediction(modelVersion, decision string, duration time.Duration) {
	m.predictions.WithLabelValues(modelVersion, decision).Inc()
	m.predictionDuration.WithLabelValues(modelVersion).Observe(duration.Seconds())
}

// SetArtifactSlot records whether slot is loaded
func (m *Metrics) SetArtifactSlot(slot string, loaded bool) {
	v := 0.0
	if loaded {
		v = 1
	}
	m.artifactSlots.WithLabelValues(slot).Set(v)
}

// SetBundleGeneration records the active bundle generation
func (m *Metrics) SetBundleGeneration(generation uint64) {
	m.bundleGeneration.Set(float64(generation))
}

// IncrementCacheHit increments cache hit count
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
	m.cacheRequests.WithLabelValues("hit").Inc()
}

// IncrementCacheMiss increments cache miss count
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
	m.cacheRequests.WithLabelValues("miss").Inc()
}

// RecordHistoryWrite records a history persistence attempt: ok, failed or skipped
func (m *Metrics) RecordHistoryWrite(outcome string) {
	m.historyWrites.WithLabelValues(outcome).Inc()
}

// IncrementRateLimitBlock records a request rejected by the given limiter backend
func (m *Metrics) IncrementRateLimitBlock(backend string) {
	m.rateLimitBlocks.WithLabelValues(backend).Inc()
}

// RecordCircuitTransition records a circuit breaker entering state
func (m *Metrics) RecordCircuitTransition(name, state string) {
	m.circuitTransitions.WithLabelValues(name, state).Inc()
}

// GetStats returns a snapshot of the request and cache counters
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)
	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	cacheHitRate := float64(0)
	if total := cacheHits + cacheMisses; total > 0 {
		cacheHitRate = float64(cacheHits) / float64(total) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":         time.Since(m.StartTime).Seconds(),
		"total_requests":         requests,
		"error_count":            errors,
		"error_rate_percent":     errorRate,
		"cache_hits":             cacheHits,
		"cache_misses":           cacheMisses,
		"cache_hit_rate_percent": cacheHitRate,
		"start_time":             m.StartTime.Format(time.RFC3339),
	}
}
