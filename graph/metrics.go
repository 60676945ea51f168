package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine metrics for Prometheus scraping.
//
// Metrics exposed (all namespaced with "meetgraph_"):
//
// 1. active_jobs (gauge): Jobs currently executing in this process.
//
// 2. stage_latency_ms (histogram): Stage execution duration in milliseconds.
// Labels: stage, outcome (success/suspended/error).
//
// 3. stage_retries_total (counter): Retry attempts.
// Labels: stage, category.
//
// 4. suspensions_total (counter): Jobs parked awaiting a decision.
// Labels: stage.
//
// 5. jobs_finished_total (counter): Jobs that reached a terminal status.
// Labels: status.
//
// 6. llm_tokens_total (counter): Tokens reported by model calls.
// Labels: model, direction (input/output).
//
// Job ids are deliberately not used as labels; their cardinality is unbounded.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(st, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	activeJobs prometheus.Gauge

	stageLatency *prometheus.HistogramVec

	retries      *prometheus.CounterVec
	suspensions  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	llmTokens    *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all engine metrics with
// registry. A nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.activeJobs = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "meetgraph",
		Name:      "active_jobs",
		Help:      "Number of jobs currently executing in this process",
	})

	// Stages range from millisecond routing steps to multi-minute transcriptions.
	pm.stageLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meetgraph",
		Name:      "stage_latency_ms",
		Help:      "Stage execution duration in milliseconds, retries included",
		Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000, 300000},
	}, []string{"stage", "outcome"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetgraph",
		Name:      "stage_retries_total",
		Help:      "Cumulative count of stage retry attempts",
	}, []string{"stage", "category"})

	pm.suspensions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetgraph",
		Name:      "suspensions_total",
		Help:      "Jobs suspended awaiting an external decision",
	}, []string{"stage"})

	pm.jobsFinished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetgraph",
		Name:      "jobs_finished_total",
		Help:      "Jobs that reached a terminal status",
	}, []string{"status"})

	pm.llmTokens = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetgraph",
		Name:      "llm_tokens_total",
		Help:      "Tokens consumed by language model calls",
	}, []string{"model", "direction"})

	return pm
}

func (pm *PrometheusMetrics) isEnabled() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStageLatency observes one stage execution. outcome is "success",
// "suspended" or "error".
func (pm *PrometheusMetrics) RecordStageLatency(stage string, latency time.Duration, outcome string) {
	if !pm.isEnabled() {
		return
	}
	pm.stageLatency.WithLabelValues(stage, outcome).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries counts one retry of stage caused by an error of category.
func (pm *PrometheusMetrics) IncrementRetries(stage string, category Category) {
	if !pm.isEnabled() {
		return
	}
	pm.retries.WithLabelValues(stage, string(category)).Inc()
}

// IncrementSuspensions counts a job parking at stage.
func (pm *PrometheusMetrics) IncrementSuspensions(stage string) {
	if !pm.isEnabled() {
		return
	}
	pm.suspensions.WithLabelValues(stage).Inc()
}

// IncrementJobsFinished counts a job reaching terminal status.
func (pm *PrometheusMetrics) IncrementJobsFinished(status Status) {
	if !pm.isEnabled() {
		return
	}
	pm.jobsFinished.WithLabelValues(string(status)).Inc()
}

// AddTokens records token usage for model.
func (pm *PrometheusMetrics) AddTokens(model string, input, output int) {
	if !pm.isEnabled() {
		return
	}
	pm.llmTokens.WithLabelValues(model, "input").Add(float64(input))
	pm.llmTokens.WithLabelValues(model, "output").Add(float64(output))
}

// UpdateActiveJobs sets the number of jobs executing in this process.
func (pm *PrometheusMetrics) UpdateActiveJobs(n int) {
	if !pm.isEnabled() {
		return
	}
	pm.activeJobs.Set(float64(n))
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
