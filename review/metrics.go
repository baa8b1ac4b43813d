package review

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics records review execution metrics.
//
// Metrics (namespace "swiss"):
//
//  1. step_latency_ms (histogram): time from prompt dispatch to validated
//     response. Labels: workflow, step, status (success, error).
//  2. findings_total (counter): findings returned by the service.
//     Labels: workflow, step, flagged ("true" when score > ActionThreshold).
//  3. runs_total (counter): finished workflow runs.
//     Labels: workflow, stop_reason (completed, needs_action, error).
//  4. step_errors_total (counter): failed steps.
//     Labels: workflow, step, kind (service, malformed, schema, prompt).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := review.NewPrometheusMetrics(registry)
//	engine := review.New(client, prompts, review.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	stepLatency *prometheus.HistogramVec
	findings    *prometheus.CounterVec
	runs        *prometheus.CounterVec
	stepErrors  *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers the review metrics with registry.
// A nil registry means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "swiss",
		Name:      "step_latency_ms",
		Help:      "Review step duration in milliseconds, from prompt dispatch to validated response",
		Buckets:   []float64{100, 500, 1000, 5000, 10000, 30000, 60000, 120000, 300000},
	}, []string{"workflow", "step", "status"})

	pm.findings = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swiss",
		Name:      "findings_total",
		Help:      "Findings returned by the reasoning service",
	}, []string{"workflow", "step", "flagged"})

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swiss",
		Name:      "runs_total",
		Help:      "Finished workflow runs by stop reason",
	}, []string{"workflow", "stop_reason"})

	pm.stepErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swiss",
		Name:      "step_errors_total",
		Help:      "Review steps that failed",
	}, []string{"workflow", "step", "kind"})

	return pm
}

// RecordStepLatency observes one step's duration.
func (pm *PrometheusMetrics) RecordStepLatency(workflow, step string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(workflow, step, status).Observe(float64(latency.Milliseconds()))
}

// RecordFindings counts the total and flagged findings of one step.
func (pm *PrometheusMetrics) RecordFindings(workflow, step string, total, flagged int) {
	if !pm.isEnabled() {
		return
	}
	if flagged > 0 {
		pm.findings.WithLabelValues(workflow, step, "true").Add(float64(flagged))
	}
	if rest := total - flagged; rest > 0 {
		pm.findings.WithLabelValues(workflow, step, "false").Add(float64(rest))
	}
}

// IncrementRuns counts a finished run. stopReason is a StopReason or "error".
func (pm *PrometheusMetrics) IncrementRuns(workflow, stopReason string) {
	if !pm.isEnabled() {
		return
	}
	pm.runs.WithLabelValues(workflow, stopReason).Inc()
}

// IncrementStepErrors counts a failed step.
func (pm *PrometheusMetrics) IncrementStepErrors(workflow, step, kind string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepErrors.WithLabelValues(workflow, step, kind).Inc()
}

// Disable stops recording until Enable is called.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset clears all recorded series.
func (pm *PrometheusMetrics) Reset() {
	pm.stepLatency.Reset()
	pm.findings.Reset()
	pm.runs.Reset()
	pm.stepErrors.Reset()
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}
