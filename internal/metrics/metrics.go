// Package metrics publishes Prometheus counters and gauges for the
// orchestrator's queue depth, transitions, and fallback rate, per
// SPEC_FULL.md's domain-stack wiring of prometheus/client_golang. Unlike
// the teacher's query-side use of the Prometheus client (scraping an
// external target), this package is publish-side: the orchestrator itself
// is the thing being scraped.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"contentpipe/internal/model"
)

// Registry holds every metric the orchestrator exports.
type Registry struct {
	ItemsClaimed      *prometheus.CounterVec
	ItemsTransitioned *prometheus.CounterVec
	ItemsRetried      *prometheus.CounterVec
	ItemsFailed       *prometheus.CounterVec
	FallbackRecords   *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	HandlerDuration   *prometheus.HistogramVec
	CircuitState      *prometheus.GaugeVec
}

// New constructs and registers every metric against a fresh registry.
func New() *Registry {
	r := &Registry{
		ItemsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_items_claimed_total",
			Help: "Items claimed for processing, by stage.",
		}, []string{"stage"}),
		ItemsTransitioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_items_transitioned_total",
			Help: "Items transitioned, by stage and directive.",
		}, []string{"stage", "directive"}),
		ItemsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_items_retried_total",
			Help: "Retry directives applied, by stage.",
		}, []string{"stage"}),
		ItemsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_items_failed_total",
			Help: "Items moved to failed after exhausting retries, by stage.",
		}, []string{"stage"}),
		FallbackRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_fallback_records_total",
			Help: "Fallback records appended, by stage and reason.",
		}, []string{"stage", "reason"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Current item count, by stage and status.",
		}, []string{"stage", "status"}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_handler_duration_seconds",
			Help:    "Handler invocation duration, by stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_circuit_state",
			Help: "Circuit breaker state by stage: 0=closed, 1=open, 2=half-open.",
		}, []string{"stage"}),
	}

	prometheus.MustRegister(
		r.ItemsClaimed, r.ItemsTransitioned, r.ItemsRetried, r.ItemsFailed,
		r.FallbackRecords, r.QueueDepth, r.HandlerDuration, r.CircuitState,
	)
	return r
}

// RecordTransition increments the transition and (when applicable) retry
// or failure counters for one directive application.
func (r *Registry) RecordTransition(stage model.Stage, kind model.DirectiveKind) {
	r.ItemsTransitioned.WithLabelValues(string(stage), string(kind)).Inc()
	if kind == model.DirectiveRetry {
		r.ItemsRetried.WithLabelValues(string(stage)).Inc()
	}
}

// RecordFallback increments the fallback counter for one appended record.
func (r *Registry) RecordFallback(stage model.Stage, reason model.FallbackReason) {
	r.FallbackRecords.WithLabelValues(string(stage), string(reason)).Inc()
}

// SetQueueDepth sets the current gauge value for one (stage, status) pair.
func (r *Registry) SetQueueDepth(stage model.Stage, status model.Status, count int) {
	r.QueueDepth.WithLabelValues(string(stage), string(status)).Set(float64(count))
}

// Handler returns the promhttp handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
