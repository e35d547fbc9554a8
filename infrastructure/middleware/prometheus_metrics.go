// Package middleware provides cross-cutting concerns for the scoring engine:
// Prometheus metrics and OpenTelemetry instrumentation of reference stores.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-anthro/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It tracks scoring throughput, Z-score distributions, batch
// sizes and the latency of engine and store operations.
type PrometheusMetrics struct {
	recordsTotal     *prometheus.CounterVec
	indicatorEvents  *prometheus.CounterVec
	zScores          *prometheus.HistogramVec
	batchRows        *prometheus.HistogramVec
	executionLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		recordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anthro_records_total",
				Help: "Measurement records processed by the scoring engine, by outcome.",
			},
			[]string{"status", "unit"},
		),
		indicatorEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anthro_indicator_events_total",
				Help: "Indicator outcomes that did not produce a classification.",
			},
			[]string{"event", "indicator"},
		),
		zScores: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anthro_z_score",
				Help:    "Distribution of unrounded Z-scores per indicator.",
				Buckets: []float64{-3, -2, -1, 0, 1, 2, 3},
			},
			[]string{"indicator"},
		),
		batchRows: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anthro_batch_rows",
				Help:    "Number of data rows per batch upload.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"unit"},
		),
		executionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anthro_operation_duration_seconds",
				Help:    "Execution time of scoring, batch and store operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "unit"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anthro_operations_total",
				Help: "Generic operation counters.",
			},
			[]string{"operation", "status", "unit"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "anthro_system_state",
				Help: "Current state values such as loaded reference points.",
			},
			[]string{"metric", "unit"},
		),
	}
}

func unitLabel(labels map[string]string) string {
	if unit := labels["unit"]; unit != "" {
		return unit
	}
	return "unknown"
}

// RecordLatency implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	pm.executionLatency.WithLabelValues(operation, unitLabel(labels)).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	unit := unitLabel(labels)

	switch metric {
	case "records_scored":
		pm.recordsTotal.WithLabelValues("scored", unit).Add(value)
	case "records_failed":
		pm.recordsTotal.WithLabelValues("failed", unit).Add(value)
	case "indicators_indeterminate":
		pm.indicatorEvents.WithLabelValues("indeterminate", labels["indicator"]).Add(value)
	case "classifications_not_found":
		pm.indicatorEvents.WithLabelValues("not_found", labels["indicator"]).Add(value)
	case "batches_rejected":
		pm.operationCounter.WithLabelValues("batch", "rejected_"+labels["stage"], unit).Add(value)
	case "batch_rows_failed":
		pm.operationCounter.WithLabelValues("batch_rows", "error", unit).Add(value)
	case "lookup_errors":
		pm.operationCounter.WithLabelValues(labels["operation"], "error", unit).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric, "success", unit).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	pm.systemGauges.WithLabelValues(metric, unitLabel(labels)).Set(value)
}

// RecordHistogram implements the MetricsCollector interface. Z-scores and
// batch sizes have dedicated histograms; anything else is recorded against
// the latency histogram under its own operation name.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "z_score":
		pm.zScores.WithLabelValues(labels["indicator"]).Observe(value)
	case "batch_rows":
		pm.batchRows.WithLabelValues(unitLabel(labels)).Observe(value)
	default:
		pm.executionLatency.WithLabelValues(metric, unitLabel(labels)).Observe(value)
	}
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
