// Package middleware provides cross-cutting concerns for the snapshot engine.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-beacon/infrastructure/llm"
	"github.com/ahrav/go-beacon/internal/ports"
)

const namespace = "beacon"

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// Known metric names map onto dedicated vectors; anything else lands in the
// generic operation vectors so callers never lose a data point.
type PrometheusMetrics struct {
	adapterRequests  *prometheus.CounterVec
	adapterLatency   *prometheus.HistogramVec
	parseOutcomes    *prometheus.CounterVec
	snapshots        *prometheus.CounterVec
	snapshotDuration *prometheus.HistogramVec
	snapshotScore    *prometheus.GaugeVec
	snapshotsReset   *prometheus.CounterVec

	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the collector and registers every vector with
// reg. A nil reg uses the default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusMetrics{
		adapterRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      llm.MetricAdapterRequests,
				Help:      "Provider adapter calls by provider, model and status.",
			},
			[]string{"provider", "model", "status"},
		),
		adapterLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      llm.MetricAdapterLatency,
				Help:      "Wall clock of provider adapter calls.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		parseOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      ports.MetricParseOutcomes,
				Help:      "Evaluated provider answers by outcome.",
			},
			[]string{"provider", "outcome"},
		),
		snapshots: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      ports.MetricSnapshots,
				Help:      "Finalized snapshots by terminal status.",
			},
			[]string{"status"},
		),
		snapshotDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      ports.MetricSnapshotDuration,
				Help:      "Time from snapshot creation to finalization.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"status"},
		),
		snapshotScore: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      ports.MetricSnapshotScore,
				Help:      "Latest visibility score per client and provider.",
			},
			[]string{"client_id", "provider"},
		),
		snapshotsReset: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      ports.MetricSnapshotsReset,
				Help:      "Running snapshots failed by manual recovery.",
			},
			[]string{"actor"},
		),
		operationLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations without a dedicated metric.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Counters without a dedicated metric.",
			},
			[]string{"operation", "status"},
		),
		systemGauges: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_state",
				Help:      "Gauges without a dedicated metric.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	pm.RecordHistogram(operation, duration.Seconds(), labels)
}

// RecordCounter implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case llm.MetricAdapterRequests:
		pm.adapterRequests.WithLabelValues(
			labelOr(labels, "provider"),
			labelOr(labels, "model"),
			labelOr(labels, "status"),
		).Add(value)
	case ports.MetricParseOutcomes:
		pm.parseOutcomes.WithLabelValues(
			labelOr(labels, "provider"),
			labelOr(labels, "outcome"),
		).Add(value)
	case ports.MetricSnapshots:
		pm.snapshots.WithLabelValues(labelOr(labels, "status")).Add(value)
	case ports.MetricSnapshotsReset:
		pm.snapshotsReset.WithLabelValues(labelOr(labels, "actor")).Add(value)
	default:
		status, ok := labels["status"]
		if !ok {
			status = "success"
		}
		pm.operationCounter.WithLabelValues(metric, status).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case ports.MetricSnapshotScore:
		pm.snapshotScore.WithLabelValues(
			labelOr(labels, "client_id"),
			labelOr(labels, "provider"),
		).Set(value)
	default:
		pm.systemGauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case llm.MetricAdapterLatency:
		pm.adapterLatency.WithLabelValues(
			labelOr(labels, "provider"),
			labelOr(labels, "model"),
		).Observe(value)
	case ports.MetricSnapshotDuration:
		pm.snapshotDuration.WithLabelValues(labelOr(labels, "status")).Observe(value)
	default:
		pm.operationLatency.WithLabelValues(metric).Observe(value)
	}
}

func labelOr(labels map[string]string, name string) string {
	if v, ok := labels[name]; ok && v != "" {
		return v
	}
	return "unknown"
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
