// Package metrics provides Prometheus metric definitions for the sink
// pipeline.
//
// Metrics follow Prometheus naming conventions and best practices:
// - Low cardinality labels only (record kind, drop reason; no keys/values)
// - Histogram buckets tuned for batch flush latency (1ms to 10s)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "slabsink"
)

// flushDurationBuckets are histogram buckets for batch flush latency.
// Range: 1ms → 10s, covering in-memory publishes through slow backends.
var flushDurationBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
}

// Metrics holds all Prometheus metrics for the sink pipeline.
type Metrics struct {
	EntriesAccepted  prometheus.Counter
	EntriesDropped   *prometheus.CounterVec
	RecordsPublished *prometheus.CounterVec
	PublishFailures  prometheus.Counter
	BatchesPublished prometheus.Counter
	FlushDuration    prometheus.Histogram
	QueueDepth       prometheus.Gauge
}

// New creates and registers all sink Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EntriesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_accepted_total",
			Help:      "Total number of log entries accepted by the sink while active.",
		}),

		EntriesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_dropped_total",
				Help:      "Total number of log entries dropped, by reason (overflow, closed, nil).",
			},
			[]string{"reason"},
		),

		RecordsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_published_total",
				Help:      "Total number of telemetry records handed to the transport, by kind.",
			},
			[]string{"kind"},
		),

		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Total number of per-entry dispatch failures (entry telemetry lost).",
		}),

		BatchesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_published_total",
			Help:      "Total number of batches handed to the publish callback.",
		}),

		FlushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Latency of one batch flush through the publish path.",
			Buckets:   flushDurationBuckets,
		}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_queue_depth",
			Help:      "Current number of entries waiting in the intake buffer.",
		}),
	}
}

// The helpers below are safe on a nil receiver so pipeline components can
// run without a registry in tests.

// IncAccepted records one accepted entry.
func (m *Metrics) IncAccepted() {
	if m == nil {
		return
	}
	m.EntriesAccepted.Inc()
}

// IncDropped records one dropped entry with the given reason.
func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.EntriesDropped.WithLabelValues(reason).Inc()
}

// IncPublished records one record handed to the transport.
func (m *Metrics) IncPublished(kind string) {
	if m == nil {
		return
	}
	m.RecordsPublished.WithLabelValues(kind).Inc()
}

// IncPublishFailure records one lost entry.
func (m *Metrics) IncPublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

// ObserveFlush records one completed batch flush.
func (m *Metrics) ObserveFlush(seconds float64) {
	if m == nil {
		return
	}
	m.BatchesPublished.Inc()
	m.FlushDuration.Observe(seconds)
}

// SetQueueDepth records the current intake buffer depth.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}
