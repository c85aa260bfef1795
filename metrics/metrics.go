// Package metrics holds the Prometheus instrumentation for the
// detection pipeline. Everything registers against the caller's
// registry so tests and the admin endpoint share one view.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsTotal      prometheus.Counter
	EventsDropped    *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec
	SuppressedTotal  prometheus.Counter
	SinkErrors       *prometheus.CounterVec
	SnapshotErrors   prometheus.Counter
	VSSSignalsTotal  prometheus.Counter
	TrackedScopes    prometheus.Gauge
	QueueDepth       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "events_total",
			Help:      "File events accepted for scoring",
		}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "events_dropped_total",
			Help:      "File events dropped before scoring, by reason",
		}, []string{"reason"}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "alerts_total",
			Help:      "Alerts raised, by severity and type",
		}, []string{"severity", "type"}),
		SuppressedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "alerts_suppressed_total",
			Help:      "Alerts dropped inside the suppression window",
		}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "sink_errors_total",
			Help:      "Alert sink publish failures, by sink",
		}, []string{"sink"}),
		SnapshotErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "snapshot_errors_total",
			Help:      "File snapshots skipped because content could not be read",
		}),
		VSSSignalsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "vss_signals_total",
			Help:      "Shadow-copy tampering signals received",
		}),
		TrackedScopes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "vigil",
			Name:      "tracked_scopes",
			Help:      "Scopes with live burst baselines",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "vigil",
			Name:      "queue_depth",
			Help:      "Events waiting in the intake queue",
		}),
	}
}

// ObserveAlert counts one raised alert under its severity and type.
func (m *Metrics) ObserveAlert(severity, alertType string) {
	m.AlertsTotal.WithLabelValues(severity, alertType).Inc()
}

// ObserveDrop counts one event dropped for the given reason.
func (m *Metrics) ObserveDrop(reason string) {
	m.EventsDropped.WithLabelValues(reason).Inc()
}

// ObserveSinkError counts one publish failure for the named sink.
func (m *Metrics) ObserveSinkError(sink string) {
	m.SinkErrors.WithLabelValues(sink).Inc()
}
