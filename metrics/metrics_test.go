package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.EventsTotal.Inc()
	m.EventsTotal.Inc()
	m.ObserveAlert("critical", "combined")
	m.ObserveAlert("critical", "combined")
	m.ObserveAlert("medium", "entropy")
	m.ObserveDrop("queue_full")
	m.ObserveSinkError("nats")
	m.SuppressedTotal.Inc()
	m.TrackedScopes.Set(12)
	m.QueueDepth.Set(3)

	if got := testutil.ToFloat64(m.EventsTotal); got != 2 {
		t.Errorf("events_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AlertsTotal.WithLabelValues("critical", "combined")); got != 2 {
		t.Errorf("alerts_total{critical,combined} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AlertsTotal.WithLabelValues("medium", "entropy")); got != 1 {
		t.Errorf("alerts_total{medium,entropy} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EventsDropped.WithLabelValues("queue_full")); got != 1 {
		t.Errorf("events_dropped_total{queue_full} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TrackedScopes); got != 12 {
		t.Errorf("tracked_scopes = %v, want 12", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected metric families on the registry")
	}
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())
	a.EventsTotal.Inc()
	if got := testutil.ToFloat64(b.EventsTotal); got != 0 {
		t.Errorf("registries should be independent, got %v", got)
	}
}
