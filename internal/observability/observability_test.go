package observability

import (
	"context"
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/ongea/internal/config"
	"github.com/jkaninda/ongea/internal/domain"
)

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestNilCollectorRecording(t *testing.T) {
	// Should not panic.
	var m *MetricsCollector
	m.SessionStarted()
	m.SessionEnded()
	m.StateTransition(domain.StateActive)
	m.LeaseRefreshLost()
}

func TestMetricsCollector_SessionLifecycle(t *testing.T) {
	m := NewMetricsCollector()

	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()
	m.StateTransition(domain.StateActive)
	m.StateTransition(domain.StateDisconnected)
	m.LeaseRefreshLost()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	byName := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		byName[f.GetName()] = f
	}

	active, ok := byName["ongea_session_active"]
	if !ok {
		t.Fatal("ongea_session_active not registered")
	}
	if got := active.GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}

	lost, ok := byName["ongea_session_lease_lost_total"]
	if !ok {
		t.Fatal("ongea_session_lease_lost_total not registered")
	}
	if got := lost.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("lease lost = %v, want 1", got)
	}

	trans, ok := byName["ongea_session_state_transitions_total"]
	if !ok {
		t.Fatal("ongea_session_state_transitions_total not registered")
	}
	if got := len(trans.GetMetric()); got != 2 {
		t.Errorf("transition label sets = %d, want 2", got)
	}
}

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker(nil)

	if status := h.CheckReady(context.Background()); status.Status != "ok" {
		t.Errorf("empty checker status = %q", status.Status)
	}

	h.AddCheck("lease", func(context.Context) error { return nil })
	h.AddCheck("storage", func(context.Context) error { return errors.New("connection refused") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["lease"].Status != "ok" {
		t.Errorf("lease check = %+v", status.Checks["lease"])
	}
	if status.Checks["storage"].Status != "fail" || status.Checks["storage"].Message == "" {
		t.Errorf("storage check = %+v", status.Checks["storage"])
	}

	if live := h.CheckHealth(); live.Status != "ok" {
		t.Errorf("liveness = %q", live.Status)
	}
}
