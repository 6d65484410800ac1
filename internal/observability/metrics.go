package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/ongea/internal/domain"
)

// MetricsCollector holds all Prometheus metrics for Ongea.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Session lifecycle metrics.
	SessionsActive          prometheus.Gauge
	SessionStateTransitions *prometheus.CounterVec
	SessionLeaseLost        prometheus.Counter

	// Chat sync metrics.
	SyncRunsTotal *prometheus.CounterVec
	SyncDuration  prometheus.Histogram
	AvatarFetches *prometheus.CounterVec

	// Push metrics.
	PushClients     prometheus.Gauge
	PushFramesTotal *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ongea",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of live gateway connections in this process.",
		}),

		SessionStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ongea",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Total session state transitions.",
		}, []string{"state"}),

		SessionLeaseLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ongea",
			Subsystem: "session",
			Name:      "lease_lost_total",
			Help:      "Total sessions torn down after losing their lease.",
		}),

		SyncRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ongea",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total chat sync pipeline runs.",
		}, []string{"status"}),

		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ongea",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Chat sync phase 1 duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		AvatarFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ongea",
			Subsystem: "sync",
			Name:      "avatar_fetches_total",
			Help:      "Total avatar fetch attempts during enrichment.",
		}, []string{"status"}),

		PushClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ongea",
			Subsystem: "push",
			Name:      "clients",
			Help:      "Currently connected push WebSocket clients.",
		}),

		PushFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ongea",
			Subsystem: "push",
			Name:      "frames_total",
			Help:      "Total push frames delivered, by event name.",
		}, []string{"event"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ongea",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ongea",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ongea",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests.",
		}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.SessionStateTransitions,
		m.SessionLeaseLost,
		m.SyncRunsTotal,
		m.SyncDuration,
		m.AvatarFetches,
		m.PushClients,
		m.PushFramesTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// The methods below satisfy the session package's Stats interface with a
// single nil check each, so callers never guard.

// SessionStarted records a successful session start.
func (m *MetricsCollector) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionEnded records a session teardown.
func (m *MetricsCollector) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// StateTransition records a session state change.
func (m *MetricsCollector) StateTransition(to domain.SessionState) {
	if m == nil {
		return
	}
	m.SessionStateTransitions.WithLabelValues(string(to)).Inc()
}

// LeaseRefreshLost records a lease-loss teardown.
func (m *MetricsCollector) LeaseRefreshLost() {
	if m == nil {
		return
	}
	m.SessionLeaseLost.Inc()
}

// SyncRun records one chat sync run outcome and its initial-page duration.
func (m *MetricsCollector) SyncRun(status string, seconds float64) {
	if m == nil {
		return
	}
	m.SyncRunsTotal.WithLabelValues(status).Inc()
	m.SyncDuration.Observe(seconds)
}

// AvatarFetch records one avatar fetch attempt during enrichment.
func (m *MetricsCollector) AvatarFetch(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.AvatarFetches.WithLabelValues(status).Inc()
}

// ClientConnected records a push subscriber connecting.
func (m *MetricsCollector) ClientConnected() {
	if m == nil {
		return
	}
	m.PushClients.Inc()
}

// ClientDisconnected records a push subscriber dropping.
func (m *MetricsCollector) ClientDisconnected() {
	if m == nil {
		return
	}
	m.PushClients.Dec()
}

// FrameSent records one delivered push frame.
func (m *MetricsCollector) FrameSent(event string) {
	if m == nil {
		return
	}
	m.PushFramesTotal.WithLabelValues(event).Inc()
}
