package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the resync scheduler.
type Metrics struct {
	RunsTotal       prometheus.Counter
	SessionsSynced  prometheus.Counter
	SessionsFailed  prometheus.Counter
	SessionsSkipped prometheus.Counter
	RunDuration     prometheus.Histogram
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ongea",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Total scheduled resync runs.",
		}),
		SessionsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ongea",
			Subsystem: "scheduler",
			Name:      "sessions_synced_total",
			Help:      "Total sessions resynced successfully.",
		}),
		SessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ongea",
			Subsystem: "scheduler",
			Name:      "sessions_failed_total",
			Help:      "Total session resyncs that returned an error.",
		}),
		SessionsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ongea",
			Subsystem: "scheduler",
			Name:      "sessions_skipped_total",
			Help:      "Total sessions skipped because they were not active.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ongea",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of each resync run across all sessions.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.SessionsSynced,
		m.SessionsFailed,
		m.SessionsSkipped,
		m.RunDuration,
	)

	return m
}
