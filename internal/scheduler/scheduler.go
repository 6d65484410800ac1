// Package scheduler implements the periodic chat resync for active sessions.
// On a cron schedule it walks every live connection and re-runs the sync
// pipeline so that cached conversation lists do not drift from the gateway.
//
// Core invariant: a resync never touches session lifecycle. Sessions that
// are not active are skipped, never restarted.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/ongea/internal/config"
	"github.com/jkaninda/ongea/internal/domain"
)

// maxConcurrentResyncs bounds how many sessions sync at once so a large
// deployment does not hammer every bridge simultaneously.
const maxConcurrentResyncs = 4

// Session is the slice of a live connection the scheduler needs.
type Session interface {
	TenantID() string
	State() domain.SessionState
	Resync(ctx context.Context) error
}

// Lister enumerates the currently registered sessions.
type Lister func() []Session

// Scheduler re-syncs active sessions on a cron schedule.
type Scheduler struct {
	list    Lister
	sched   cron.Schedule
	metrics *Metrics
	logger  *slog.Logger
	spec    string
}

// New creates a Scheduler from the given config. The cron spec is validated
// here so a bad expression fails at startup, not at first fire.
func New(cfg *config.SchedulerConfig, list Lister, metrics *Metrics, logger *slog.Logger) (*Scheduler, error) {
	spec := cfg.Spec()
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid resync spec %q: %w", spec, err)
	}
	return &Scheduler{
		list:    list,
		sched:   sched,
		metrics: metrics,
		logger:  logger,
		spec:    spec,
	}, nil
}

// Start begins the scheduler loop. Returns a cancel function.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.InfoContext(ctx, "resync scheduler started",
			slog.String("spec", s.spec),
		)

		for {
			next := s.sched.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("resync scheduler stopped")
				return
			case <-timer.C:
				s.run(ctx)
			}
		}
	}()

	return cancel
}

// run executes a single resync pass over every active session.
func (s *Scheduler) run(ctx context.Context) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RunsTotal.Inc()
	}

	sessions := s.list()
	if len(sessions) == 0 {
		return
	}

	s.logger.InfoContext(ctx, "resync run started",
		slog.Int("sessions", len(sessions)),
	)

	sem := make(chan struct{}, maxConcurrentResyncs)
	var wg sync.WaitGroup

	for _, sess := range sessions {
		if sess.State() != domain.StateActive {
			if s.metrics != nil {
				s.metrics.SessionsSkipped.Inc()
			}
			continue
		}
		sem <- struct{}{}
		wg.Add(1)

		go func(sess Session) {
			defer wg.Done()
			defer func() { <-sem }()
			s.resyncOne(ctx, sess)
		}(sess)
	}

	wg.Wait()

	if s.metrics != nil {
		s.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}
}

func (s *Scheduler) resyncOne(ctx context.Context, sess Session) {
	if err := sess.Resync(ctx); err != nil {
		s.logger.ErrorContext(ctx, "session resync failed",
			slog.String("tenant_id", sess.TenantID()),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.SessionsFailed.Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.SessionsSynced.Inc()
	}
}
