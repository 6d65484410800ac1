package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/ongea/internal/config"
	"github.com/jkaninda/ongea/internal/domain"
)

type fakeSession struct {
	mu       sync.Mutex
	tenantID string
	state    domain.SessionState
	resyncs  int
	err      error
}

func (f *fakeSession) TenantID() string           { return f.tenantID }
func (f *fakeSession) State() domain.SessionState { return f.state }

func (f *fakeSession) Resync(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs++
	return f.err
}

func (f *fakeSession) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resyncs
}

func newScheduler(t *testing.T, cfg *config.SchedulerConfig, sessions ...*fakeSession) *Scheduler {
	t.Helper()
	list := func() []Session {
		out := make([]Session, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, s)
		}
		return out
	}
	sched, err := New(cfg, list, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sched
}

func TestNewRejectsBadSpec(t *testing.T) {
	cfg := &config.SchedulerConfig{ResyncSpec: "not a cron spec"}
	_, err := New(cfg, func() []Session { return nil }, nil, slog.New(slog.DiscardHandler))
	if err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestDefaultSpec(t *testing.T) {
	sched := newScheduler(t, &config.SchedulerConfig{Enabled: true})
	if sched.spec != "*/30 * * * *" {
		t.Fatalf("spec = %q, want default every 30 minutes", sched.spec)
	}
	next := sched.sched.Next(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))
	want := time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next run = %v, want %v", next, want)
	}
}

func TestRunResyncsActiveSessions(t *testing.T) {
	active := &fakeSession{tenantID: "acme", state: domain.StateActive}
	waiting := &fakeSession{tenantID: "globex", state: domain.StateAwaitingScan}
	failing := &fakeSession{tenantID: "initech", state: domain.StateActive, err: errors.New("bridge down")}

	sched := newScheduler(t, &config.SchedulerConfig{Enabled: true}, active, waiting, failing)
	sched.run(context.Background())

	if got := active.count(); got != 1 {
		t.Fatalf("active session resyncs = %d, want 1", got)
	}
	if got := waiting.count(); got != 0 {
		t.Fatalf("awaiting_scan session resyncs = %d, want 0", got)
	}
	if got := failing.count(); got != 1 {
		t.Fatalf("failing session resyncs = %d, want 1", got)
	}
}

func TestRunWithNoSessions(t *testing.T) {
	sched := newScheduler(t, &config.SchedulerConfig{Enabled: true})
	sched.run(context.Background())
}

func TestStartStops(t *testing.T) {
	sched := newScheduler(t, &config.SchedulerConfig{Enabled: true})
	cancel := sched.Start(context.Background())
	cancel()
}
