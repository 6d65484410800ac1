package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/ongea/internal/lease"
)

// refreshLoop periodically extends the tenant's session lease. A single
// refresh failure is terminal: the lease is gone or owned elsewhere, so the
// loop reports it once and exits without retrying.
type refreshLoop struct {
	tenantID string
	store    lease.Store
	interval time.Duration
	onLost   func(error)
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newRefreshLoop(tenantID string, store lease.Store, interval time.Duration, onLost func(error), logger *slog.Logger) *refreshLoop {
	l := &refreshLoop{
		tenantID: tenantID,
		store:    store,
		interval: interval,
		onLost:   onLost,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *refreshLoop) run() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			close(l.done)
			return
		case <-ticker.C:
			// Stop may race a tick; never refresh a lease that the owner
			// is about to release.
			select {
			case <-l.stop:
				close(l.done)
				return
			default:
			}
			ctx, cancel := context.WithTimeout(context.Background(), l.interval)
			err := l.store.Refresh(ctx, l.tenantID)
			cancel()
			if err != nil {
				l.logger.Warn("Session lease refresh failed",
					slog.String("tenant", l.tenantID),
					slog.String("error", err.Error()))
				close(l.done)
				// Reported outside the loop goroutine so the handler can
				// call Stop without deadlocking.
				go l.onLost(err)
				return
			}
		}
	}
}

// Stop halts the loop and waits for it to finish. Idempotent.
func (l *refreshLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}
