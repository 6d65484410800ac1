package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jkaninda/ongea/internal/lease"
	"github.com/jkaninda/ongea/internal/messenger"
)

// Coordinator owns the per-process registry of live connections, at most
// one per tenant. Cross-process exclusivity comes from the lease store;
// the registry only prevents duplicate starts within this process.
type Coordinator struct {
	leases    lease.Store
	factory   messenger.Factory
	notifier  Notifier
	newSyncer SyncerFactory
	cfg       Config
	stats     Stats
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Connection
}

// NewCoordinator creates an empty session registry.
func NewCoordinator(leases lease.Store, factory messenger.Factory, notifier Notifier, newSyncer SyncerFactory, cfg Config, stats Stats, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		leases:    leases,
		factory:   factory,
		notifier:  notifier,
		newSyncer: newSyncer,
		cfg:       cfg.withDefaults(),
		stats:     stats,
		logger:    logger,
		sessions:  make(map[string]*Connection),
	}
}

// Start creates and initializes a connection for the tenant. Fails with
// ErrAlreadyActive when this process already holds one, and with
// ErrInitializationFailed (wrapping ErrLeaseUnavailable when another
// process owns the session) when startup fails. A failed start leaves no
// registry entry behind.
func (co *Coordinator) Start(ctx context.Context, tenantID string) (*Connection, error) {
	co.mu.Lock()
	if _, ok := co.sessions[tenantID]; ok {
		co.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	conn := newConnection(tenantID, co.leases, co.notifier, co.newSyncer, co.cfg, co.stats, co.logger)
	conn.onClosed = co.remove
	co.sessions[tenantID] = conn
	co.mu.Unlock()

	co.logger.Info("Starting session", slog.String("tenant_id", tenantID))
	if err := conn.initialize(ctx, co.factory); err != nil {
		co.remove(tenantID)
		return nil, err
	}
	if co.stats != nil {
		co.stats.SessionStarted()
	}
	return conn, nil
}

// Stop tears down the tenant's connection. Returns false when no connection
// is registered.
func (co *Coordinator) Stop(ctx context.Context, tenantID string) bool {
	co.mu.Lock()
	conn, ok := co.sessions[tenantID]
	co.mu.Unlock()
	if !ok {
		return false
	}
	conn.Stop(ctx)
	return true
}

// Get returns the tenant's connection, if one is registered.
func (co *Coordinator) Get(tenantID string) (*Connection, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	conn, ok := co.sessions[tenantID]
	return conn, ok
}

// List returns all registered connections.
func (co *Coordinator) List() []*Connection {
	co.mu.Lock()
	defer co.mu.Unlock()
	out := make([]*Connection, 0, len(co.sessions))
	for _, conn := range co.sessions {
		out = append(out, conn)
	}
	return out
}

// Len reports the number of registered connections.
func (co *Coordinator) Len() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return len(co.sessions)
}

// StopAll tears down every connection, used on process shutdown.
func (co *Coordinator) StopAll(ctx context.Context) {
	for _, conn := range co.List() {
		conn.Stop(ctx)
	}
}

func (co *Coordinator) remove(tenantID string) {
	co.mu.Lock()
	delete(co.sessions, tenantID)
	co.mu.Unlock()
}
