// Package session coordinates the lifecycle of one gateway connection per
// tenant: a distributed TTL lease guarantees at most one live connection
// across processes, and an event-driven state machine drives each connection
// from initialization through scanning, activity and teardown.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/ongea/internal/domain"
	"github.com/jkaninda/ongea/internal/lease"
	"github.com/jkaninda/ongea/internal/messenger"
	"github.com/jkaninda/ongea/internal/qr"
)

// Default lifecycle timings. The temporary refresh interval runs from lease
// acquisition until the gateway is ready; it is short because startup is the
// window where a crashed process most likely still holds a lease remnant.
const (
	DefaultInitTimeout         = 60 * time.Second
	DefaultTempRefreshInterval = 3 * time.Second
	DefaultRefreshInterval     = 8 * time.Second
)

// opTimeout bounds internal gateway calls made outside a caller request,
// such as the best-effort chat lookup on a live message.
const opTimeout = 5 * time.Second

// Config tunes connection lifecycle timings. Zero values take the defaults.
type Config struct {
	InitTimeout         time.Duration
	TempRefreshInterval time.Duration
	RefreshInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitTimeout <= 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	if c.TempRefreshInterval <= 0 {
		c.TempRefreshInterval = DefaultTempRefreshInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	return c
}

// Notifier is the push surface the state machine emits lifecycle and data
// events onto. *push.Bridge implements it.
type Notifier interface {
	PublishQR(tenantID string, png []byte)
	PublishStatus(tenantID, status, reason string)
	PublishChats(tenantID string, chats []domain.ConversationSummary)
	PublishMessage(ctx context.Context, tenantID string, msg domain.Message)
}

// Syncer runs the chat-sync pipeline for one connection.
type Syncer interface {
	Run(ctx context.Context) error
}

// SyncerFactory builds a Syncer for a freshly ready connection. Injected so
// the sync pipeline stays decoupled from the state machine.
type SyncerFactory func(tenantID string, gw messenger.Handle, cache *Cache) Syncer

// Stats receives lifecycle counters. Optional; a nil Stats is a no-op.
type Stats interface {
	SessionStarted()
	SessionEnded()
	StateTransition(to domain.SessionState)
	LeaseRefreshLost()
}

// Connection is one tenant's live gateway connection and its state machine.
// All gateway events flow through a single dispatch goroutine; state reads
// from other goroutines go through the mutex.
type Connection struct {
	tenantID  string
	leases    lease.Store
	notifier  Notifier
	newSyncer SyncerFactory
	cfg       Config
	logger    *slog.Logger
	stats     Stats

	cache  *Cache
	handle messenger.Handle

	// ctx is the connection's lifetime; canceled on teardown so background
	// enrichment and in-flight publishes stop.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     domain.SessionState
	qrPNG     []byte
	refresher *refreshLoop
	startedAt time.Time
	closing   bool

	teardownOnce sync.Once
	closed       chan struct{}

	// onClosed deregisters the connection from its coordinator after
	// teardown completes. Set by the coordinator.
	onClosed func(tenantID string)
}

func newConnection(tenantID string, leases lease.Store, notifier Notifier, newSyncer SyncerFactory, cfg Config, stats Stats, logger *slog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		tenantID:  tenantID,
		leases:    leases,
		notifier:  notifier,
		newSyncer: newSyncer,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("tenant_id", tenantID)),
		stats:     stats,
		cache:     NewCache(),
		ctx:       ctx,
		cancel:    cancel,
		state:     domain.StateInit,
		startedAt: time.Now(),
		closed:    make(chan struct{}),
	}
}

// initialize acquires the tenant lease, starts the temporary refresh loop
// and opens the gateway handle within the init timeout. On any failure the
// connection ends in the failed state with the lease released.
func (c *Connection) initialize(ctx context.Context, factory messenger.Factory) error {
	ok, err := c.leases.Acquire(ctx, c.tenantID)
	if err != nil {
		c.setState(domain.StateFailed)
		c.cancel()
		return fmt.Errorf("%w: acquiring lease: %v", ErrInitializationFailed, err)
	}
	if !ok {
		c.setState(domain.StateFailed)
		c.cancel()
		return fmt.Errorf("%w: %w", ErrInitializationFailed, ErrLeaseUnavailable)
	}

	c.mu.Lock()
	c.refresher = newRefreshLoop(c.tenantID, c.leases, c.cfg.TempRefreshInterval, c.onLeaseLost, c.logger)
	c.mu.Unlock()

	openCtx, cancel := context.WithTimeout(ctx, c.cfg.InitTimeout)
	defer cancel()
	handle, err := factory.Open(openCtx, c.tenantID)
	if err != nil {
		c.mu.Lock()
		closed := c.closing
		c.mu.Unlock()
		// When teardown already ran it settled the lease itself; releasing
		// here could delete a key another process now owns.
		if !closed {
			c.stopRefresher()
			c.releaseLease()
			c.setState(domain.StateFailed)
			c.cancel()
		}
		return fmt.Errorf("%w: opening gateway: %v", ErrInitializationFailed, err)
	}
	// Teardown may have run while the gateway was opening. The lease and
	// refresh loop are already settled by close; the fresh handle must not
	// outlive the connection, and dispatch must never start on it.
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		handle.Destroy()
		return fmt.Errorf("%w: session stopped during startup", ErrInitializationFailed)
	}
	c.handle = handle
	c.mu.Unlock()

	go c.dispatch()
	return nil
}

// dispatch is the connection's single event loop. It exits when the handle's
// event channel closes, which only happens on Destroy.
func (c *Connection) dispatch() {
	for ev := range c.handle.Events() {
		switch ev.Kind {
		case messenger.EventConnectionCode:
			c.onConnectionCode(ev.Code)
		case messenger.EventReady:
			c.onReady()
		case messenger.EventDisconnected:
			reason := ev.Reason
			if reason == "" {
				reason = "gateway disconnected"
			}
			c.teardown(reason)
		case messenger.EventMessage:
			if ev.Message != nil {
				c.onMessage(*ev.Message)
			}
		}
	}
	// Channel closed without a disconnect event means the handle was
	// destroyed out from under us.
	c.teardown("gateway closed")
}

// onConnectionCode renders and pushes a fresh scan code. The gateway may
// rotate codes, so re-entry in awaiting_scan replaces the previous one.
func (c *Connection) onConnectionCode(code string) {
	c.mu.Lock()
	if c.state == domain.StateActive || c.state == domain.StateDisconnected {
		c.mu.Unlock()
		c.logger.Debug("Ignoring connection code outside scan window")
		return
	}
	c.state = domain.StateAwaitingScan
	c.mu.Unlock()
	c.transition(domain.StateAwaitingScan)

	png, err := qr.Encode(code)
	if err != nil {
		c.logger.Error("Rendering connection code failed", slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	c.qrPNG = png
	c.mu.Unlock()
	c.notifier.PublishQR(c.tenantID, png)
}

// onReady promotes the connection to active: the lease is refreshed
// synchronously before claiming activity, the refresh loop is swapped to the
// permanent cadence, and the chat sync starts. A duplicate ready while
// already active is a no-op.
func (c *Connection) onReady() {
	c.mu.Lock()
	if c.state == domain.StateActive || c.state == domain.StateDisconnected {
		st := c.state
		c.mu.Unlock()
		c.logger.Debug("Ready event ignored", slog.String("state", string(st)))
		return
	}
	c.state = domain.StateConnecting
	c.qrPNG = nil
	c.mu.Unlock()
	c.transition(domain.StateConnecting)

	// The lease must be provably ours before serving anything.
	refreshCtx, cancel := context.WithTimeout(c.ctx, opTimeout)
	err := c.leases.Refresh(refreshCtx, c.tenantID)
	cancel()
	if err != nil {
		c.logger.Warn("Lease refresh on ready failed",
			slog.String("error", err.Error()))
		c.onLeaseLost(err)
		return
	}

	c.mu.Lock()
	old := c.refresher
	c.refresher = nil
	c.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	c.mu.Lock()
	c.refresher = newRefreshLoop(c.tenantID, c.leases, c.cfg.RefreshInterval, c.onLeaseLost, c.logger)
	c.state = domain.StateActive
	c.mu.Unlock()
	c.transition(domain.StateActive)

	c.logger.Info("Session active", slog.String("tenant", c.tenantID))
	c.notifier.PublishStatus(c.tenantID, "connected", "")

	syncer := c.newSyncer(c.tenantID, c.handle, c.cache)
	if err := syncer.Run(c.ctx); err != nil {
		// The connection stays up; clients fall back to on-demand fetches.
		c.logger.Error("Chat sync failed", slog.String("error", err.Error()))
	}
}

// onMessage folds one live message into the cache and routes it to push
// subscribers.
func (c *Connection) onMessage(m messenger.Message) {
	msg := domain.Message{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Body:       m.Body,
		Type:       m.Type,
		Timestamp:  m.Timestamp,
		FromMe:     m.FromMe,
		IsGroup:    messenger.IsGroupChatID(m.ChatID),
	}
	c.notifier.PublishMessage(c.ctx, c.tenantID, msg)

	preview := ""
	if !messenger.IsSystemMessage(m) {
		preview = messenger.TruncatePreview(m.Body)
	}
	if !c.cache.Bump(m.ChatID, preview, m.Timestamp, !m.FromMe) {
		c.insertUnknownChat(m, preview)
	}
	c.notifier.PublishChats(c.tenantID, c.cache.Snapshot())
}

// insertUnknownChat adds a minimal cache entry for a message on a chat the
// sync has not seen. The gateway lookup is best effort; on failure the entry
// is built from the message alone.
func (c *Connection) insertUnknownChat(m messenger.Message, preview string) {
	s := domain.ConversationSummary{
		ID:                   m.ChatID,
		DisplayName:          m.SenderName,
		LastMessageTimestamp: m.Timestamp,
		LastMessagePreview:   preview,
		IsGroup:              messenger.IsGroupChatID(m.ChatID),
	}
	if !m.FromMe {
		s.UnreadCount = 1
	}

	ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
	defer cancel()
	if chat, err := c.handle.GetConversationByID(ctx, m.ChatID); err == nil && chat != nil {
		if !messenger.IsListableChat(*chat) {
			return
		}
		s.DisplayName = chat.Name
		s.IsGroup = chat.IsGroup
		if chat.UnreadCount > 0 {
			s.UnreadCount = chat.UnreadCount
		}
	} else if err != nil {
		c.logger.Debug("Chat lookup for live message failed",
			slog.String("chat_id", m.ChatID),
			slog.String("error", err.Error()))
	}
	c.cache.Upsert(s)
}

// onLeaseLost is the self-teardown path: another process owns the session
// now, so this connection destroys its gateway handle without logging out
// the remote account.
func (c *Connection) onLeaseLost(err error) {
	if c.stats != nil {
		c.stats.LeaseRefreshLost()
	}
	c.logger.Warn("Session lease lost, tearing down",
		slog.String("error", err.Error()))
	// The key may already belong to another process; deleting it would
	// kill that process's session.
	c.close("session taken over elsewhere", false)
}

// teardown moves the connection to disconnected exactly once: the refresh
// loop stops, the lease is released, the cache is cleared, the handle is
// destroyed and a single disconnected push goes out.
func (c *Connection) teardown(reason string) {
	c.close(reason, true)
}

func (c *Connection) close(reason string, releaseLease bool) {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()

		c.stopRefresher()
		c.cancel()

		c.mu.Lock()
		c.state = domain.StateDisconnected
		c.qrPNG = nil
		handle := c.handle
		c.mu.Unlock()
		c.transition(domain.StateDisconnected)

		if releaseLease {
			c.releaseLease()
		}
		c.cache.Clear()
		if handle != nil {
			handle.Destroy()
		}

		c.notifier.PublishStatus(c.tenantID, "disconnected", reason)
		c.logger.Info("Session disconnected",
			slog.String("tenant", c.tenantID),
			slog.String("reason", reason))

		if c.onClosed != nil {
			c.onClosed(c.tenantID)
		}
		if c.stats != nil {
			c.stats.SessionEnded()
		}
		close(c.closed)
	})
}

// Stop ends the session voluntarily: a best-effort remote logout, then
// teardown. Blocks until teardown completes.
func (c *Connection) Stop(ctx context.Context) {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle != nil {
		logoutCtx, cancel := context.WithTimeout(ctx, opTimeout)
		if err := handle.Logout(logoutCtx); err != nil {
			c.logger.Warn("Gateway logout failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	c.teardown("stopped by user")
	<-c.closed
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TenantID returns the owning tenant's ID.
func (c *Connection) TenantID() string { return c.tenantID }

// StartedAt returns when the connection was created.
func (c *Connection) StartedAt() time.Time { return c.startedAt }

// QR returns the last rendered connection code image, or ErrNoQRCode if the
// session is not awaiting a scan.
func (c *Connection) QR() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.qrPNG) == 0 {
		return nil, ErrNoQRCode
	}
	return append([]byte(nil), c.qrPNG...), nil
}

// Chats returns the current cached conversation list.
func (c *Connection) Chats() []domain.ConversationSummary {
	return c.cache.Snapshot()
}

// Cache exposes the connection's conversation cache.
func (c *Connection) Cache() *Cache { return c.cache }

// FetchRecentMessages proxies a bounded message-history fetch to the
// gateway. Requires an active session.
func (c *Connection) FetchRecentMessages(ctx context.Context, chatID string, limit int, beforeTimestamp int64) ([]domain.Message, error) {
	if err := c.requireActive(); err != nil {
		return nil, err
	}
	msgs, err := c.handle.FetchRecentMessages(ctx, chatID, limit, beforeTimestamp)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.Message{
			ID:         m.ID,
			ChatID:     m.ChatID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Body:       m.Body,
			Type:       m.Type,
			Timestamp:  m.Timestamp,
			FromMe:     m.FromMe,
			IsGroup:    messenger.IsGroupChatID(m.ChatID),
		})
	}
	return out, nil
}

// SendMessage proxies an outgoing message to the gateway and folds the sent
// message back into the cache.
func (c *Connection) SendMessage(ctx context.Context, chatID, body string, media *messenger.Media) (*domain.Message, error) {
	if err := c.requireActive(); err != nil {
		return nil, err
	}
	sent, err := c.handle.SendMessage(ctx, chatID, body, media)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	msg := &domain.Message{
		ID:        sent.ID,
		ChatID:    sent.ChatID,
		Body:      sent.Body,
		Type:      sent.Type,
		Timestamp: sent.Timestamp,
		FromMe:    true,
		IsGroup:   messenger.IsGroupChatID(sent.ChatID),
	}
	c.cache.Bump(sent.ChatID, messenger.TruncatePreview(sent.Body), sent.Timestamp, false)
	c.notifier.PublishChats(c.tenantID, c.cache.Snapshot())
	return msg, nil
}

// MarkSeen marks a conversation read on the gateway and zeroes its unread
// count in the cache.
func (c *Connection) MarkSeen(ctx context.Context, chatID string) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	if err := c.handle.MarkSeen(ctx, chatID); err != nil {
		return fmt.Errorf("marking seen: %w", err)
	}
	c.cache.MarkRead(chatID)
	c.notifier.PublishChats(c.tenantID, c.cache.Snapshot())
	return nil
}

// Resync re-runs the chat sync pipeline against the live gateway and
// publishes the refreshed snapshot. Used by the periodic resync scheduler.
func (c *Connection) Resync(ctx context.Context) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	syncer := c.newSyncer(c.tenantID, c.handle, c.cache)
	if err := syncer.Run(ctx); err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	c.notifier.PublishChats(c.tenantID, c.cache.Snapshot())
	return nil
}

func (c *Connection) requireActive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.StateActive {
		return fmt.Errorf("%w: state %s", ErrNotActive, c.state)
	}
	return nil
}

func (c *Connection) setState(s domain.SessionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.transition(s)
}

func (c *Connection) transition(s domain.SessionState) {
	if c.stats != nil {
		c.stats.StateTransition(s)
	}
}

func (c *Connection) stopRefresher() {
	c.mu.Lock()
	r := c.refresher
	c.refresher = nil
	c.mu.Unlock()
	if r != nil {
		r.Stop()
	}
}

func (c *Connection) releaseLease() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := c.leases.Release(ctx, c.tenantID); err != nil {
		c.logger.Warn("Releasing session lease failed",
			slog.String("error", err.Error()))
	}
}
