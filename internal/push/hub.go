// Package push fans lifecycle and data events out to connected clients.
// Two scoping conventions exist: a per-tenant broadcast channel for
// status/list events, and a per-user channel for message delivery filtered
// by chat grants. No business logic beyond routing lives here.
package push

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// sendBuffer is the per-client outbound queue. Slow clients that fall
	// this far behind are disconnected rather than stalling the hub.
	sendBuffer = 32

	writeTimeout = 10 * time.Second
)

// Identity describes one authenticated push subscriber.
type Identity struct {
	TenantID string
	UserID   string
	Owner    bool
}

// Authenticator resolves a WebSocket upgrade request to a subscriber
// identity. Returning an error rejects the connection.
type Authenticator func(r *http.Request) (Identity, error)

// Stats receives subscriber and delivery counters. Optional; a nil Stats
// is a no-op.
type Stats interface {
	ClientConnected()
	ClientDisconnected()
	FrameSent(event string)
}

// Hub manages client WebSocket connections and raw frame delivery.
type Hub struct {
	auth   Authenticator
	stats  Stats
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	id   Identity
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub creates a Hub with the given authenticator.
func NewHub(auth Authenticator, stats Stats, logger *slog.Logger) *Hub {
	return &Hub{
		auth:    auth,
		stats:   stats,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the HTTP handler that upgrades push subscribers.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.handleUpgrade)
}

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	id, err := h.auth(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"ongea-push-v1"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	c := &client{id: id, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	defer h.unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.writeLoop(ctx)

	// Inbound frames are not part of the protocol; the read loop only
	// detects disconnection.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	if h.stats != nil {
		h.stats.ClientConnected()
	}
	h.logger.Debug("push client connected",
		slog.String("tenant_id", c.id.TenantID),
		slog.String("user_id", c.id.UserID),
		slog.Bool("owner", c.id.Owner),
		slog.Int("total", total),
	)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	if h.stats != nil {
		h.stats.ClientDisconnected()
	}
	h.logger.Debug("push client disconnected",
		slog.String("tenant_id", c.id.TenantID),
		slog.String("user_id", c.id.UserID),
	)
}

// close shuts the connection. The send channel is never closed: the write
// loop exits via context cancellation, so concurrent senders can never hit a
// closed channel.
func (c *client) close() {
	c.once.Do(func() {
		c.conn.Close(websocket.StatusNormalClosure, "hub closed connection")
	})
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// SendTenant delivers a frame to every subscriber of the tenant.
func (h *Hub) SendTenant(tenantID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.id.TenantID == tenantID {
			h.enqueue(c, data)
		}
	}
}

// SendUser delivers a frame to one user's connections within the tenant.
func (h *Hub) SendUser(tenantID, userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.id.TenantID == tenantID && c.id.UserID == userID {
			h.enqueue(c, data)
		}
	}
}

// Subscribers lists the identities currently connected for a tenant,
// de-duplicated by user.
func (h *Hub) Subscribers(tenantID string) []Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []Identity
	for c := range h.clients {
		if c.id.TenantID != tenantID {
			continue
		}
		if _, dup := seen[c.id.UserID]; dup {
			continue
		}
		seen[c.id.UserID] = struct{}{}
		ids = append(ids, c.id)
	}
	return ids
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("push queue full, dropping frame",
			slog.String("tenant_id", c.id.TenantID),
			slog.String("user_id", c.id.UserID),
		)
	}
}
