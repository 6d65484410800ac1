package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jkaninda/ongea/internal/domain"
	"github.com/jkaninda/ongea/internal/permission"
)

// Event names on the wire.
const (
	EventQR           = "qr"
	EventStatus       = "session_status"
	EventChatsUpdated = "chats-updated"
	EventLoadingChats = "loading-chats"
	EventMessage      = "message"
)

// Frame is the JSON envelope every push event is wrapped in.
type Frame struct {
	Event     string    `json:"event"`
	TenantID  string    `json:"tenant_id"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sender is the frame-delivery surface the bridge routes onto. *Hub
// implements it; tests substitute a recorder.
type Sender interface {
	SendTenant(tenantID string, data []byte)
	SendUser(tenantID, userID string, data []byte)
	Subscribers(tenantID string) []Identity
}

// Bridge routes session lifecycle and data events to push channels:
// tenant-wide broadcasts for status/list events, per-user delivery for
// messages intersected with chat grants.
type Bridge struct {
	sender Sender
	perms  permission.Service
	stats  Stats
	logger *slog.Logger
}

// NewBridge creates an event bridge.
func NewBridge(sender Sender, perms permission.Service, stats Stats, logger *slog.Logger) *Bridge {
	return &Bridge{sender: sender, perms: perms, stats: stats, logger: logger}
}

// QRPayload carries the scannable image for the awaiting-scan state.
type QRPayload struct {
	Image []byte `json:"image"` // PNG, base64-encoded by encoding/json.
}

// StatusPayload carries a session state change.
type StatusPayload struct {
	Status string `json:"status"` // "connected" or "disconnected".
	Reason string `json:"reason,omitempty"`
}

// ChatsPayload carries the full current conversation list. A nil Chats
// slice means "re-fetch via HTTP".
type ChatsPayload struct {
	Chats []domain.ConversationSummary `json:"chats,omitempty"`
}

// PublishQR broadcasts a freshly rendered connection-code image.
func (b *Bridge) PublishQR(tenantID string, png []byte) {
	b.broadcast(tenantID, EventQR, QRPayload{Image: png})
}

// PublishStatus broadcasts a connected/disconnected transition.
func (b *Bridge) PublishStatus(tenantID, status, reason string) {
	b.broadcast(tenantID, EventStatus, StatusPayload{Status: status, Reason: reason})
}

// PublishChats broadcasts the full current conversation list.
func (b *Bridge) PublishChats(tenantID string, chats []domain.ConversationSummary) {
	b.broadcast(tenantID, EventChatsUpdated, ChatsPayload{Chats: chats})
}

// PublishProgress broadcasts a chat-sync progress update.
func (b *Bridge) PublishProgress(tenantID string, p domain.SyncProgress) {
	b.broadcast(tenantID, EventLoadingChats, p)
}

// PublishMessage delivers one message to the tenant owner and to every
// connected employee whose grants cover the message's chat.
func (b *Bridge) PublishMessage(ctx context.Context, tenantID string, msg domain.Message) {
	data, err := b.encode(tenantID, EventMessage, msg)
	if err != nil {
		return
	}

	for _, sub := range b.sender.Subscribers(tenantID) {
		if sub.Owner {
			b.sender.SendUser(tenantID, sub.UserID, data)
			b.frameSent(EventMessage)
			continue
		}
		permitted, err := b.perms.ListPermittedConversationIDs(ctx, tenantID, sub.UserID)
		if err != nil {
			b.logger.Warn("permission lookup failed, withholding message",
				slog.String("tenant_id", tenantID),
				slog.String("user_id", sub.UserID),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, id := range permitted {
			if id == msg.ChatID {
				b.sender.SendUser(tenantID, sub.UserID, data)
				b.frameSent(EventMessage)
				break
			}
		}
	}
}

func (b *Bridge) broadcast(tenantID, event string, payload any) {
	data, err := b.encode(tenantID, event, payload)
	if err != nil {
		return
	}
	b.sender.SendTenant(tenantID, data)
	b.frameSent(event)
}

func (b *Bridge) frameSent(event string) {
	if b.stats != nil {
		b.stats.FrameSent(event)
	}
}

func (b *Bridge) encode(tenantID, event string, payload any) ([]byte, error) {
	data, err := json.Marshal(Frame{
		Event:     event,
		TenantID:  tenantID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		b.logger.Error("encoding push frame",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return data, nil
}
