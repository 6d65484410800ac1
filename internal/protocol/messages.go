// Package protocol defines the WebSocket message types for Ongea ↔ Bridge
// communication. A bridge is the per-tenant process that speaks the remote
// messaging service's wire protocol; Ongea only consumes its event and
// operation surface. All messages are JSON-encoded and wrapped in an
// Envelope for uniform routing.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of message in the WebSocket protocol.
type MessageType string

const (
	// Bridge → Ongea lifecycle events.
	MsgEventCode         MessageType = "event.code" // A connection code was issued for scanning.
	MsgEventReady        MessageType = "event.ready"
	MsgEventDisconnected MessageType = "event.disconnected"
	MsgEventMessage      MessageType = "event.message"

	// Ongea → Bridge operations.
	MsgOpListChats     MessageType = "op.list_chats"
	MsgOpGetChat       MessageType = "op.get_chat"
	MsgOpFetchMessages MessageType = "op.fetch_messages"
	MsgOpSendMessage   MessageType = "op.send_message"
	MsgOpFetchAvatar   MessageType = "op.fetch_avatar"
	MsgOpMarkSeen      MessageType = "op.mark_seen"
	MsgOpLogout        MessageType = "op.logout"

	// Bridge → Ongea operation replies.
	MsgOpResult MessageType = "op.result"
	MsgOpError  MessageType = "op.error"
)

// Envelope is the top-level message wrapper for all WebSocket communication.
// Operations and their replies are correlated via ID.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// CodePayload carries a freshly issued connection code.
type CodePayload struct {
	Code string `json:"code"`
}

// DisconnectedPayload carries the gateway-reported disconnect reason.
type DisconnectedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ChatPayload describes one conversation as the bridge sees it.
type ChatPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	UnreadCount int    `json:"unread_count"`
	IsGroup     bool   `json:"is_group"`
	IsReadOnly  bool   `json:"is_read_only"`
	Timestamp   int64  `json:"timestamp"` // Unix seconds of last activity, 0 = unknown.
}

// MessagePayload describes one message as the bridge sees it.
type MessagePayload struct {
	ID         string `json:"id"`
	ChatID     string `json:"chat_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Body       string `json:"body"`
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
	FromMe     bool   `json:"from_me"`
}

// FetchMessagesRequest asks for a bounded window of recent chat messages.
type FetchMessagesRequest struct {
	ChatID          string `json:"chat_id"`
	Limit           int    `json:"limit"`
	BeforeTimestamp int64  `json:"before_timestamp,omitempty"`
}

// SendMessageRequest sends a message body (optionally with media) to a chat.
type SendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Body      string `json:"body"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaMime string `json:"media_mime,omitempty"`
}

// ChatRef names a single chat for chat-scoped operations.
type ChatRef struct {
	ChatID string `json:"chat_id"`
}

// AvatarPayload carries a fetched avatar location.
type AvatarPayload struct {
	URL string `json:"url"`
}

// ErrorPayload carries an operation failure from the bridge.
type ErrorPayload struct {
	Message string `json:"message"`
}
