// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an administrative account owning at most one live gateway session.
// All other entities are keyed by its ID.
type Tenant struct {
	ID        string
	Name      string
	OwnerID   string // External user ID of the account owner.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationSummary is the cached projection of one conversation shown in
// listings. The cache it lives in is volatile: rebuilt on every connection,
// cleared on teardown.
type ConversationSummary struct {
	ID                   string `json:"id"`
	DisplayName          string `json:"name"`
	LastMessageTimestamp int64  `json:"last_message_ts"` // Unix seconds. 0 = unknown.
	UnreadCount          int    `json:"unread_count"`
	IsGroup              bool   `json:"is_group"`
	LastMessagePreview   string `json:"last_message_preview,omitempty"`
	AvatarURL            string `json:"avatar_url,omitempty"`
}

// SyncProgress is the ephemeral chat-sync status streamed to clients.
// Never persisted.
type SyncProgress struct {
	Status     string  `json:"status"`
	Loaded     int     `json:"loaded"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message,omitempty"`
}

// Sync status values, in the order a full pipeline run emits them.
const (
	SyncFetching      = "fetching"
	SyncProcessing    = "processing"
	SyncInitialLoaded = "initial-loaded"
	SyncLoading       = "loading"
	SyncCompleted     = "completed"
)

// Message is a single gateway message formatted for delivery to clients.
type Message struct {
	ID         string `json:"id"`
	ChatID     string `json:"chat_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Body       string `json:"body"`
	Type       string `json:"type"`      // "chat", "image", "video", "audio", "document", or a gateway-internal type.
	Timestamp  int64  `json:"timestamp"` // Unix seconds.
	FromMe     bool   `json:"from_me"`
	IsGroup    bool   `json:"is_group"`
}

// ChatGrant allows a non-owner employee to see one of the tenant's
// conversations. Grant CRUD lives outside this service; only the read side
// is consumed here, for filtering listings and message pushes.
type ChatGrant struct {
	ID        uuid.UUID
	TenantID  string
	UserID    string // External employee ID.
	ChatID    string
	CreatedAt time.Time
}

// SessionState is the lifecycle state of a tenant's gateway connection.
type SessionState string

const (
	StateInit         SessionState = "init"
	StateAwaitingScan SessionState = "awaiting_scan"
	StateConnecting   SessionState = "connecting"
	StateActive       SessionState = "active"
	StateDisconnected SessionState = "disconnected"
	StateFailed       SessionState = "failed"
)

// NewID generates a new random UUID.
func NewID() uuid.UUID {
	return uuid.New()
}
