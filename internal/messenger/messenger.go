// Package messenger defines the contract with the external per-tenant
// messaging gateway (the "bridge" process that runs the remote service's
// automated client). The wire protocol to the remote service is opaque to
// Ongea: only the bridge's event stream and synchronous operations are
// consumed here.
package messenger

import "context"

// EventKind tags the lifecycle/data events a gateway handle emits.
type EventKind int

const (
	// EventConnectionCode means a scannable connection code was issued.
	// May repeat while awaiting scan (code rotation).
	EventConnectionCode EventKind = iota
	// EventReady means the gateway is authenticated and operational.
	EventReady
	// EventDisconnected means the gateway lost its session (voluntary
	// logout or external cause). Terminal for the handle.
	EventDisconnected
	// EventMessage carries one incoming message while connected.
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionCode:
		return "connection-code"
	case EventReady:
		return "ready"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is the tagged union consumed by the session state machine through a
// single dispatch point. Exactly the fields relevant to Kind are set.
type Event struct {
	Kind    EventKind
	Code    string   // EventConnectionCode
	Reason  string   // EventDisconnected
	Message *Message // EventMessage
}

// Chat is a conversation as reported by the gateway.
type Chat struct {
	ID          string
	Name        string
	UnreadCount int
	IsGroup     bool
	IsReadOnly  bool  // Channel-style threads the account cannot post to.
	Timestamp   int64 // Unix seconds of last known activity, 0 = unknown.
}

// Message is a single message as reported by the gateway.
type Message struct {
	ID         string
	ChatID     string
	SenderID   string
	SenderName string
	Body       string
	Type       string
	Timestamp  int64
	FromMe     bool
}

// Media describes an outgoing attachment.
type Media struct {
	URL  string
	Mime string
}

// Handle is one tenant's live gateway connection surface.
//
// Events returns the handle's event stream; the channel is closed when the
// handle is destroyed. All operations are synchronous from the caller's view
// and honor context cancellation.
type Handle interface {
	Events() <-chan Event

	ListConversations(ctx context.Context) ([]Chat, error)
	GetConversationByID(ctx context.Context, chatID string) (*Chat, error)
	FetchRecentMessages(ctx context.Context, chatID string, limit int, beforeTimestamp int64) ([]Message, error)
	SendMessage(ctx context.Context, chatID, body string, media *Media) (*Message, error)
	FetchAvatar(ctx context.Context, chatID string) (string, error)
	MarkSeen(ctx context.Context, chatID string) error

	// Logout ends the remote session voluntarily; the handle then emits
	// EventDisconnected.
	Logout(ctx context.Context) error

	// Destroy force-closes the handle and its event stream. Idempotent.
	// Used for teardown and for self-initiated failover on lease loss.
	Destroy()
}

// Factory opens gateway handles. One handle per tenant.
type Factory interface {
	Open(ctx context.Context, tenantID string) (Handle, error)
}
