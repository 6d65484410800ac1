package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jkaninda/ongea/internal/protocol"
)

const (
	defaultDialTimeout = 15 * time.Second
	defaultOpTimeout   = 30 * time.Second
	// eventBuffer absorbs bursts of incoming messages without stalling the
	// bridge read loop.
	eventBuffer = 64
)

// RemoteConfig configures the WebSocket bridge adapter.
type RemoteConfig struct {
	// URLTemplate is the bridge endpoint with a {tenant} placeholder,
	// e.g. "ws://bridge:9400/session/{tenant}".
	URLTemplate  string `json:"url_template" yaml:"url_template"`
	Token        string `json:"token,omitempty" yaml:"token,omitempty"`
	DialTimeoutS int    `json:"dial_timeout_s" yaml:"dial_timeout_s"` // Default: 15.
	OpTimeoutS   int    `json:"op_timeout_s" yaml:"op_timeout_s"`     // Default: 30.
}

func (c *RemoteConfig) dialTimeout() time.Duration {
	if c != nil && c.DialTimeoutS > 0 {
		return time.Duration(c.DialTimeoutS) * time.Second
	}
	return defaultDialTimeout
}

func (c *RemoteConfig) opTimeout() time.Duration {
	if c != nil && c.OpTimeoutS > 0 {
		return time.Duration(c.OpTimeoutS) * time.Second
	}
	return defaultOpTimeout
}

// RemoteFactory opens WebSocket connections to per-tenant bridge processes.
type RemoteFactory struct {
	cfg    RemoteConfig
	logger *slog.Logger
}

// NewRemoteFactory creates a bridge adapter factory.
func NewRemoteFactory(cfg RemoteConfig, logger *slog.Logger) *RemoteFactory {
	return &RemoteFactory{cfg: cfg, logger: logger}
}

// Open dials the tenant's bridge and returns a live handle. The bridge emits
// lifecycle events on its own; no registration handshake is needed beyond
// the authenticated dial.
func (f *RemoteFactory) Open(ctx context.Context, tenantID string) (Handle, error) {
	dialURL := strings.ReplaceAll(f.cfg.URLTemplate, "{tenant}", tenantID)
	if f.cfg.Token != "" {
		sep := "?"
		if strings.Contains(dialURL, "?") {
			sep = "&"
		}
		dialURL += sep + "token=" + f.cfg.Token
	}

	dialCtx, cancel := context.WithTimeout(ctx, f.cfg.dialTimeout())
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, dialURL, &websocket.DialOptions{
		Subprotocols: []string{"ongea-bridge-v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("dialing bridge for tenant %s: %w", tenantID, err)
	}

	h := &remoteHandle{
		tenantID:  tenantID,
		conn:      conn,
		events:    make(chan Event, eventBuffer),
		pending:   make(map[string]chan *protocol.Envelope),
		opTimeout: f.cfg.opTimeout(),
		logger:    f.logger.With(slog.String("tenant_id", tenantID)),
	}
	go h.readLoop()
	return h, nil
}

// remoteHandle is a Handle backed by one bridge WebSocket connection.
// Operation replies are correlated to requests by envelope ID.
type remoteHandle struct {
	tenantID  string
	conn      *websocket.Conn
	events    chan Event
	opTimeout time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]chan *protocol.Envelope

	destroyOnce sync.Once
}

func (h *remoteHandle) Events() <-chan Event {
	return h.events
}

// readLoop consumes bridge frames until the connection dies, converting
// lifecycle frames into Events and routing op replies to waiting callers.
func (h *remoteHandle) readLoop() {
	defer h.Destroy()

	ctx := context.Background()
	for {
		_, data, err := h.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Warn("bridge connection error", slog.String("error", err.Error()))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn("invalid frame from bridge", slog.String("error", err.Error()))
			continue
		}

		switch env.Type {
		case protocol.MsgEventCode:
			var p protocol.CodePayload
			if err := env.Decode(&p); err == nil {
				h.emit(Event{Kind: EventConnectionCode, Code: p.Code})
			}

		case protocol.MsgEventReady:
			h.emit(Event{Kind: EventReady})

		case protocol.MsgEventDisconnected:
			var p protocol.DisconnectedPayload
			_ = env.Decode(&p)
			h.emit(Event{Kind: EventDisconnected, Reason: p.Reason})

		case protocol.MsgEventMessage:
			var p protocol.MessagePayload
			if err := env.Decode(&p); err == nil {
				m := messageFromPayload(p)
				h.emit(Event{Kind: EventMessage, Message: &m})
			}

		case protocol.MsgOpResult, protocol.MsgOpError:
			// Deliver under the lock so Destroy cannot close the channel
			// between lookup and send.
			h.mu.Lock()
			ch, ok := h.pending[env.ID]
			if ok {
				envCopy := env
				select {
				case ch <- &envCopy:
				default:
				}
			}
			h.mu.Unlock()
			if !ok {
				h.logger.Warn("reply for unknown operation", slog.String("id", env.ID))
			}

		default:
			h.logger.Warn("unknown frame type from bridge", slog.String("type", string(env.Type)))
		}
	}
}

func (h *remoteHandle) emit(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("event buffer full, dropping gateway event",
			slog.String("kind", ev.Kind.String()),
		)
	}
}

// call performs one request/reply round trip with the bridge.
func (h *remoteHandle) call(ctx context.Context, msgType protocol.MessageType, payload, result any) error {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	env.TenantID = h.tenantID

	reply := make(chan *protocol.Envelope, 1)
	h.mu.Lock()
	if h.pending == nil {
		h.mu.Unlock()
		return fmt.Errorf("gateway handle destroyed")
	}
	h.pending[env.ID] = reply
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, env.ID)
		h.mu.Unlock()
	}()

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()

	if err := h.conn.Write(opCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%s: %w", msgType, err)
	}

	select {
	case <-opCtx.Done():
		return fmt.Errorf("%s: %w", msgType, opCtx.Err())
	case resp, ok := <-reply:
		if !ok {
			return fmt.Errorf("%s: gateway handle destroyed", msgType)
		}
		if resp.Type == protocol.MsgOpError {
			var p protocol.ErrorPayload
			_ = resp.Decode(&p)
			return fmt.Errorf("%s: %s", msgType, p.Message)
		}
		if result != nil {
			if err := resp.Decode(result); err != nil {
				return fmt.Errorf("%s: decoding result: %w", msgType, err)
			}
		}
		return nil
	}
}

func (h *remoteHandle) ListConversations(ctx context.Context) ([]Chat, error) {
	var payload []protocol.ChatPayload
	if err := h.call(ctx, protocol.MsgOpListChats, nil, &payload); err != nil {
		return nil, err
	}
	chats := make([]Chat, 0, len(payload))
	for _, p := range payload {
		chats = append(chats, chatFromPayload(p))
	}
	return chats, nil
}

func (h *remoteHandle) GetConversationByID(ctx context.Context, chatID string) (*Chat, error) {
	var p protocol.ChatPayload
	if err := h.call(ctx, protocol.MsgOpGetChat, protocol.ChatRef{ChatID: chatID}, &p); err != nil {
		return nil, err
	}
	c := chatFromPayload(p)
	return &c, nil
}

func (h *remoteHandle) FetchRecentMessages(ctx context.Context, chatID string, limit int, beforeTimestamp int64) ([]Message, error) {
	var payload []protocol.MessagePayload
	req := protocol.FetchMessagesRequest{ChatID: chatID, Limit: limit, BeforeTimestamp: beforeTimestamp}
	if err := h.call(ctx, protocol.MsgOpFetchMessages, req, &payload); err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(payload))
	for _, p := range payload {
		msgs = append(msgs, messageFromPayload(p))
	}
	return msgs, nil
}

func (h *remoteHandle) SendMessage(ctx context.Context, chatID, body string, media *Media) (*Message, error) {
	req := protocol.SendMessageRequest{ChatID: chatID, Body: body}
	if media != nil {
		req.MediaURL = media.URL
		req.MediaMime = media.Mime
	}
	var p protocol.MessagePayload
	if err := h.call(ctx, protocol.MsgOpSendMessage, req, &p); err != nil {
		return nil, err
	}
	m := messageFromPayload(p)
	return &m, nil
}

func (h *remoteHandle) FetchAvatar(ctx context.Context, chatID string) (string, error) {
	var p protocol.AvatarPayload
	if err := h.call(ctx, protocol.MsgOpFetchAvatar, protocol.ChatRef{ChatID: chatID}, &p); err != nil {
		return "", err
	}
	return p.URL, nil
}

func (h *remoteHandle) MarkSeen(ctx context.Context, chatID string) error {
	return h.call(ctx, protocol.MsgOpMarkSeen, protocol.ChatRef{ChatID: chatID}, nil)
}

func (h *remoteHandle) Logout(ctx context.Context) error {
	return h.call(ctx, protocol.MsgOpLogout, nil, nil)
}

// Destroy closes the connection and the event stream. Safe to call from any
// goroutine, any number of times.
func (h *remoteHandle) Destroy() {
	h.destroyOnce.Do(func() {
		h.conn.Close(websocket.StatusNormalClosure, "handle destroyed")

		h.mu.Lock()
		for id, ch := range h.pending {
			close(ch)
			delete(h.pending, id)
		}
		h.pending = nil
		h.mu.Unlock()

		close(h.events)
	})
}

func chatFromPayload(p protocol.ChatPayload) Chat {
	return Chat{
		ID:          p.ID,
		Name:        p.Name,
		UnreadCount: p.UnreadCount,
		IsGroup:     p.IsGroup,
		IsReadOnly:  p.IsReadOnly,
		Timestamp:   p.Timestamp,
	}
}

func messageFromPayload(p protocol.MessagePayload) Message {
	return Message{
		ID:         p.ID,
		ChatID:     p.ChatID,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		Body:       p.Body,
		Type:       p.Type,
		Timestamp:  p.Timestamp,
		FromMe:     p.FromMe,
	}
}
