package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/ongea/internal/domain"
	"github.com/jkaninda/ongea/internal/messenger"
	"github.com/jkaninda/ongea/internal/session"
)

const defaultMessagesLimit = 50

// **** Chat request/response types ****

// ChatListResponse is the JSON response for GET .../chats.
type ChatListResponse struct {
	Chats []domain.ConversationSummary `json:"chats"`
	Total int                          `json:"total"`
}

// MessagesResponse is the JSON response for GET .../messages.
type MessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

// SendMessageRequest is the JSON body for POST .../messages.
type SendMessageRequest struct {
	Body      string `json:"body"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaMime string `json:"media_mime,omitempty"`
}

// MessageResponse is the JSON response after sending a message.
type MessageResponse struct {
	Message domain.Message `json:"message"`
}

// chatPermitted reports whether a non-owner caller may touch the chat.
func (g *Gateway) chatPermitted(c *okapi.Context, tenantID, userID, chatID string) (bool, error) {
	permitted, err := g.perms.ListPermittedConversationIDs(c.Context(), tenantID, userID)
	if err != nil {
		g.logger.Error("permission lookup failed",
			slog.String("tenant_id", tenantID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return false, err
	}
	for _, id := range permitted {
		if id == chatID {
			return true, nil
		}
	}
	return false, nil
}

// activeConn resolves the tenant's connection or writes a 404.
func (g *Gateway) activeConn(c *okapi.Context, tenantID string) (*session.Connection, error) {
	conn, ok := g.sessions.Get(tenantID)
	if !ok {
		return nil, c.JSON(http.StatusNotFound, ErrorBody{Error: "no active session"})
	}
	return conn, nil
}

// **** Handlers ****

func (g *Gateway) handleChatList(c *okapi.Context) error {
	userID := c.GetString("userID")
	tenantID := c.Param("tenantID")

	tenant, owner, err := g.tenantAccess(c, tenantID, userID)
	if tenant == nil {
		return err
	}
	conn, err := g.activeConn(c, tenantID)
	if conn == nil {
		return err
	}

	chats := conn.Chats()
	if !owner {
		permitted, err := g.perms.ListPermittedConversationIDs(c.Context(), tenantID, userID)
		if err != nil {
			return c.AbortInternalServerError("permission lookup failed")
		}
		allowed := make(map[string]struct{}, len(permitted))
		for _, id := range permitted {
			allowed[id] = struct{}{}
		}
		filtered := chats[:0]
		for _, chat := range chats {
			if _, ok := allowed[chat.ID]; ok {
				filtered = append(filtered, chat)
			}
		}
		chats = filtered
	}
	return c.OK(ChatListResponse{Chats: chats, Total: len(chats)})
}

func (g *Gateway) handleMessagesFetch(c *okapi.Context) error {
	userID := c.GetString("userID")
	tenantID := c.Param("tenantID")
	chatID := c.Param("chatID")

	tenant, owner, err := g.tenantAccess(c, tenantID, userID)
	if tenant == nil {
		return err
	}
	if !owner {
		ok, err := g.chatPermitted(c, tenantID, userID, chatID)
		if err != nil {
			return c.AbortInternalServerError("permission lookup failed")
		}
		if !ok {
			return c.JSON(http.StatusForbidden, ErrorBody{Error: "chat not granted"})
		}
	}
	conn, err := g.activeConn(c, tenantID)
	if conn == nil {
		return err
	}

	query := c.Request().URL.Query()
	limit := defaultMessagesLimit
	if raw := query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	var before int64
	if raw := query.Get("before"); raw != "" {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			before = ts
		}
	}

	msgs, err := conn.FetchRecentMessages(c.Context(), chatID, limit, before)
	if err != nil {
		if errors.Is(err, session.ErrNotActive) {
			return c.JSON(http.StatusConflict, ErrorBody{Error: "session not active"})
		}
		g.logger.Error("fetching messages failed",
			slog.String("tenant_id", tenantID),
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("fetching messages failed")
	}
	return c.OK(MessagesResponse{Messages: msgs})
}

func (g *Gateway) handleMessageSend(c *okapi.Context) error {
	userID := c.GetString("userID")
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	tenantID := c.Param("tenantID")
	chatID := c.Param("chatID")

	tenant, owner, err := g.tenantAccess(c, tenantID, userID)
	if tenant == nil {
		return err
	}
	if !owner {
		ok, err := g.chatPermitted(c, tenantID, userID, chatID)
		if err != nil {
			return c.AbortInternalServerError("permission lookup failed")
		}
		if !ok {
			return c.JSON(http.StatusForbidden, ErrorBody{Error: "chat not granted"})
		}
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Body == "" && req.MediaURL == "" {
		return c.AbortBadRequest("body or media_url is required")
	}
	var media *messenger.Media
	if req.MediaURL != "" {
		media = &messenger.Media{URL: req.MediaURL, Mime: req.MediaMime}
	}

	conn, err := g.activeConn(c, tenantID)
	if conn == nil {
		return err
	}

	msg, err := conn.SendMessage(c.Context(), chatID, req.Body, media)
	if err != nil {
		if errors.Is(err, session.ErrNotActive) {
			return c.JSON(http.StatusConflict, ErrorBody{Error: "session not active"})
		}
		g.logger.Error("sending message failed",
			slog.String("tenant_id", tenantID),
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("sending message failed")
	}
	return c.JSON(http.StatusCreated, MessageResponse{Message: *msg})
}

func (g *Gateway) handleMarkSeen(c *okapi.Context) error {
	userID := c.GetString("userID")
	tenantID := c.Param("tenantID")
	chatID := c.Param("chatID")

	tenant, owner, err := g.tenantAccess(c, tenantID, userID)
	if tenant == nil {
		return err
	}
	if !owner {
		ok, err := g.chatPermitted(c, tenantID, userID, chatID)
		if err != nil {
			return c.AbortInternalServerError("permission lookup failed")
		}
		if !ok {
			return c.JSON(http.StatusForbidden, ErrorBody{Error: "chat not granted"})
		}
	}
	conn, err := g.activeConn(c, tenantID)
	if conn == nil {
		return err
	}

	if err := conn.MarkSeen(c.Context(), chatID); err != nil {
		if errors.Is(err, session.ErrNotActive) {
			return c.JSON(http.StatusConflict, ErrorBody{Error: "session not active"})
		}
		return c.AbortInternalServerError("marking seen failed")
	}
	return c.OK(map[string]string{"status": "seen"})
}
