package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/ongea/internal/domain"
	"github.com/jkaninda/ongea/internal/session"
	"github.com/jkaninda/ongea/internal/storage"
)

// **** Session request/response types ****

// SessionResponse is the JSON response for session endpoints.
type SessionResponse struct {
	TenantID  string    `json:"tenant_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at,omitempty"`
	ChatCount int       `json:"chat_count"`
}

// QRResponse carries the current connection code image, base64-encoded.
type QRResponse struct {
	Image []byte `json:"image"`
}

// TenantRequest is the JSON body for PUT /v1/tenants/{tenantID}.
type TenantRequest struct {
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// TenantResponse is the JSON response for tenant endpoints.
type TenantResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toSessionResponse(conn *session.Connection) SessionResponse {
	return SessionResponse{
		TenantID:  conn.TenantID(),
		State:     string(conn.State()),
		StartedAt: conn.StartedAt(),
		ChatCount: conn.Cache().Len(),
	}
}

// tenantAccess loads the tenant and reports whether the caller owns it.
// A nil tenant means the response has already been written.
func (g *Gateway) tenantAccess(c *okapi.Context, tenantID, userID string) (*domain.Tenant, bool, error) {
	tenant, err := g.store.Tenants().Get(c.Context(), tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, c.JSON(http.StatusNotFound, ErrorBody{Error: "tenant not found"})
		}
		g.logger.Error("tenant lookup failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil, false, c.AbortInternalServerError("tenant lookup failed")
	}
	return tenant, tenant.OwnerID == userID, nil
}

// **** Handlers ****

func (g *Gateway) handleSessionStart(c *okapi.Context) error {
	userID := c.GetString("userID")
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	tenantID := c.Param("tenantID")
	tenant, owner, err := g.tenantAccess(c, tenantID, userID)
	if tenant == nil {
		return err
	}
	if !owner {
		return c.JSON(http.StatusForbidden, ErrorBody{Error: "only the tenant owner can start a session"})
	}

	correlationID := newCorrelationID()
	g.logger.Info("session start requested",
		slog.String("tenant_id", tenantID),
		slog.String("user_id", userID),
		slog.String("correlation_id", correlationID),
	)

	conn, err := g.sessions.Start(c.Context(), tenantID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyActive):
			return c.JSON(http.StatusConflict, ErrorBody{Error: "session already active"})
		case errors.Is(err, session.ErrLeaseUnavailable):
			return c.JSON(http.StatusConflict, ErrorBody{Error: "session active on another node"})
		default:
			g.logger.Error("session start failed",
				slog.String("tenant_id", tenantID),
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			return c.AbortInternalServerError("session initialization failed")
		}
	}
	return c.JSON(http.StatusCreated, toSessionResponse(conn))
}

func (g *Gateway) handleSessionStop(c *okapi.Context) error {
	userID := c.GetString("userID")
	tenantID := c.Param("tenantID")

	tenant, owner, err := g.tenantAccess(c, tenantID, userID)
	if tenant == nil {
		return err
	}
	if !owner {
		return c.JSON(http.StatusForbidden, ErrorBody{Error: "only the tenant owner can stop a session"})
	}

	if !g.sessions.Stop(c.Context(), tenantID) {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "no active session"})
	}
	g.logger.Info("session stopped",
		slog.String("tenant_id", tenantID),
		slog.String("user_id", userID),
	)
	return c.OK(map[string]string{"status": "stopped"})
}

func (g *Gateway) handleSessionStatus(c *okapi.Context) error {
	userID := c.GetString("userID")
	tenantID := c.Param("tenantID")

	tenant, _, err := g.tenantAccess(c, tenantID, userID)
	if tenant == nil {
		return err
	}

	conn, ok := g.sessions.Get(tenantID)
	if !ok {
		return c.OK(SessionResponse{TenantID: tenantID, State: string(domain.StateDisconnected)})
	}
	return c.OK(toSessionResponse(conn))
}

func (g *Gateway) handleSessionQR(c *okapi.Context) error {
	userID := c.GetString("userID")
	tenantID := c.Param("tenantID")

	tenant, owner, err := g.tenantAccess(c, tenantID, userID)
	if tenant == nil {
		return err
	}
	if !owner {
		return c.JSON(http.StatusForbidden, ErrorBody{Error: "only the tenant owner can scan"})
	}

	conn, ok := g.sessions.Get(tenantID)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "no active session"})
	}
	png, err := conn.QR()
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "no connection code available"})
	}
	return c.OK(QRResponse{Image: png})
}

func (g *Gateway) handleTenantUpsert(c *okapi.Context) error {
	userID := c.GetString("userID")
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	tenantID := c.Param("tenantID")
	var req TenantRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Name == "" {
		return c.AbortBadRequest("name is required")
	}
	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = userID
	}

	now := time.Now().UTC()
	tenant := &domain.Tenant{
		ID:        tenantID,
		Name:      req.Name,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.store.Tenants().Upsert(c.Context(), tenant); err != nil {
		g.logger.Error("tenant upsert failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("storing tenant failed")
	}
	return c.OK(toTenantResponse(tenant))
}

func (g *Gateway) handleTenantGet(c *okapi.Context) error {
	userID := c.GetString("userID")
	tenantID := c.Param("tenantID")

	tenant, _, err := g.tenantAccess(c, tenantID, userID)
	if tenant == nil {
		return err
	}
	return c.OK(toTenantResponse(tenant))
}

func toTenantResponse(t *domain.Tenant) TenantResponse {
	return TenantResponse{
		ID:        t.ID,
		Name:      t.Name,
		OwnerID:   t.OwnerID,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}
