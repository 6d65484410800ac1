// Package httpapi implements the HTTP control surface for Ongea.
//
// Security:
//   - API key authentication on every request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-user rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/ongea/internal/observability"
	"github.com/jkaninda/ongea/internal/permission"
	"github.com/jkaninda/ongea/internal/ratelimit"
	"github.com/jkaninda/ongea/internal/session"
	"github.com/jkaninda/ongea/internal/storage"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → user ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	sessions *session.Coordinator
	store    storage.Store
	perms    permission.Service
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server

	// Extra handlers mounted on the HTTP mux (the push WebSocket endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, sessions *session.Coordinator, store storage.Store, perms permission.Service, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	size := cfg.MaxRequestSize
	if size <= 0 {
		size = defaultMaxRequestSize
	}
	return &Gateway{
		config:   cfg,
		sessions: sessions,
		store:    store,
		perms:    perms,
		limiter:  rl,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(size)),
	}
}

// WithHandler mounts an additional handler on the HTTP mux at the given
// pattern. Used for the push WebSocket endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// WithOpenAPIDocs enables interactive API documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Ongea",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Session lifecycle endpoints.
	g.group.Post("/sessions/{tenantID}", g.handleSessionStart,
		okapi.DocSummary("Start a gateway session for a tenant"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("tenantID", "string", "Tenant ID"),
		okapi.DocResponse(http.StatusCreated, SessionResponse{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
	)
	g.group.Delete("/sessions/{tenantID}", g.handleSessionStop,
		okapi.DocSummary("Stop a tenant's gateway session"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("tenantID", "string", "Tenant ID"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/sessions/{tenantID}", g.handleSessionStatus,
		okapi.DocSummary("Get session status"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("tenantID", "string", "Tenant ID"),
		okapi.DocResponse(SessionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/sessions/{tenantID}/qr", g.handleSessionQR,
		okapi.DocSummary("Get the current connection code image"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("tenantID", "string", "Tenant ID"),
		okapi.DocResponse(QRResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Conversation endpoints.
	g.group.Get("/sessions/{tenantID}/chats", g.handleChatList,
		okapi.DocSummary("List cached conversations, filtered by grants"),
		okapi.DocTags("Chats"),
		okapi.DocPathParam("tenantID", "string", "Tenant ID"),
		okapi.DocResponse(ChatListResponse{}),
	)
	g.group.Get("/sessions/{tenantID}/chats/{chatID}/messages", g.handleMessagesFetch,
		okapi.DocSummary("Fetch recent messages for a conversation"),
		okapi.DocTags("Chats"),
		okapi.DocPathParam("tenantID", "string", "Tenant ID"),
		okapi.DocPathParam("chatID", "string", "Chat ID"),
		okapi.DocResponse(MessagesResponse{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
	)
	g.group.Post("/sessions/{tenantID}/chats/{chatID}/messages", g.handleMessageSend,
		okapi.DocSummary("Send a message to a conversation"),
		okapi.DocTags("Chats"),
		okapi.DocPathParam("tenantID", "string", "Tenant ID"),
		okapi.DocPathParam("chatID", "string", "Chat ID"),
		okapi.DocRequestBody(SendMessageRequest{}),
		okapi.DocResponse(http.StatusCreated, MessageResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
	)
	g.group.Post("/sessions/{tenantID}/chats/{chatID}/seen", g.handleMarkSeen,
		okapi.DocSummary("Mark a conversation as read"),
		okapi.DocTags("Chats"),
		okapi.DocPathParam("tenantID", "string", "Tenant ID"),
		okapi.DocPathParam("chatID", "string", "Chat ID"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
	)

	// Tenant registration (owner bootstrap).
	g.group.Put("/tenants/{tenantID}", g.handleTenantUpsert,
		okapi.DocSummary("Register or update a tenant"),
		okapi.DocTags("Tenants"),
		okapi.DocPathParam("tenantID", "string", "Tenant ID"),
		okapi.DocRequestBody(TenantRequest{}),
		okapi.DocResponse(TenantResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/tenants/{tenantID}", g.handleTenantGet,
		okapi.DocSummary("Get a tenant"),
		okapi.DocTags("Tenants"),
		okapi.DocPathParam("tenantID", "string", "Tenant ID"),
		okapi.DocResponse(TenantResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Extra handlers (the push WebSocket endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		userID := ""
		for key, id := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				userID = id
			}
		}
		if userID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// HealthResponse is the liveness/readiness body when no checker is set.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
