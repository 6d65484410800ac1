package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/ongea/internal/chatsync"
	"github.com/jkaninda/ongea/internal/config"
	"github.com/jkaninda/ongea/internal/gateway/httpapi"
	"github.com/jkaninda/ongea/internal/lease"
	"github.com/jkaninda/ongea/internal/messenger"
	"github.com/jkaninda/ongea/internal/observability"
	"github.com/jkaninda/ongea/internal/permission"
	"github.com/jkaninda/ongea/internal/push"
	"github.com/jkaninda/ongea/internal/ratelimit"
	"github.com/jkaninda/ongea/internal/scheduler"
	"github.com/jkaninda/ongea/internal/session"
	"github.com/jkaninda/ongea/internal/storage"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session coordinator (HTTP API + push WebSocket)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `ongea --config path` and `ongea serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen port (e.g. :8080)")
	}
}

// runServe wires every subsystem and runs until a shutdown signal.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("ONGEA_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Server.ListenAddr = servePort
	}

	logger.Info("starting session coordinator", slog.String("config", serveConfigPath))

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()

	// Storage.
	store, err := storage.Open(storageConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// Session lease backend.
	leases, closeLeases, err := buildLeaseStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLeases()

	// Permission filtering and push fan-out.
	perms := permission.FromGrants(store.Grants())
	hub := push.NewHub(pushAuthenticator(cfg.Server.APIKeys, store), obs.MetricsOrNil(), logger)
	bridge := push.NewBridge(hub, perms, obs.MetricsOrNil(), logger)

	// Bridge adapter factory.
	factory := messenger.NewRemoteFactory(messenger.RemoteConfig{
		URLTemplate:  cfg.Bridge.URLTemplate,
		Token:        cfg.Bridge.Token,
		DialTimeoutS: cfg.Bridge.DialTimeoutS,
		OpTimeoutS:   cfg.Bridge.OpTimeoutS,
	}, logger)

	// Chat sync pipeline, created per session on ready.
	syncCfg := syncConfig(cfg.Sync)
	newSyncer := func(tenantID string, gw messenger.Handle, cache *session.Cache) session.Syncer {
		return chatsync.New(tenantID, gw, cache, bridge, syncCfg, obs.MetricsOrNil(), logger)
	}

	coordinator := session.NewCoordinator(
		leases,
		factory,
		bridge,
		newSyncer,
		session.Config{
			InitTimeout:         cfg.Session.InitTimeout(),
			TempRefreshInterval: cfg.Session.TempRefreshInterval(),
			RefreshInterval:     cfg.Session.RefreshInterval(),
		},
		obs.MetricsOrNil(),
		logger,
	)

	// Health checks.
	if health := obs.HealthOrNil(); health != nil {
		health.AddCheck("storage", func(ctx context.Context) error {
			_, err := store.Tenants().List(ctx)
			return err
		})
		if pinger, ok := leases.(interface{ Ping(ctx context.Context) error }); ok {
			health.AddCheck("lease", pinger.Ping)
		}
	}

	// Periodic resync scheduler (optional).
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		var schedMetrics *scheduler.Metrics
		if m := obs.MetricsOrNil(); m != nil {
			schedMetrics = scheduler.NewMetrics(m.Registry)
		}
		resync, err := scheduler.New(cfg.Scheduler, func() []scheduler.Session {
			conns := coordinator.List()
			out := make([]scheduler.Session, len(conns))
			for i, c := range conns {
				out[i] = c
			}
			return out
		}, schedMetrics, logger)
		if err != nil {
			return err
		}
		cancelResync := resync.Start(ctx)
		defer cancelResync()

		logger.Debug("resync scheduler initialized", slog.String("spec", cfg.Scheduler.Spec()))
	}

	// HTTP API gateway with the push WebSocket mounted alongside.
	gw := buildHTTPGateway(cfg, coordinator, store, perms, obs, hub, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("http gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline. Sessions stop first so disconnect
	// frames still reach connected push clients.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coordinator.StopAll(shutdownCtx)
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping http gateway", slog.String("error", err.Error()))
	}
	return nil
}

// buildHTTPGateway assembles the HTTP API from config and shared components.
func buildHTTPGateway(
	cfg *config.Config,
	coordinator *session.Coordinator,
	store storage.Store,
	perms permission.Service,
	obs *observability.Observability,
	hub *push.Hub,
	logger *slog.Logger,
) *httpapi.Gateway {
	var limiter *ratelimit.Limiter
	if rl := cfg.Server.RateLimit; rl != nil {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: rl.RequestsPerMinute,
			BurstSize:         rl.BurstSize,
		})
	}

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		APIKeys:        cfg.Server.APIKeys,
		MaxRequestSize: cfg.Server.MaxRequestSize,
	}
	if m := obs.MetricsOrNil(); m != nil {
		httpCfg.Metrics = m
		httpCfg.MetricsRegistry = m.Registry
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}
	httpCfg.HealthChecker = obs.HealthOrNil()
	if t := obs.TracerOrNil(); t != nil {
		httpCfg.Tracer = t.Tracer()
	}

	gw := httpapi.NewGateway(httpCfg, coordinator, store, perms, limiter, logger)

	gw.WithHandler("/ws", hub.Handler())
	logger.Debug("push websocket endpoint mounted", slog.String("path", "/ws"))

	return gw
}

// buildLeaseStore selects the lease backend from config.
func buildLeaseStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lease.Store, func(), error) {
	switch backend := cfg.Lease.LeaseBackend(); backend {
	case "redis":
		rc := cfg.Lease.Redis
		store, err := lease.NewRedisStore(ctx, lease.RedisConfig{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis lease backend: %w", err)
		}
		logger.Debug("lease backend initialized",
			slog.String("backend", "redis"),
			slog.String("addr", rc.Addr),
		)
		return store, func() { _ = store.Close() }, nil
	case "memory":
		logger.Warn("in-memory lease backend active; single-process exclusivity only")
		return lease.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown lease backend %q", backend)
	}
}

// pushAuthenticator resolves WebSocket upgrade requests to subscriber
// identities. The token rides in a query parameter because browser
// WebSocket clients cannot set an Authorization header.
func pushAuthenticator(apiKeys map[string]string, store storage.Store) push.Authenticator {
	return func(r *http.Request) (push.Identity, error) {
		query := r.URL.Query()
		token := query.Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			return push.Identity{}, fmt.Errorf("missing token")
		}

		userID := ""
		for key, user := range apiKeys {
			if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
				userID = user
				break
			}
		}
		if userID == "" {
			return push.Identity{}, fmt.Errorf("invalid token")
		}

		tenantID := query.Get("tenant")
		if tenantID == "" {
			return push.Identity{}, fmt.Errorf("missing tenant")
		}

		owner, err := store.Grants().IsOwner(r.Context(), tenantID, userID)
		if err != nil {
			return push.Identity{}, fmt.Errorf("resolving ownership: %w", err)
		}
		return push.Identity{TenantID: tenantID, UserID: userID, Owner: owner}, nil
	}
}

// storageConfig maps the file config onto the storage package config,
// deriving the default SQLite path from the data directory.
func storageConfig(cfg *config.Config) *storage.Config {
	out := &storage.Config{Driver: cfg.Storage.StorageDriver()}

	if s := cfg.Storage; s != nil {
		if s.SQLite != nil {
			out.SQLite.Path = s.SQLite.Path
		}
		if s.Postgres != nil {
			out.Postgres = storage.PostgresConfig{
				DSN:              s.Postgres.DSN,
				MaxOpenConns:     s.Postgres.MaxOpenConns,
				MaxIdleConns:     s.Postgres.MaxIdleConns,
				ConnMaxLifetimeS: s.Postgres.ConnMaxLifetimeS,
			}
		}
	}
	if out.SQLite.Path == "" {
		out.SQLite.Path = filepath.Join(cfg.DataDir, "ongea.db")
	}
	return out
}

// syncConfig maps the file config onto the pipeline config.
func syncConfig(s *config.SyncConfig) chatsync.Config {
	if s == nil {
		return chatsync.Config{}
	}
	return chatsync.Config{
		InitialPage:        s.InitialPage,
		BatchSize:          s.BatchSize,
		RecentWindow:       s.RecentWindow,
		AvatarWorkers:      s.AvatarWorkers,
		AvatarFetchTimeout: time.Duration(s.AvatarFetchTimeoutS) * time.Second,
		AvatarPhaseTimeout: time.Duration(s.AvatarPhaseTimeoutS) * time.Second,
	}
}
