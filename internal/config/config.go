// Package config handles loading and validating Ongea configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Ongea.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.ongea/data. Override: ONGEA_DATA_DIR env var.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Bridge        BridgeConfig         `json:"bridge" yaml:"bridge"`
	Lease         *LeaseConfig         `json:"lease,omitempty" yaml:"lease,omitempty"`                 // nil = in-process lease store (single node).
	Session       *SessionConfig       `json:"session,omitempty" yaml:"session,omitempty"`             // nil = defaults.
	Sync          *SyncConfig          `json:"sync,omitempty" yaml:"sync,omitempty"`                   // nil = defaults.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite default (derived from data dir).
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled.
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = periodic resync disabled.
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	ListenAddr     string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs     bool              `json:"enable_docs" yaml:"enable_docs"`
	APIKeys        map[string]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // API key → user ID mapping. Keys from env.
	MaxRequestSize int64             `json:"max_request_size" yaml:"max_request_size"`     // Maximum request body in bytes. 0 = 1 MB default.
	RateLimit      *RateLimitConfig  `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// Addr returns the listen address, defaulting to ":8080".
func (s ServerConfig) Addr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// RateLimitConfig configures per-user request throttling.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`                   // 0 = requests_per_minute.
}

// BridgeConfig configures how gateway bridge processes are reached.
type BridgeConfig struct {
	URLTemplate  string `json:"url_template" yaml:"url_template"` // WebSocket URL with a {tenant} placeholder. Override: ONGEA_BRIDGE_URL.
	Token        string `json:"token,omitempty" yaml:"token,omitempty"`
	DialTimeoutS int    `json:"dial_timeout_s" yaml:"dial_timeout_s"` // Default: 15.
	OpTimeoutS   int    `json:"op_timeout_s" yaml:"op_timeout_s"`     // Default: 30.
}

// LeaseConfig selects the session lease backend.
type LeaseConfig struct {
	Backend string       `json:"backend" yaml:"backend"` // "redis" or "memory". Default: "memory".
	Redis   *RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

// LeaseBackend returns the configured backend, defaulting to "memory".
func (l *LeaseConfig) LeaseBackend() string {
	if l != nil && l.Backend != "" {
		return l.Backend
	}
	return "memory"
}

// RedisConfig configures the Redis lease backend.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"` // e.g. "localhost:6379". Override: ONGEA_REDIS_ADDR.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
}

// SessionConfig tunes connection lifecycle timings.
type SessionConfig struct {
	InitTimeoutS         int `json:"init_timeout_s" yaml:"init_timeout_s"`                   // Default: 60.
	TempRefreshIntervalS int `json:"temp_refresh_interval_s" yaml:"temp_refresh_interval_s"` // Default: 3.
	RefreshIntervalS     int `json:"refresh_interval_s" yaml:"refresh_interval_s"`           // Default: 8.
}

// InitTimeout returns the gateway init timeout as a duration.
func (s *SessionConfig) InitTimeout() time.Duration {
	if s == nil || s.InitTimeoutS <= 0 {
		return 0
	}
	return time.Duration(s.InitTimeoutS) * time.Second
}

// TempRefreshInterval returns the pre-ready lease refresh cadence.
func (s *SessionConfig) TempRefreshInterval() time.Duration {
	if s == nil || s.TempRefreshIntervalS <= 0 {
		return 0
	}
	return time.Duration(s.TempRefreshIntervalS) * time.Second
}

// RefreshInterval returns the steady-state lease refresh cadence.
func (s *SessionConfig) RefreshInterval() time.Duration {
	if s == nil || s.RefreshIntervalS <= 0 {
		return 0
	}
	return time.Duration(s.RefreshIntervalS) * time.Second
}

// SyncConfig tunes the chat sync pipeline.
type SyncConfig struct {
	InitialPage         int `json:"initial_page" yaml:"initial_page"`                     // Default: 50.
	BatchSize           int `json:"batch_size" yaml:"batch_size"`                         // Default: 20.
	RecentWindow        int `json:"recent_window" yaml:"recent_window"`                   // Default: 10.
	AvatarWorkers       int `json:"avatar_workers" yaml:"avatar_workers"`                 // Default: 5.
	AvatarFetchTimeoutS int `json:"avatar_fetch_timeout_s" yaml:"avatar_fetch_timeout_s"` // Default: 5.
	AvatarPhaseTimeoutS int `json:"avatar_phase_timeout_s" yaml:"avatar_phase_timeout_s"` // Default: 10.
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: ONGEA_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25.
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5.
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min).
}

// ObservabilityConfig configures metrics, tracing and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics".
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317".
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc".
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "ongea".
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0.
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev.
}

// SchedulerConfig configures the periodic chat resync for active sessions.
type SchedulerConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ResyncSpec string `json:"resync_spec" yaml:"resync_spec"` // Cron spec. Default: every 30 minutes.
}

// Spec returns the cron expression for resync runs, with a default.
func (s *SchedulerConfig) Spec() string {
	if s == nil || s.ResyncSpec == "" {
		return "*/30 * * * *"
	}
	return s.ResyncSpec
}

// DefaultConfigPath returns the conventional config location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ongea.yaml"
	}
	return filepath.Join(home, ".ongea", "config.yaml")
}

// Load reads, parses and validates a config file. YAML is selected by file
// extension; anything else is parsed as JSON. Environment variables take
// precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".ongea", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if env := os.Getenv("ONGEA_DATA_DIR"); env != "" {
		c.DataDir = env
	}
	if env := os.Getenv("ONGEA_BRIDGE_URL"); env != "" {
		c.Bridge.URLTemplate = env
	}
	if env := os.Getenv("ONGEA_BRIDGE_TOKEN"); env != "" {
		c.Bridge.Token = env
	}
	if env := os.Getenv("ONGEA_REDIS_ADDR"); env != "" {
		if c.Lease == nil {
			c.Lease = &LeaseConfig{Backend: "redis"}
		}
		if c.Lease.Redis == nil {
			c.Lease.Redis = &RedisConfig{}
		}
		c.Lease.Redis.Addr = env
	}
	if env := os.Getenv("ONGEA_REDIS_PASSWORD"); env != "" {
		if c.Lease != nil && c.Lease.Redis != nil {
			c.Lease.Redis.Password = env
		}
	}
	if env := os.Getenv("ONGEA_DB_DSN"); env != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = env
	}
	// ONGEA_API_KEYS holds "key:user" pairs separated by commas, so keys
	// never have to live in the config file.
	if env := os.Getenv("ONGEA_API_KEYS"); env != "" {
		keys := make(map[string]string)
		for _, pair := range strings.Split(env, ",") {
			key, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if ok && key != "" && user != "" {
				keys[key] = user
			}
		}
		if len(keys) > 0 {
			c.Server.APIKeys = keys
		}
	}
}

func (c *Config) validate() error {
	if c.Bridge.URLTemplate == "" {
		return fmt.Errorf("bridge.url_template is required")
	}
	if !strings.Contains(c.Bridge.URLTemplate, "{tenant}") {
		return fmt.Errorf("bridge.url_template must contain a {tenant} placeholder")
	}
	if c.Lease.LeaseBackend() == "redis" {
		if c.Lease == nil || c.Lease.Redis == nil || c.Lease.Redis.Addr == "" {
			return fmt.Errorf("lease.redis.addr is required for the redis backend")
		}
	}
	switch c.Storage.StorageDriver() {
	case "sqlite":
	case "postgres":
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Scheduler != nil && c.Scheduler.Enabled && c.Scheduler.ResyncSpec != "" {
		if fields := strings.Fields(c.Scheduler.ResyncSpec); len(fields) != 5 && len(fields) != 6 {
			return fmt.Errorf("scheduler.resync_spec %q is not a valid cron spec", c.Scheduler.ResyncSpec)
		}
	}
	return nil
}

// resolvePath expands a leading ~ to the user home directory.
func resolvePath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
