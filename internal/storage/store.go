// Package storage provides GORM-backed persistence for tenants and chat
// grants. Two backends: SQLite (glebarez driver, pure Go, default) and
// PostgreSQL (production/multi-tenant). The conversation cache itself is
// never persisted here; it lives only for the duration of a connection.
package storage

import (
	"context"

	"github.com/jkaninda/ongea/internal/domain"
)

// TenantStore persists tenant accounts.
type TenantStore interface {
	Get(ctx context.Context, tenantID string) (*domain.Tenant, error)
	List(ctx context.Context) ([]domain.Tenant, error)
	Upsert(ctx context.Context, t *domain.Tenant) error
}

// GrantStore reads chat-visibility grants. Write operations live in the
// surrounding admin service; this service only filters by them.
type GrantStore interface {
	ListChatIDs(ctx context.Context, tenantID, userID string) ([]string, error)
	IsOwner(ctx context.Context, tenantID, userID string) (bool, error)
}

// Store is the unified persistence interface.
type Store interface {
	Tenants() TenantStore
	Grants() GrantStore

	Migrate(ctx context.Context) error
	Close() error

	// Driver returns "sqlite" or "postgres".
	Driver() string
}

// Driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures the storage backend.
type Config struct {
	Driver   string         `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres".
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (c *Config) StorageDriver() string {
	if c != nil && c.Driver != "" {
		return c.Driver
	}
	return DriverSQLite
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	JournalMode string `json:"journal_mode" yaml:"journal_mode"` // "wal" (default).
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25.
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5.
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800.
}
