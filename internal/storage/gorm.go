package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jkaninda/ongea/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// gormStore implements Store on a GORM connection, SQLite or PostgreSQL.
type gormStore struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger
}

// Open creates a Store for the configured driver.
func Open(cfg *Config, logger *slog.Logger) (Store, error) {
	switch cfg.StorageDriver() {
	case DriverPostgres:
		return openPostgres(cfg.Postgres, logger)
	case DriverSQLite:
		return openSQLite(cfg.SQLite, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func openSQLite(cfg SQLiteConfig, logger *slog.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		path = filepath.Join(os.TempDir(), "ongea.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	journal := cfg.JournalMode
	if journal == "" {
		journal = "wal"
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)", path, journal)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	return &gormStore{db: db, driver: DriverSQLite, logger: logger}, nil
}

func openPostgres(cfg PostgresConfig, logger *slog.Logger) (Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres storage requires a DSN")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetimeS
	if lifetime <= 0 {
		lifetime = 1800
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Duration(lifetime) * time.Second)

	return &gormStore{db: db, driver: DriverPostgres, logger: logger}, nil
}

func (s *gormStore) Tenants() TenantStore { return &tenantRepo{db: s.db} }
func (s *gormStore) Grants() GrantStore   { return &grantRepo{db: s.db} }
func (s *gormStore) Driver() string       { return s.driver }

func (s *gormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&tenantModel{}, &chatGrantModel{}); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	s.logger.Debug("storage migrated", slog.String("driver", s.driver))
	return nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// tenantModel is the GORM mapping for domain.Tenant.
type tenantModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	OwnerID   string `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (tenantModel) TableName() string { return "tenants" }

// chatGrantModel is the GORM mapping for domain.ChatGrant.
type chatGrantModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  string    `gorm:"index:idx_grants_tenant_user"`
	UserID    string    `gorm:"index:idx_grants_tenant_user"`
	ChatID    string
	CreatedAt time.Time
}

func (chatGrantModel) TableName() string { return "chat_grants" }

type tenantRepo struct {
	db *gorm.DB
}

func (r *tenantRepo) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	var m tenantModel
	err := r.db.WithContext(ctx).First(&m, "id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant %s: %w", tenantID, err)
	}
	t := tenantFromModel(m)
	return &t, nil
}

func (r *tenantRepo) List(ctx context.Context) ([]domain.Tenant, error) {
	var models []tenantModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	tenants := make([]domain.Tenant, 0, len(models))
	for _, m := range models {
		tenants = append(tenants, tenantFromModel(m))
	}
	return tenants, nil
}

func (r *tenantRepo) Upsert(ctx context.Context, t *domain.Tenant) error {
	m := tenantModel{
		ID:        t.ID,
		Name:      t.Name,
		OwnerID:   t.OwnerID,
		CreatedAt: t.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}
	if err := r.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("saving tenant %s: %w", t.ID, err)
	}
	return nil
}

type grantRepo struct {
	db *gorm.DB
}

// ListChatIDs implements permission.Service for non-owner employees.
func (r *grantRepo) ListChatIDs(ctx context.Context, tenantID, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&chatGrantModel{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Pluck("chat_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("listing chat grants for %s/%s: %w", tenantID, userID, err)
	}
	return ids, nil
}

func (r *grantRepo) IsOwner(ctx context.Context, tenantID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&tenantModel{}).
		Where("id = ? AND owner_id = ?", tenantID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking tenant owner: %w", err)
	}
	return count > 0, nil
}

func tenantFromModel(m tenantModel) domain.Tenant {
	return domain.Tenant{
		ID:        m.ID,
		Name:      m.Name,
		OwnerID:   m.OwnerID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
