package storage

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jkaninda/ongea/internal/domain"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	cfg := &Config{
		Driver: DriverSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	}
	s, err := Open(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestTenantUpsertGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tenant := &domain.Tenant{ID: "t1", Name: "Acme", OwnerID: "owner-1"}
	if err := s.Tenants().Upsert(ctx, tenant); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Tenants().Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Acme" || got.OwnerID != "owner-1" {
		t.Errorf("Get = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set on insert")
	}

	// Update keeps the row count at one.
	tenant.Name = "Acme Ltd"
	if err := s.Tenants().Upsert(ctx, tenant); err != nil {
		t.Fatal(err)
	}
	all, err := s.Tenants().List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("List returned %d tenants, want 1", len(all))
	}
	if all[0].Name != "Acme Ltd" {
		t.Errorf("updated name = %q", all[0].Name)
	}
}

func TestTenantGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Tenants().Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestGrants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Tenants().Upsert(ctx, &domain.Tenant{ID: "t1", OwnerID: "owner-1"}); err != nil {
		t.Fatal(err)
	}

	owner, err := s.Grants().IsOwner(ctx, "t1", "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if !owner {
		t.Error("IsOwner(owner-1) = false")
	}
	owner, err = s.Grants().IsOwner(ctx, "t1", "emp-1")
	if err != nil {
		t.Fatal(err)
	}
	if owner {
		t.Error("IsOwner(emp-1) = true")
	}

	// Employee with no grants sees nothing.
	ids, err := s.Grants().ListChatIDs(ctx, "t1", "emp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("ListChatIDs = %v, want empty", ids)
	}
}
