package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  listen_addr: ":9090"
  api_keys:
    secret-key: owner-1
bridge:
  url_template: "ws://bridges.internal/{tenant}"
lease:
  backend: redis
  redis:
    addr: "localhost:6379"
session:
  init_timeout_s: 90
sync:
  initial_page: 25
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if cfg.Server.APIKeys["secret-key"] != "owner-1" {
		t.Errorf("api keys = %v", cfg.Server.APIKeys)
	}
	if cfg.Lease.LeaseBackend() != "redis" {
		t.Errorf("lease backend = %q", cfg.Lease.LeaseBackend())
	}
	if got := cfg.Session.InitTimeout(); got != 90*time.Second {
		t.Errorf("init timeout = %v", got)
	}
	if cfg.Sync.InitialPage != 25 {
		t.Errorf("initial page = %d", cfg.Sync.InitialPage)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json",
		`{"bridge": {"url_template": "ws://b/{tenant}"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != ":8080" {
		t.Errorf("default addr = %q", cfg.Server.Addr())
	}
	if cfg.Lease.LeaseBackend() != "memory" {
		t.Errorf("default lease backend = %q", cfg.Lease.LeaseBackend())
	}
	if cfg.Storage.StorageDriver() != "sqlite" {
		t.Errorf("default storage driver = %q", cfg.Storage.StorageDriver())
	}
}

func TestLoadMissingBridge(t *testing.T) {
	path := writeConfig(t, "config.yaml", `server: {listen_addr: ":8080"}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "url_template") {
		t.Errorf("Load error = %v, want url_template complaint", err)
	}
}

func TestLoadBridgeWithoutPlaceholder(t *testing.T) {
	path := writeConfig(t, "config.yaml", `bridge: {url_template: "ws://fixed-host"}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "{tenant}") {
		t.Errorf("Load error = %v, want placeholder complaint", err)
	}
}

func TestLoadRedisRequiresAddr(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
bridge: {url_template: "ws://b/{tenant}"}
lease: {backend: redis}
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "redis.addr") {
		t.Errorf("Load error = %v, want redis.addr complaint", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ONGEA_BRIDGE_URL", "ws://env-host/{tenant}")
	t.Setenv("ONGEA_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("ONGEA_API_KEYS", "k1:alice, k2:bob")

	path := writeConfig(t, "config.yaml", `
bridge: {url_template: "ws://file-host/{tenant}"}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bridge.URLTemplate != "ws://env-host/{tenant}" {
		t.Errorf("bridge url = %q", cfg.Bridge.URLTemplate)
	}
	if cfg.Lease.LeaseBackend() != "redis" || cfg.Lease.Redis.Addr != "redis.internal:6379" {
		t.Errorf("lease = %+v", cfg.Lease)
	}
	if cfg.Server.APIKeys["k1"] != "alice" || cfg.Server.APIKeys["k2"] != "bob" {
		t.Errorf("api keys = %v", cfg.Server.APIKeys)
	}
}

func TestSessionDurationsNilSafe(t *testing.T) {
	var s *SessionConfig
	if s.InitTimeout() != 0 || s.TempRefreshInterval() != 0 || s.RefreshInterval() != 0 {
		t.Error("nil SessionConfig must yield zero durations")
	}
}
