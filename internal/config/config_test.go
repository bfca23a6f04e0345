package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  name: "Test Server"
database:
  dsn: "postgres://localhost/test"
monitor:
  owner_id: "00000000-0000-0000-0000-000000000001"
  min_interval: 10s
  min_distance_meters: 8.5
  cache_stats: true
integration:
  webhooks:
    - name: "hook"
      endpoint: "https://example.com/hook"
      events: ["enter"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Name != "Test Server" {
		t.Errorf("Server.Name = %q", cfg.Server.Name)
	}
	if cfg.Database.DSN != "postgres://localhost/test" {
		t.Errorf("Database.DSN = %q", cfg.Database.DSN)
	}
	if cfg.Monitor.MinInterval != 10*time.Second {
		t.Errorf("Monitor.MinInterval = %v", cfg.Monitor.MinInterval)
	}
	if cfg.Monitor.MinDistance != 8.5 {
		t.Errorf("Monitor.MinDistance = %v", cfg.Monitor.MinDistance)
	}
	if !cfg.Monitor.CacheStats {
		t.Error("Monitor.CacheStats = false")
	}
	if len(cfg.Integration.Webhooks) != 1 || cfg.Integration.Webhooks[0].Name != "hook" {
		t.Errorf("Integration.Webhooks = %+v", cfg.Integration.Webhooks)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "postgres://localhost/test"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.JWT.AccessTokenTTL != 15*time.Minute {
		t.Errorf("JWT.AccessTokenTTL = %v", cfg.JWT.AccessTokenTTL)
	}
	if cfg.Monitor.MinInterval != 5*time.Second {
		t.Errorf("Monitor.MinInterval = %v, want 5s", cfg.Monitor.MinInterval)
	}
	if cfg.Monitor.MinDistance != 5.0 {
		t.Errorf("Monitor.MinDistance = %v, want 5", cfg.Monitor.MinDistance)
	}
	if cfg.Monitor.ToleranceMeters != 5.0 {
		t.Errorf("Monitor.ToleranceMeters = %v, want 5", cfg.Monitor.ToleranceMeters)
	}
	if cfg.Monitor.StateTTL != 24*time.Hour {
		t.Errorf("Monitor.StateTTL = %v, want 24h", cfg.Monitor.StateTTL)
	}
	if cfg.Monitor.DedupWindow != 3*time.Second {
		t.Errorf("Monitor.DedupWindow = %v, want 3s", cfg.Monitor.DedupWindow)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "postgres://localhost/from-file"
monitor:
  owner_id: "00000000-0000-0000-0000-000000000001"
`)

	t.Setenv("DATABASE_URL", "postgres://localhost/from-env")
	t.Setenv("MONITOR_OWNER_ID", "00000000-0000-0000-0000-000000000002")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.DSN != "postgres://localhost/from-env" {
		t.Errorf("Database.DSN = %q, want env override", cfg.Database.DSN)
	}
	if cfg.Monitor.OwnerID != "00000000-0000-0000-0000-000000000002" {
		t.Errorf("Monitor.OwnerID = %q, want env override", cfg.Monitor.OwnerID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
