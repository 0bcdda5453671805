package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Repository.Driver)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Monitor.Timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %s", cfg.Monitor.Timeout)
	}
	if cfg.Cache.ResultTTL != time.Hour {
		t.Errorf("expected 1h result ttl, got %s", cfg.Cache.ResultTTL)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("HERON_SERVER_PORT", "9090")
		t.Setenv("HERON_MONITOR_TIMEOUT", "3s")
		t.Setenv("HERON_MONITOR_ASYNC", "true")
		t.Setenv("HERON_LOGGING_LEVEL", "debug")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Monitor.Timeout != 3*time.Second {
			t.Errorf("expected 3s, got %s", cfg.Monitor.Timeout)
		}
		if !cfg.Monitor.Async {
			t.Error("expected async monitoring")
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected debug, got %s", cfg.Logging.Level)
		}
	})

	t.Run("ProTier", func(t *testing.T) {
		t.Setenv("HERON_TIER", "pro")
		t.Setenv("HERON_REPOSITORY_POSTGRES_HOST", "db.internal")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Tier != domain.TierPro {
			t.Errorf("expected pro tier, got %s", cfg.Tier)
		}
		if cfg.Repository.Driver != "postgres" || cfg.Repository.PostgresHost != "db.internal" {
			t.Errorf("unexpected repository config %+v", cfg.Repository)
		}
		if cfg.EventBus.Type != "nats" || cfg.EventBus.NATSQueue != "heron-workers" {
			t.Errorf("unexpected event bus config %+v", cfg.EventBus)
		}
		if !cfg.Cache.EnableTwoPhase {
			t.Error("expected two-phase cache")
		}
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heron.yaml")
	content := `
server:
  port: 7070
repository:
  sqlite_path: /var/lib/heron/heron.db
monitor:
  batch_workers: 8
  timeout: 2s
logging:
  format: text
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected 7070, got %d", cfg.Server.Port)
	}
	if cfg.Repository.SQLitePath != "/var/lib/heron/heron.db" {
		t.Errorf("unexpected sqlite path %s", cfg.Repository.SQLitePath)
	}
	if cfg.Monitor.BatchWorkers != 8 || cfg.Monitor.Timeout != 2*time.Second {
		t.Errorf("unexpected monitor config %+v", cfg.Monitor)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected text, got %s", cfg.Logging.Format)
	}
	// Untouched keys keep their defaults.
	if cfg.Cache.Type != "memory" {
		t.Errorf("expected memory cache, got %s", cfg.Cache.Type)
	}

	t.Run("EnvBeatsFile", func(t *testing.T) {
		t.Setenv("HERON_SERVER_PORT", "6060")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 6060 {
			t.Errorf("expected 6060, got %d", cfg.Server.Port)
		}
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "absent.yaml")); err == nil {
			t.Error("expected error for missing explicit file")
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("DefaultsValid", func(t *testing.T) {
		if err := Validate(domain.DefaultConfig()); err != nil {
			t.Errorf("expected valid defaults, got %v", err)
		}
		if err := Validate(domain.ProConfig()); err != nil {
			t.Errorf("expected valid pro defaults, got %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{"BadPort", func(c *domain.Config) { c.Server.Port = 0 }},
		{"BadDriver", func(c *domain.Config) { c.Repository.Driver = "mysql" }},
		{"BadCache", func(c *domain.Config) { c.Cache.Type = "memcached" }},
		{"BadBus", func(c *domain.Config) { c.EventBus.Type = "kafka" }},
		{"NoWorkers", func(c *domain.Config) { c.Monitor.BatchWorkers = 0 }},
		{"NoTimeout", func(c *domain.Config) { c.Monitor.Timeout = 0 }},
		{"BadLevel", func(c *domain.Config) { c.Logging.Level = "verbose" }},
		{"BadFormat", func(c *domain.Config) { c.Logging.Format = "xml" }},
		{"BadTier", func(c *domain.Config) { c.Tier = "enterprise" }},
		{"BadMetricsPath", func(c *domain.Config) { c.Metrics.Path = "metrics" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}
