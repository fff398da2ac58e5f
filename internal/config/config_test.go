package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/kline"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg, err := c.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if cfg.P2Timeout != 50*time.Millisecond {
		t.Fatalf("expected default p2 timeout, got %v", cfg.P2Timeout)
	}
	if cfg.BusInitStrategy != kline.FiveBaud {
		t.Fatalf("expected default five_baud strategy, got %v", cfg.BusInitStrategy)
	}
	if addr := c.ServerAddr(); addr != ":9090" {
		t.Fatalf("unexpected server addr: %s", addr)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
engine:
  p2_timeout_ms: 75
  bus_init_strategy: fast
`)
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg, err := c.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if cfg.P2Timeout != 75*time.Millisecond {
		t.Fatalf("expected overridden p2 timeout, got %v", cfg.P2Timeout)
	}
	if cfg.BusInitStrategy != kline.FastInitStrategy {
		t.Fatalf("expected fast init strategy, got %v", cfg.BusInitStrategy)
	}
}

func TestLoadConfigRejectsUnknownStrategy(t *testing.T) {
	path := writeConfig(t, "engine:\n  bus_init_strategy: bogus\n")
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if _, err := c.EngineConfig(); err == nil {
		t.Fatal("expected error for unknown bus_init_strategy")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
