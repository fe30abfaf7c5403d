package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BRIDGE_CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("expected port %d, got %d", DefaultPort, cfg.Port)
	}
	if cfg.CommandTimeout != DefaultCommandTimeout {
		t.Fatalf("expected timeout %v, got %v", DefaultCommandTimeout, cfg.CommandTimeout)
	}
	if !cfg.MCPEnabled || !cfg.RESTEnabled {
		t.Fatalf("expected both fronts enabled by default")
	}
	if cfg.EnableEvaluate {
		t.Fatalf("evaluate must be disabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BRIDGE_CONFIG_DIR", t.TempDir())
	t.Setenv("BRIDGE_PORT", "9999")
	t.Setenv("BRIDGE_RATE_LIMIT", "5")
	t.Setenv("BRIDGE_RATE_WINDOW", "1000")
	t.Setenv("BRIDGE_COMMAND_TIMEOUT", "2s")
	t.Setenv("BRIDGE_ENABLE_EVALUATE", "true")
	t.Setenv("BRIDGE_MCP_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("expected port 9999, got %d", cfg.Port)
	}
	if cfg.RateLimit != 5 {
		t.Fatalf("expected rate limit 5, got %d", cfg.RateLimit)
	}
	if cfg.RateWindow != time.Second {
		t.Fatalf("expected 1s window, got %v", cfg.RateWindow)
	}
	if cfg.CommandTimeout != 2*time.Second {
		t.Fatalf("expected 2s timeout, got %v", cfg.CommandTimeout)
	}
	if !cfg.EnableEvaluate {
		t.Fatalf("expected evaluate enabled")
	}
	if cfg.MCPEnabled {
		t.Fatalf("expected MCP disabled")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BRIDGE_CONFIG_DIR", dir)

	yaml := "port: 8421\nrate_limit: 12\nenable_evaluate: true\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != 8421 || cfg.RateLimit != 12 || !cfg.EnableEvaluate {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BRIDGE_CONFIG_DIR", dir)
	t.Setenv("BRIDGE_PORT", "7001")

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("port: 8001\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != 7001 {
		t.Fatalf("expected env override 7001, got %d", cfg.Port)
	}
}

func TestLoadInvalidPort(t *testing.T) {
	t.Setenv("BRIDGE_CONFIG_DIR", t.TempDir())
	t.Setenv("BRIDGE_PORT", "not-a-port")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}

func TestGetPathsLayout(t *testing.T) {
	p := GetPaths("/tmp/bb")
	if p.KeysDB != filepath.Join("/tmp/bb", "keys.db") {
		t.Fatalf("unexpected keys path: %s", p.KeysDB)
	}
	if p.PluginsDir != filepath.Join("/tmp/bb", "plugins") {
		t.Fatalf("unexpected plugins path: %s", p.PluginsDir)
	}
}
