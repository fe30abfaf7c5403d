package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 7890
	DefaultHost           = "0.0.0.0"
	DefaultRateLimit      = 60
	DefaultRateWindow     = time.Minute
	DefaultCommandTimeout = 30 * time.Second
)

// Config holds the daemon's runtime settings. Values come from the optional
// config.yaml in the config directory, overridden by BRIDGE_* environment
// variables.
type Config struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	RateLimit      int           `yaml:"rate_limit"`
	RateWindow     time.Duration `yaml:"rate_window"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	CORSOrigin     string        `yaml:"cors_origin"`
	EnableEvaluate bool          `yaml:"enable_evaluate"`
	MCPEnabled     bool          `yaml:"mcp_enabled"`
	RESTEnabled    bool          `yaml:"rest_enabled"`
	ConfigDir      string        `yaml:"-"`
}

// Paths contains the filesystem layout rooted at the config directory.
type Paths struct {
	Home       string // Config directory
	ConfigFile string // Optional YAML configuration file
	KeysDB     string // SQLite key store path
	PluginsDir string // Script plugin directory
}

// GetPaths returns the filesystem layout for the given config directory.
// An empty dir resolves to ~/.config/browser-bridge.
func GetPaths(dir string) Paths {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".config", "browser-bridge")
	}
	return Paths{
		Home:       dir,
		ConfigFile: filepath.Join(dir, "config.yaml"),
		KeysDB:     filepath.Join(dir, "keys.db"),
		PluginsDir: filepath.Join(dir, "plugins"),
	}
}

// EnsureDirs creates the config and plugin directories if missing.
func EnsureDirs(p Paths) error {
	for _, dir := range []string{p.Home, p.PluginsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: ensure %s: %w", dir, err)
		}
	}
	return nil
}

func defaults() Config {
	return Config{
		Port:           DefaultPort,
		Host:           DefaultHost,
		RateLimit:      DefaultRateLimit,
		RateWindow:     DefaultRateWindow,
		CommandTimeout: DefaultCommandTimeout,
		MCPEnabled:     true,
		RESTEnabled:    true,
	}
}

// Load builds the effective configuration: defaults, then the YAML file if
// present, then environment overrides.
func Load() (Config, error) {
	cfg := defaults()
	cfg.ConfigDir = os.Getenv("BRIDGE_CONFIG_DIR")

	paths := GetPaths(cfg.ConfigDir)
	if data, err := os.ReadFile(paths.ConfigFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", paths.ConfigFile, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read %s: %w", paths.ConfigFile, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("BRIDGE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("config: invalid BRIDGE_PORT %q", v)
		}
		cfg.Port = port
	}
	if v := os.Getenv("BRIDGE_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("BRIDGE_RATE_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return fmt.Errorf("config: invalid BRIDGE_RATE_LIMIT %q", v)
		}
		cfg.RateLimit = limit
	}
	if v := os.Getenv("BRIDGE_RATE_WINDOW"); v != "" {
		window, err := parseMillis(v)
		if err != nil {
			return fmt.Errorf("config: invalid BRIDGE_RATE_WINDOW %q", v)
		}
		cfg.RateWindow = window
	}
	if v := os.Getenv("BRIDGE_COMMAND_TIMEOUT"); v != "" {
		timeout, err := parseMillis(v)
		if err != nil {
			return fmt.Errorf("config: invalid BRIDGE_COMMAND_TIMEOUT %q", v)
		}
		cfg.CommandTimeout = timeout
	}
	if v := os.Getenv("BRIDGE_CORS_ORIGIN"); v != "" {
		cfg.CORSOrigin = v
	}
	if v := os.Getenv("BRIDGE_ENABLE_EVALUATE"); v != "" {
		cfg.EnableEvaluate = v == "true"
	}
	if v := os.Getenv("BRIDGE_MCP_ENABLED"); v != "" {
		cfg.MCPEnabled = v != "false"
	}
	if v := os.Getenv("BRIDGE_REST_ENABLED"); v != "" {
		cfg.RESTEnabled = v != "false"
	}
	return nil
}

// parseMillis accepts a bare millisecond count ("30000") or a Go duration
// string ("30s").
func parseMillis(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("must be positive")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("must be a positive duration")
	}
	return d, nil
}
