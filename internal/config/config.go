// Package config loads switchyard's daemon configuration (TOML) and
// per-project overrides (.switchyard.yaml), with env vars taking precedence
// over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration.
type Config struct {
	// DatabasePath is the sqlite workspace database. Empty means the
	// in-memory store (state is lost on restart).
	DatabasePath string `toml:"database_path"`

	Monitor MonitorConfig `toml:"monitor"`
	Pool    PoolConfig    `toml:"pool"`
	Serve   ServeConfig   `toml:"serve"`
}

// MonitorConfig tunes the liveness and activity monitor.
type MonitorConfig struct {
	// ProbeIntervalSec is how often each guest's tmux session is re-probed.
	ProbeIntervalSec int `toml:"probe_interval_sec"`
	// IdleTimeoutSec is how long a running session stays busy with no
	// further activity signals before flipping to idle.
	IdleTimeoutSec int `toml:"idle_timeout_sec"`
	// PollIntervalSec is how often session panes are captured for output
	// diffing. Zero disables capture-based polling (callers push chunks).
	PollIntervalSec int `toml:"poll_interval_sec"`
	// CaptureLines bounds each pane capture.
	CaptureLines int `toml:"capture_lines"`
}

// PoolConfig sets workspace-wide defaults for the message pool. Projects can
// override these via store records or .switchyard.yaml.
type PoolConfig struct {
	Enabled     bool   `toml:"enabled"`
	DelayMs     int    `toml:"delay_ms"`
	MaxWaitMs   int    `toml:"max_wait_ms"`
	MaxMessages int    `toml:"max_messages"`
	Separator   string `toml:"separator"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			ProbeIntervalSec: 15,
			IdleTimeoutSec:   30,
			PollIntervalSec:  2,
			CaptureLines:     200,
		},
		Pool: PoolConfig{
			Enabled:     true,
			DelayMs:     5000,
			MaxWaitMs:   30000,
			MaxMessages: 20,
			Separator:   "\n---\n",
		},
		Serve: ServeConfig{
			Host: "127.0.0.1",
			Port: 8920,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "switchyard", "config.toml")
}

// Load reads the config at path (DefaultPath when empty), layering
// TOML over defaults and environment variables over both.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if db := os.Getenv("SWITCHYARD_DB"); db != "" {
		cfg.DatabasePath = db
	}
	if v := os.Getenv("SWITCHYARD_PROBE_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Monitor.ProbeIntervalSec = n
		}
	}
	if v := os.Getenv("SWITCHYARD_IDLE_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Monitor.IdleTimeoutSec = n
		}
	}
	if v := os.Getenv("SWITCHYARD_POOL_ENABLED"); v != "" {
		cfg.Pool.Enabled = v == "1" || v == "true"
	}
	if host := os.Getenv("SWITCHYARD_HOST"); host != "" {
		cfg.Serve.Host = host
	}
	if port := os.Getenv("SWITCHYARD_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Serve.Port = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Monitor.ProbeIntervalSec <= 0 {
		return fmt.Errorf("monitor.probe_interval_sec must be positive, got %d", c.Monitor.ProbeIntervalSec)
	}
	if c.Monitor.IdleTimeoutSec <= 0 {
		return fmt.Errorf("monitor.idle_timeout_sec must be positive, got %d", c.Monitor.IdleTimeoutSec)
	}
	if c.Pool.DelayMs < 0 || c.Pool.MaxWaitMs < 0 {
		return fmt.Errorf("pool delays must be non-negative")
	}
	if c.Pool.MaxWaitMs > 0 && c.Pool.MaxWaitMs < c.Pool.DelayMs {
		return fmt.Errorf("pool.max_wait_ms (%d) must be >= pool.delay_ms (%d)", c.Pool.MaxWaitMs, c.Pool.DelayMs)
	}
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("serve.port out of range: %d", c.Serve.Port)
	}
	return nil
}

// Save writes the config as TOML, creating parent directories.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// ProbeInterval returns the guest probe interval as a duration.
func (c *MonitorConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

// IdleTimeout returns the session idle timeout as a duration.
func (c *MonitorConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// PollInterval returns the pane capture interval as a duration.
func (c *MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}
