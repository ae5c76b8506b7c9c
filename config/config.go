package config

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stratahq/strata/drift"
	"github.com/stratahq/strata/forecast"
	"github.com/stratahq/strata/store"
	"github.com/stratahq/strata/tracker"
	"github.com/stratahq/strata/warmer"
)

// Config is the complete Strata configuration.
type Config struct {
	// BaseDir is the root data directory. Component directories that
	// are left empty are derived from it.
	BaseDir string `yaml:"base_dir"`

	Log      LogConfig       `yaml:"log"`
	Redis    RedisConfig     `yaml:"redis"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Session  SessionConfig   `yaml:"session"`
	Tracker  tracker.Config  `yaml:"tracker"`
	Store    store.Config    `yaml:"store"`
	Warmer   warmer.Config   `yaml:"warmer"`
	Forecast forecast.Config `yaml:"forecast"`
	Drift    drift.Config    `yaml:"drift"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// RedisConfig configures the optional Redis fragment cache. When
// disabled the warmer falls back to the in-memory cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

// SessionConfig configures the session manager's background cadence.
// Schedules are cron expressions.
type SessionConfig struct {
	MigrationSchedule string `yaml:"migration_schedule"`
	WarmSchedule      string `yaml:"warm_schedule"`
	DefaultAgentID    string `yaml:"default_agent_id"`
}

// DefaultConfig returns the configuration used when no file or
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		BaseDir: ".strata",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Metrics: MetricsConfig{
			Listen:    ":9190",
			Namespace: "strata",
		},
		Session: SessionConfig{
			MigrationSchedule: "@hourly",
			WarmSchedule:      "@every 15m",
		},
		Tracker:  tracker.DefaultConfig(),
		Store:    store.DefaultConfig(),
		Warmer:   warmer.DefaultConfig(),
		Forecast: forecast.DefaultConfig(),
		Drift:    drift.DefaultConfig(),
	}
}

// Normalize fills derived values, in particular the per-component
// data directories under BaseDir.
func (c *Config) Normalize() {
	if c.Tracker.BaseDir == "" {
		c.Tracker.BaseDir = filepath.Join(c.BaseDir, "tracker")
	}
	if c.Store.BaseDir == "" {
		c.Store.BaseDir = filepath.Join(c.BaseDir, "store")
	}
}

// ForecastDBPath is the training database location under BaseDir.
func (c *Config) ForecastDBPath() string {
	return filepath.Join(c.BaseDir, "forecast", "training.db")
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics is enabled")
	}
	return nil
}

// BuildLogger constructs a zap logger from the log configuration.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var zcfg zap.Config
	if c.Log.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
