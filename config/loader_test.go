package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	require.Equal(t, ".strata", cfg.BaseDir)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, filepath.Join(".strata", "tracker"), cfg.Tracker.BaseDir)
	require.Equal(t, filepath.Join(".strata", "store"), cfg.Store.BaseDir)
	require.Equal(t, filepath.Join(".strata", "forecast", "training.db"), cfg.ForecastDBPath())
	require.Equal(t, 7*24*time.Hour, cfg.Store.HotMaxAge)
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_dir: /var/lib/strata
log:
  level: debug
  format: console
store:
  hot_max_age: 48h
  eviction_tie_break: created_at
redis:
  enabled: true
  addr: cache.internal:6379
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	require.Equal(t, "/var/lib/strata", cfg.BaseDir)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 48*time.Hour, cfg.Store.HotMaxAge)
	require.Equal(t, "created_at", string(cfg.Store.EvictionTieBreak))
	require.True(t, cfg.Redis.Enabled)
	require.Equal(t, "cache.internal:6379", cfg.Redis.Addr)
	require.Equal(t, filepath.Join("/var/lib/strata", "store"), cfg.Store.BaseDir)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	require.Equal(t, ".strata", cfg.BaseDir)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))

	t.Setenv("STRATA_LOG_LEVEL", "error")
	t.Setenv("STRATA_STORE_HOT_MAX_AGE", "12h")
	t.Setenv("STRATA_METRICS_ENABLED", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	require.Equal(t, "error", cfg.Log.Level)
	require.Equal(t, 12*time.Hour, cfg.Store.HotMaxAge)
	require.True(t, cfg.Metrics.Enabled)
}

func TestValidateRejectsBadLevel(t *testing.T) {
	t.Setenv("STRATA_LOG_LEVEL", "loud")

	_, err := NewLoader().Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid log level")
}

func TestCustomValidator(t *testing.T) {
	t.Parallel()

	_, err := NewLoader().WithValidator(func(c *Config) error {
		if !c.Metrics.Enabled {
			return os.ErrInvalid
		}
		return nil
	}).Load()
	require.Error(t, err)
}

func TestBuildLogger(t *testing.T) {
	t.Parallel()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	logger, err := cfg.BuildLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)
}
