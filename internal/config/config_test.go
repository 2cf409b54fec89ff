package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NIGHTLIGHT_EARTH_ENGINE_BASE_URL", "https://imagery.example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 300, cfg.Scheduler.IntervalSeconds)
	require.Equal(t, 4, cfg.Scheduler.Concurrency)
	require.Equal(t, 900, cfg.Scheduler.JobTimeoutSeconds)
	require.Equal(t, 10, cfg.Scheduler.BatchLimit)
	require.InDelta(t, 1.0, cfg.Processing.LitThreshold, 1e-9)
	require.Equal(t, 8, cfg.Processing.MinZoom)
	require.Equal(t, 14, cfg.Processing.MaxZoom)
	require.Equal(t, "memory", cfg.Storage.Provider)
	require.Equal(t, "NOAA/VIIRS/DNB/MONTHLY_V1/VCMSLCFG", cfg.EarthEngine.Collection)
	require.Equal(t, "avg_rad", cfg.EarthEngine.Band)
	require.Equal(t, 500, cfg.EarthEngine.ScaleMeters)
	require.Equal(t, "https://imagery.example.com", cfg.EarthEngine.BaseURL)

	require.Equal(t, 5*time.Minute, cfg.PollInterval())
	require.Equal(t, 15*time.Minute, cfg.JobTimeout())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NIGHTLIGHT_EARTH_ENGINE_BASE_URL", "https://imagery.example.com")
	t.Setenv("NIGHTLIGHT_SCHEDULER_CONCURRENCY", "8")
	t.Setenv("NIGHTLIGHT_STORAGE_PROVIDER", "local")
	t.Setenv("NIGHTLIGHT_STORAGE_LOCAL_BASE_DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Scheduler.Concurrency)
	require.Equal(t, "local", cfg.Storage.Provider)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  port: 9090
scheduler:
  interval_seconds: 60
earth_engine:
  base_url: https://imagery.example.com
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 60, cfg.Scheduler.IntervalSeconds)
	require.Equal(t, time.Minute, cfg.PollInterval())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("NIGHTLIGHT_EARTH_ENGINE_BASE_URL", "https://imagery.example.com")
	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero interval", func(c *Config) { c.Scheduler.IntervalSeconds = 0 }},
		{"zero concurrency", func(c *Config) { c.Scheduler.Concurrency = 0 }},
		{"zero job timeout", func(c *Config) { c.Scheduler.JobTimeoutSeconds = 0 }},
		{"inverted zoom", func(c *Config) { c.Processing.MinZoom = 12; c.Processing.MaxZoom = 8 }},
		{"unknown provider", func(c *Config) { c.Storage.Provider = "s3" }},
		{"local without base dir", func(c *Config) { c.Storage.Provider = "local"; c.Storage.LocalBaseDir = "" }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
		{"missing imagery url", func(c *Config) { c.EarthEngine.BaseURL = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
