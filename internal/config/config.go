// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Processing  ProcessingConfig  `mapstructure:"processing"`
	Storage     StorageConfig     `mapstructure:"storage"`
	DB          DBConfig          `mapstructure:"db"`
	EarthEngine EarthEngineConfig `mapstructure:"earth_engine"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig governs the poll loop and worker pool.
type SchedulerConfig struct {
	IntervalSeconds   int `mapstructure:"interval_seconds"`
	Concurrency       int `mapstructure:"concurrency"`
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
	BatchLimit        int `mapstructure:"batch_limit"`
}

// ProcessingConfig holds raster processing knobs.
type ProcessingConfig struct {
	LitThreshold float64 `mapstructure:"lit_threshold"`
	MinZoom      int     `mapstructure:"min_zoom"`
	MaxZoom      int     `mapstructure:"max_zoom"`
	TmpDir       string  `mapstructure:"tmp_dir"`
}

// StorageConfig selects and parameterizes the blob store gateway.
type StorageConfig struct {
	Provider      string `mapstructure:"provider"`
	ProjectID     string `mapstructure:"project_id"`
	RastersBucket string `mapstructure:"rasters_bucket"`
	TilesBucket   string `mapstructure:"tiles_bucket"`
	LocalBaseDir  string `mapstructure:"local_base_dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// EarthEngineConfig parameterizes the imagery provider client.
type EarthEngineConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	Collection       string `mapstructure:"collection"`
	Band             string `mapstructure:"band"`
	ScaleMeters      int    `mapstructure:"scale_meters"`
	CredentialsFile  string `mapstructure:"credentials_file"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// PubSubConfig holds metadata for job lifecycle event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NIGHTLIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key gets a default so environment overrides survive Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("scheduler.interval_seconds", 300)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.job_timeout_seconds", 900)
	v.SetDefault("scheduler.batch_limit", 10)
	v.SetDefault("processing.lit_threshold", 1.0)
	v.SetDefault("processing.min_zoom", 8)
	v.SetDefault("processing.max_zoom", 14)
	v.SetDefault("processing.tmp_dir", "")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.project_id", "")
	v.SetDefault("storage.rasters_bucket", "rasters")
	v.SetDefault("storage.tiles_bucket", "tiles")
	v.SetDefault("storage.local_base_dir", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 0)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("earth_engine.base_url", "")
	v.SetDefault("earth_engine.credentials_file", "")
	v.SetDefault("earth_engine.collection", "NOAA/VIIRS/DNB/MONTHLY_V1/VCMSLCFG")
	v.SetDefault("earth_engine.band", "avg_rad")
	v.SetDefault("earth_engine.scale_meters", 500)
	v.SetDefault("earth_engine.timeout_seconds", 120)
	v.SetDefault("earth_engine.max_retries", 3)
	v.SetDefault("earth_engine.backoff_initial_ms", 500)
	v.SetDefault("earth_engine.backoff_max_ms", 8000)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "nightlight-job-events")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.interval_seconds must be > 0")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if c.Scheduler.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("scheduler.job_timeout_seconds must be > 0")
	}
	if c.Processing.MinZoom < 0 || c.Processing.MaxZoom < c.Processing.MinZoom {
		return fmt.Errorf("processing zoom range %d-%d is invalid", c.Processing.MinZoom, c.Processing.MaxZoom)
	}
	if c.Storage.Provider == "local" && c.Storage.LocalBaseDir == "" {
		return fmt.Errorf("storage.local_base_dir must be set when storage.provider is 'local'")
	}
	switch c.Storage.Provider {
	case "gcs", "local", "memory":
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.EarthEngine.BaseURL == "" {
		return fmt.Errorf("earth_engine.base_url is required")
	}
	return nil
}

// PollInterval converts the configured cycle interval into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// JobTimeout converts the per-job budget into a duration.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Scheduler.JobTimeoutSeconds) * time.Second
}
