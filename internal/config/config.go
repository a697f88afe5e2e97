// Package config loads and validates dashboard configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Download modes.
const (
	DownloadLocal = "local"
	DownloadProxy = "proxy"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Download DownloadConfig `mapstructure:"download"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DatabaseConfig locates the hosted catalog database. URL and Key are required.
type DatabaseConfig struct {
	URL         string `mapstructure:"url"`
	Key         string `mapstructure:"key"`
	Driver      string `mapstructure:"driver"`
	MaxConns    int    `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RealtimeConfig sizes the change hub and selects an optional Pub/Sub source.
type RealtimeConfig struct {
	BufferSize         int    `mapstructure:"buffer_size"`
	SubscriberBuffer   int    `mapstructure:"subscriber_buffer"`
	PubSubProject      string `mapstructure:"pubsub_project"`
	PubSubSubscription string `mapstructure:"pubsub_subscription"`
}

// BackendConfig points at the crawler backend.
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DownloadConfig controls the image bundle route.
type DownloadConfig struct {
	Mode           string  `mapstructure:"mode"`
	MaxParallel    int     `mapstructure:"max_parallel"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxImageBytes  int64   `mapstructure:"max_image_bytes"`
	UserAgent      string  `mapstructure:"user_agent"`
	PerHostRPS     float64 `mapstructure:"per_host_rps"`
	PerHostBurst   int     `mapstructure:"per_host_burst"`
}

// StorageConfig enables the non-HTTP image sources.
type StorageConfig struct {
	LocalDir   string `mapstructure:"local_dir"`
	GCSEnabled bool   `mapstructure:"gcs_enabled"`
	S3Enabled  bool   `mapstructure:"s3_enabled"`
}

// CacheConfig enables the Redis image cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr  string `mapstructure:"redis_addr"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// Load builds a Config from an optional file, a .env file in the working
// directory, and DASHBOARD_* environment variables.
func Load(path string) (Config, error) {
	return LoadWithEnvFile(path, ".env")
}

// LoadWithEnvFile is Load with an explicit dotenv file. A missing dotenv file
// is not an error; variables already set in the environment win.
func LoadWithEnvFile(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("DASHBOARD")
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

// Every key gets a default so AutomaticEnv can populate it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("logging.development", true)
	v.SetDefault("database.url", "")
	v.SetDefault("database.key", "")
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("realtime.buffer_size", 1024)
	v.SetDefault("realtime.subscriber_buffer", 64)
	v.SetDefault("realtime.pubsub_project", "")
	v.SetDefault("realtime.pubsub_subscription", "")
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout_seconds", 30)
	v.SetDefault("download.mode", DownloadLocal)
	v.SetDefault("download.max_parallel", 0)
	v.SetDefault("download.timeout_seconds", 20)
	v.SetDefault("download.max_image_bytes", 25<<20)
	v.SetDefault("download.user_agent", "image-crawl-dashboard/1.0")
	v.SetDefault("download.per_host_rps", 0.0)
	v.SetDefault("download.per_host_burst", 4)
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.gcs_enabled", false)
	v.SetDefault("storage.s3_enabled", false)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl_seconds", 3600)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url is required")
	}
	if strings.TrimSpace(c.Database.Key) == "" {
		return fmt.Errorf("database.key is required")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("database.driver must be %q or %q", DriverPostgres, DriverMemory)
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.Realtime.BufferSize <= 0 || c.Realtime.SubscriberBuffer <= 0 {
		return fmt.Errorf("realtime buffers must be > 0")
	}
	if (c.Realtime.PubSubProject == "") != (c.Realtime.PubSubSubscription == "") {
		return fmt.Errorf("realtime.pubsub_project and realtime.pubsub_subscription must be set together")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be > 0")
	}
	switch c.Download.Mode {
	case DownloadLocal:
	case DownloadProxy:
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("backend.base_url is required when download.mode is %q", DownloadProxy)
		}
	default:
		return fmt.Errorf("download.mode must be %q or %q", DownloadLocal, DownloadProxy)
	}
	if c.Download.MaxParallel < 0 {
		return fmt.Errorf("download.max_parallel must be >= 0")
	}
	if c.Download.PerHostRPS < 0 || c.Download.PerHostBurst < 0 {
		return fmt.Errorf("download per-host limits must be >= 0")
	}
	if c.Download.TimeoutSeconds <= 0 {
		return fmt.Errorf("download.timeout_seconds must be > 0")
	}
	if c.Cache.RedisAddr != "" && c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0 when cache.redis_addr is set")
	}
	return nil
}

// BackendTimeout returns the backend request timeout.
func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// FetchTimeout returns the per-image fetch timeout for bundles.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// CacheTTL returns the image cache TTL.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
