package config

import (
	"errors"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Recommend  RecommendConfig  `yaml:"recommend"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration. Driver is
// "postgres" or "sqlite"; only postgres supports change capture.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// BridgeConfig tunes the change notification bridge's polling fallback.
type BridgeConfig struct {
	PollIntervalSeconds int           `yaml:"poll_interval_seconds"`
	PollInterval        time.Duration `yaml:"-"` // Ignored by YAML parser
	PollPageSize        int           `yaml:"poll_page_size"`
}

// ReconcileConfig bounds the reconciliation engine.
type ReconcileConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
}

// RecommendConfig configures the recommendation deriver. Capacity is the
// static total cell count used as the occupancy denominator; it is not
// derived from live inventory.
type RecommendConfig struct {
	Capacity         int     `yaml:"capacity"`
	ThresholdPercent float64 `yaml:"threshold_percent"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	// An empty file is a valid configuration: everything defaulted.
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Bridge.PollIntervalSeconds <= 0 {
		cfg.Bridge.PollIntervalSeconds = 5
	}
	cfg.Bridge.PollInterval = time.Duration(cfg.Bridge.PollIntervalSeconds) * time.Second
	if cfg.Bridge.PollPageSize <= 0 {
		cfg.Bridge.PollPageSize = 50
	}

	if cfg.Reconcile.MaxBatchSize <= 0 {
		cfg.Reconcile.MaxBatchSize = 500
	}

	if cfg.Recommend.Capacity <= 0 {
		cfg.Recommend.Capacity = 120
	}
	if cfg.Recommend.ThresholdPercent <= 0 {
		cfg.Recommend.ThresholdPercent = 80
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
