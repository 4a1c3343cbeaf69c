// Package config loads daemon configuration from a YAML file, environment
// variables, and defaults, in that order of increasing precedence for the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full daemon configuration.
type Config struct {
	// Database is the SQLite file path.
	Database string `mapstructure:"database"`
	// SourceDir holds the JSONL task transcripts to ingest. Empty
	// disables source ingestion.
	SourceDir string `mapstructure:"source_dir"`
	// ProjectPath tags ingested tasks with their project.
	ProjectPath string `mapstructure:"project_path"`

	Remote RemoteConfig `mapstructure:"remote"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

// RemoteConfig points at the issue tracker.
type RemoteConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	Repo              string  `mapstructure:"repo"`
	Token             string  `mapstructure:"token"`
	Label             string  `mapstructure:"label"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	HourlyBudget      int     `mapstructure:"hourly_budget"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	PageSize        int           `mapstructure:"page_size"`
	BatchSize       int           `mapstructure:"batch_size"`
	ConcurrentLimit int           `mapstructure:"concurrent_limit"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CacheCapacity   int           `mapstructure:"cache_capacity"`
	DrainBatch      int           `mapstructure:"drain_batch"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// ServerConfig tunes the HTTP front door.
type ServerConfig struct {
	Listen        string `mapstructure:"listen"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// LogConfig tunes file logging. An empty File logs to stderr only.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration. path may be empty, in which case only the
// search path, environment, and defaults apply. Environment variables use
// the TASKSYNC_ prefix with underscores, e.g. TASKSYNC_REMOTE_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("database", "tasksync.db")
	v.SetDefault("remote.base_url", "https://api.github.com")
	v.SetDefault("remote.label", "tasksync")
	v.SetDefault("remote.requests_per_second", 2.0)
	v.SetDefault("remote.hourly_budget", 5000)
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.concurrent_limit", 10)
	v.SetDefault("sync.cache_ttl", 5*time.Minute)
	v.SetDefault("sync.cache_capacity", 1000)
	v.SetDefault("sync.drain_batch", 10)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("server.listen", "127.0.0.1:8377")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetEnvPrefix("TASKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("tasksync")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/tasksync")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Remote.Repo == "" {
		return fmt.Errorf("remote.repo is required (owner/name)")
	}
	if !strings.Contains(c.Remote.Repo, "/") {
		return fmt.Errorf("remote.repo must be owner/name, got %q", c.Remote.Repo)
	}
	if c.Remote.Label == "" {
		return fmt.Errorf("remote.label is required")
	}
	return nil
}
