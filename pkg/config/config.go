package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultSQLitePath is the default SQLite database location.
	DefaultSQLitePath = "data/pulse.db"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultLookbackWeeks is how far back a standard run fetches reviews.
	DefaultLookbackWeeks = 12

	// DefaultSchedulerInterval is how often the scheduler wakes up.
	DefaultSchedulerInterval = time.Hour

	// DefaultStaleRunTimeout is how long a run may sit in a non-terminal
	// state before the reconciler marks it failed.
	DefaultStaleRunTimeout = 6 * time.Hour
)

// Config is the root configuration for reviewpulse.
type Config struct {
	Global    GlobalConfig    `yaml:"global"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Export    *ExportConfig   `yaml:"export,omitempty"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty"`

	// AdminTokenHash is the bcrypt hash of the bearer token required by
	// destructive admin endpoints. Empty disables those endpoints.
	AdminTokenHash string `yaml:"admin_token_hash,omitempty"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty"`
}

// PipelineConfig contains pipeline run settings.
type PipelineConfig struct {
	// Platforms lists the source platform tags to fetch, e.g. ios, android.
	Platforms []string `yaml:"platforms"`

	// LookbackWeeks is the size of the window a standard run covers.
	LookbackWeeks int `yaml:"lookback_weeks,omitempty"`

	// ScrapeRequestsPerMinute throttles outbound scraper calls.
	ScrapeRequestsPerMinute int `yaml:"scrape_requests_per_minute,omitempty"`

	// Feeds maps a platform tag to the review feed endpoint the scraper
	// adapter fetches from. Platforms without a feed cannot be scraped.
	Feeds map[string]string `yaml:"feeds,omitempty"`
}

// SchedulerConfig contains background scheduler settings.
type SchedulerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Interval        string `yaml:"interval,omitempty"`
	StaleRunTimeout string `yaml:"stale_run_timeout,omitempty"`
}

// ExportConfig contains review archive export settings.
type ExportConfig struct {
	S3    *S3ExportConfig `yaml:"s3,omitempty"`
	Local string          `yaml:"local,omitempty"`
}

// S3ExportConfig contains S3 settings for archive uploads.
type S3ExportConfig struct {
	EndpointURL     string `yaml:"endpoint_url,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Default returns a configuration with defaults applied and a SQLite
// database, used when no config file is supplied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = 120
	}

	if len(c.Pipeline.Platforms) == 0 {
		c.Pipeline.Platforms = []string{"ios", "android"}
	}

	if c.Pipeline.LookbackWeeks == 0 {
		c.Pipeline.LookbackWeeks = DefaultLookbackWeeks
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres host and database are required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	for i, p := range c.Pipeline.Platforms {
		if p == "" {
			return fmt.Errorf("pipeline.platforms[%d]: platform tag is empty", i)
		}
	}

	if c.Pipeline.LookbackWeeks < 1 {
		return fmt.Errorf("pipeline.lookback_weeks must be at least 1")
	}

	if _, err := c.SchedulerInterval(); err != nil {
		return err
	}

	if _, err := c.StaleRunTimeout(); err != nil {
		return err
	}

	return nil
}

// SchedulerInterval parses the scheduler interval with its default.
func (c *Config) SchedulerInterval() (time.Duration, error) {
	if c.Scheduler.Interval == "" {
		return DefaultSchedulerInterval, nil
	}

	d, err := time.ParseDuration(c.Scheduler.Interval)
	if err != nil {
		return 0, fmt.Errorf("parsing scheduler.interval: %w", err)
	}

	return d, nil
}

// StaleRunTimeout parses the stale-run timeout with its default.
func (c *Config) StaleRunTimeout() (time.Duration, error) {
	if c.Scheduler.StaleRunTimeout == "" {
		return DefaultStaleRunTimeout, nil
	}

	d, err := time.ParseDuration(c.Scheduler.StaleRunTimeout)
	if err != nil {
		return 0, fmt.Errorf("parsing scheduler.stale_run_timeout: %w", err)
	}

	return d, nil
}
