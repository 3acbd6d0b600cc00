// Package config loads scheduler configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonesrussell/blog-scheduler/internal/database"
)

const (
	// DefaultReadTimeoutSeconds is the default read timeout in seconds
	DefaultReadTimeoutSeconds = 10
	// DefaultWriteTimeoutSeconds is the default write timeout in seconds
	DefaultWriteTimeoutSeconds = 30
	// DefaultShutdownTimeoutSeconds is the default shutdown timeout in seconds
	DefaultShutdownTimeoutSeconds = 30
)

type Config struct {
	Debug    bool            `yaml:"debug"` // Application debug mode (controls log level and format)
	Server   ServerConfig    `yaml:"server"`
	Postgres database.Config `yaml:"postgres"`
	Redis    RedisConfig     `yaml:"redis"`
	Platform PlatformConfig  `yaml:"platform"`
	Poller   PollerConfig    `yaml:"poller"`
	Publish  PublishConfig   `yaml:"publish"`
	Dedup    DedupConfig     `yaml:"dedup"`
}

type ServerConfig struct {
	Address      string        `yaml:"address"`      // e.g., ":8070"
	ReadTimeout  time.Duration `yaml:"read_timeout"` // Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PlatformConfig points at the external blog platform's admin API.
type PlatformConfig struct {
	URL         string        `yaml:"url"`
	AccessToken string        `yaml:"access_token"`
	Timeout     time.Duration `yaml:"timeout"` // Per-request timeout (default: 15s)
}

// PollerConfig tunes the publication polling loop.
type PollerConfig struct {
	Interval        time.Duration `yaml:"interval"`          // Tick interval (default: 30s)
	BatchSize       int           `yaml:"batch_size"`        // Posts claimed per tick (default: 50)
	Workers         int           `yaml:"workers"`           // Concurrent publishes per tick (default: 4)
	PastDueAfter    time.Duration `yaml:"past_due_after"`    // Grace period before flagging past_due (default: 10m)
	StaleClaimAfter time.Duration `yaml:"stale_claim_after"` // Age before a publishing claim is reclaimed (default: 5m)
}

// PublishConfig tunes retries against the platform API.
type PublishConfig struct {
	Timeout        time.Duration `yaml:"timeout"`         // Per-post publish timeout (default: 30s)
	MaxAttempts    int           `yaml:"max_attempts"`    // Attempts per transient failure (default: 3)
	InitialBackoff time.Duration `yaml:"initial_backoff"` // First retry delay (default: 1s)
	MaxBackoff     time.Duration `yaml:"max_backoff"`     // Backoff ceiling (default: 10s)
}

// DedupConfig tunes the duplicate guard's title window.
type DedupConfig struct {
	TitleWindow time.Duration `yaml:"title_window"` // How long a title blocks resubmission (default: 24h)
}

// Validate checks if the server configuration is valid and sets defaults.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		c.Address = ":8070"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeoutSeconds * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeoutSeconds * time.Second
	}
	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Postgres.Host == "" {
		return errors.New("postgres.host is required")
	}
	if c.Postgres.DBName == "" {
		return errors.New("postgres.dbname is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Platform.URL == "" {
		return errors.New("platform.url is required")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive, got %v", c.Poller.Interval)
	}
	if c.Publish.MaxAttempts <= 0 {
		return fmt.Errorf("publish.max_attempts must be positive, got %d", c.Publish.MaxAttempts)
	}
	return nil
}

// setDefaults sets default values for configuration fields
func setDefaults(cfg *Config) {
	if cfg.Postgres.Port == "" {
		cfg.Postgres.Port = "5432"
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Platform.Timeout == 0 {
		cfg.Platform.Timeout = 15 * time.Second
	}
	if cfg.Poller.Interval == 0 {
		cfg.Poller.Interval = 30 * time.Second
	}
	if cfg.Poller.BatchSize == 0 {
		cfg.Poller.BatchSize = 50
	}
	if cfg.Poller.Workers == 0 {
		cfg.Poller.Workers = 4
	}
	if cfg.Poller.PastDueAfter == 0 {
		cfg.Poller.PastDueAfter = 10 * time.Minute
	}
	if cfg.Poller.StaleClaimAfter == 0 {
		cfg.Poller.StaleClaimAfter = 5 * time.Minute
	}
	if cfg.Publish.Timeout == 0 {
		cfg.Publish.Timeout = 30 * time.Second
	}
	if cfg.Publish.MaxAttempts == 0 {
		cfg.Publish.MaxAttempts = 3
	}
	if cfg.Publish.InitialBackoff == 0 {
		cfg.Publish.InitialBackoff = time.Second
	}
	if cfg.Publish.MaxBackoff == 0 {
		cfg.Publish.MaxBackoff = 10 * time.Second
	}
	if cfg.Dedup.TitleWindow == 0 {
		cfg.Dedup.TitleWindow = 24 * time.Hour
	}
}

// overrideWithEnvVars overrides configuration with environment variables
func overrideWithEnvVars(cfg *Config) {
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		cfg.Postgres.Host = host
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		cfg.Postgres.Port = port
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		cfg.Postgres.User = user
	}
	if password := os.Getenv("POSTGRES_PASSWORD"); password != "" {
		cfg.Postgres.Password = password
	}
	if dbname := os.Getenv("POSTGRES_DB"); dbname != "" {
		cfg.Postgres.DBName = dbname
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}
	if platformURL := os.Getenv("PLATFORM_URL"); platformURL != "" {
		cfg.Platform.URL = platformURL
	}
	if token := os.Getenv("PLATFORM_TOKEN"); token != "" {
		cfg.Platform.AccessToken = token
	}
	if appDebug := os.Getenv("APP_DEBUG"); appDebug != "" {
		cfg.Debug = parseBool(appDebug)
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Server.Validate(); err != nil {
		return nil, fmt.Errorf("server config validation: %w", err)
	}

	if schedulerPort := os.Getenv("SCHEDULER_PORT"); schedulerPort != "" {
		cfg.Server.Address = ":" + schedulerPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// parseBool parses a string value as a boolean.
// Returns true for "true", "1", "yes" (case-insensitive), false otherwise.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
