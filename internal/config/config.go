// Package config loads the indexsync configuration.
//
// Values come from, in increasing precedence: built-in defaults, the YAML
// file, and INDEXSYNC_* environment variables (optionally seeded from a
// .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/indexsync/internal/metadata"
)

// DefaultPath is used when neither a flag nor INDEXSYNC_CONFIG names a file.
const DefaultPath = "indexsync.yaml"

// Lock providers.
const (
	LockMemory = "memory"
	LockSQLite = "sqlite"
)

// Config is the effective configuration.
type Config struct {
	Database string        `yaml:"database"`
	IndexDir string        `yaml:"index_dir"`
	Lock     LockConfig    `yaml:"lock"`
	Sessions SessionConfig `yaml:"sessions"`
	Queue    QueueConfig   `yaml:"queue"`
	Metrics  MetricsConfig `yaml:"metrics"`

	Entities []metadata.EntityType `yaml:"entities"`
}

type LockConfig struct {
	// Provider is "sqlite" (lease rows shared by every process using the
	// database) or "memory". A memory lock only excludes callers inside one
	// process, so it is safe only when no other indexsync process (admin
	// commands included) opens the same database.
	Provider string        `yaml:"provider"`
	Timeout  time.Duration `yaml:"timeout"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

type SessionConfig struct {
	PageSize int    `yaml:"page_size"`
	Cron     string `yaml:"cron"`
}

type QueueConfig struct {
	BatchSize int    `yaml:"batch_size"`
	Cron      string `yaml:"cron"`

	// RateLimit caps drained batches per second within one tick; 0 disables.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`

	// RetryBackoff is the first delay before entries whose index write
	// failed are retried. It doubles per failed attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint; empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Database: "indexsync.db",
		IndexDir: "index",
		Lock: LockConfig{
			Provider: LockSQLite,
			Timeout:  10 * time.Second,
			LeaseTTL: time.Minute,
		},
		Sessions: SessionConfig{PageSize: 1000, Cron: "* * * * *"},
		Queue:    QueueConfig{BatchSize: 500, Cron: "* * * * *", Burst: 1, RetryBackoff: 30 * time.Second},
	}
}

// ResolvePath returns the config file path, preferring the flag, then
// INDEXSYNC_CONFIG, then DefaultPath.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("INDEXSYNC_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// LoadEnvFile loads variables from a .env file without overriding variables
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. A missing file at the default path yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, applies overrides from lookup and
// validates the result.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
	}
	if lookup != nil {
		if err := cfg.applyEnv(lookup); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
		return nil
	}

	str("INDEXSYNC_DATABASE", &c.Database)
	str("INDEXSYNC_INDEX_DIR", &c.IndexDir)
	str("INDEXSYNC_LOCK_PROVIDER", &c.Lock.Provider)
	str("INDEXSYNC_SESSION_CRON", &c.Sessions.Cron)
	str("INDEXSYNC_QUEUE_CRON", &c.Queue.Cron)
	str("INDEXSYNC_METRICS_LISTEN", &c.Metrics.Listen)

	if err := dur("INDEXSYNC_LOCK_TIMEOUT", &c.Lock.Timeout); err != nil {
		return err
	}
	if err := dur("INDEXSYNC_LEASE_TTL", &c.Lock.LeaseTTL); err != nil {
		return err
	}
	if err := dur("INDEXSYNC_RETRY_BACKOFF", &c.Queue.RetryBackoff); err != nil {
		return err
	}
	if err := num("INDEXSYNC_SESSION_PAGE_SIZE", &c.Sessions.PageSize); err != nil {
		return err
	}
	if err := num("INDEXSYNC_BATCH_SIZE", &c.Queue.BatchSize); err != nil {
		return err
	}
	if v, ok := lookup("INDEXSYNC_DRAIN_RATE"); ok && v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("INDEXSYNC_DRAIN_RATE: %w", err)
		}
		c.Queue.RateLimit = r
	}
	return nil
}

// Validate checks the configuration, including the entity type registry.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.IndexDir == "" {
		return fmt.Errorf("index_dir is required")
	}
	switch c.Lock.Provider {
	case LockMemory, LockSQLite:
	default:
		return fmt.Errorf("lock.provider: unknown provider %q", c.Lock.Provider)
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock.timeout must be positive")
	}
	if c.Lock.LeaseTTL <= 0 {
		return fmt.Errorf("lock.lease_ttl must be positive")
	}
	if c.Sessions.PageSize <= 0 {
		return fmt.Errorf("sessions.page_size must be positive")
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be positive")
	}
	if c.Queue.RateLimit < 0 {
		return fmt.Errorf("queue.rate_limit must not be negative")
	}
	if c.Queue.Burst <= 0 {
		return fmt.Errorf("queue.burst must be positive")
	}
	if c.Queue.RetryBackoff <= 0 {
		return fmt.Errorf("queue.retry_backoff must be positive")
	}

	gron := gronx.New()
	if !gron.IsValid(c.Sessions.Cron) {
		return fmt.Errorf("sessions.cron: invalid cron expression %q", c.Sessions.Cron)
	}
	if !gron.IsValid(c.Queue.Cron) {
		return fmt.Errorf("queue.cron: invalid cron expression %q", c.Queue.Cron)
	}

	if _, err := c.Registry(); err != nil {
		return fmt.Errorf("entities: %w", err)
	}
	return nil
}

// Registry builds the entity type registry.
func (c *Config) Registry() (*metadata.Registry, error) {
	return metadata.NewRegistry(c.Entities...)
}
