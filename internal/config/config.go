// Package config loads tool-level settings from STACKRUN_* environment
// variables. Stack files are handled elsewhere; this covers the knobs
// of the tool itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Config holds tool-level configuration.
type Config struct {
	// Runtime selects the replica backend: "docker" or "process".
	Runtime string `envconfig:"RUNTIME" default:"docker"`

	// DockerBin is the docker CLI binary to shell out to.
	DockerBin string `envconfig:"DOCKER_BIN" default:"docker"`

	// StatePath is the sqlite state database. Empty selects
	// ~/.stackrun/state.db.
	StatePath string `envconfig:"STATE_PATH"`

	// LogLevel is a logrus level name.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// LogFormat is "text" or "json".
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	Retention RetentionConfig `envconfig:"EVENT"`
}

// RetentionConfig bounds the growth of the stack event log.
type RetentionConfig struct {
	// RetentionDays is how long events are kept. Range: 1-365.
	RetentionDays int `envconfig:"RETENTION_DAYS" default:"30"`

	// PerProjectLimit caps stored events per project, 0 for unlimited.
	PerProjectLimit int `envconfig:"PER_PROJECT_LIMIT" default:"10000"`

	// BatchSize is the number of events deleted per transaction.
	// Larger batches finish faster but hold locks longer. Range:
	// 100-10000.
	BatchSize int `envconfig:"CLEANUP_BATCH_SIZE" default:"1000"`

	// Enabled controls whether up runs cleanup on startup.
	Enabled bool `envconfig:"CLEANUP_ENABLED" default:"true"`
}

// Load reads configuration from the environment, applying defaults for
// unset variables, and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("STACKRUN", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}
	if cfg.StatePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		cfg.StatePath = filepath.Join(home, ".stackrun", "state.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.Runtime != "docker" && c.Runtime != "process" {
		return fmt.Errorf("runtime must be 'docker' or 'process' (got %q)", c.Runtime)
	}
	if c.DockerBin == "" {
		return fmt.Errorf("docker binary cannot be empty")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log format must be 'text' or 'json' (got %q)", c.LogFormat)
	}
	return c.Retention.Validate()
}

// Validate checks the retention values.
func (r *RetentionConfig) Validate() error {
	if r.RetentionDays < 1 || r.RetentionDays > 365 {
		return fmt.Errorf("retention days must be between 1 and 365 (got %d)", r.RetentionDays)
	}
	if r.PerProjectLimit < 0 {
		return fmt.Errorf("per-project event limit cannot be negative (got %d)", r.PerProjectLimit)
	}
	if r.BatchSize < 100 || r.BatchSize > 10000 {
		return fmt.Errorf("cleanup batch size must be between 100 and 10000 (got %d)", r.BatchSize)
	}
	return nil
}

// NewLogger builds a logrus logger from the configured level and
// format.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Runtime: %s, DockerBin: %s, StatePath: %s, LogLevel: %s, "+
		"RetentionDays: %d, PerProjectLimit: %d}",
		c.Runtime, c.DockerBin, c.StatePath, c.LogLevel,
		c.Retention.RetentionDays, c.Retention.PerProjectLimit)
}
