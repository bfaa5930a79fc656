// Package config provides configuration loading and validation for the
// source registry server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultAddress is the listen address used when none is configured
	DefaultAddress = ":8080"

	// DefaultDatabasePath is the sqlite database location used when none is configured
	DefaultDatabasePath = "sourcereg.db"

	// DefaultJobTimeout bounds a single sync job when none is configured
	DefaultJobTimeout = 15 * time.Minute
)

// Config represents the root configuration structure
type Config struct {
	// Address is the HTTP listen address
	Address string `yaml:"address,omitempty"`

	// AuthToken is the bearer token required on API requests.
	// Empty disables authentication; intended for local development only.
	AuthToken string `yaml:"authToken,omitempty"`

	// Database holds persistence settings
	Database DatabaseConfig `yaml:"database,omitempty"`

	// Queue holds sync queue settings
	Queue QueueConfig `yaml:"queue,omitempty"`
}

// DatabaseConfig defines persistence settings
type DatabaseConfig struct {
	// Path is the sqlite database file; ":memory:" keeps it ephemeral
	Path string `yaml:"path,omitempty"`
}

// QueueConfig defines sync queue settings
type QueueConfig struct {
	// JobTimeout is the maximum duration of a single sync job,
	// in time.ParseDuration syntax
	JobTimeout string `yaml:"jobTimeout,omitempty"`
}

// JobTimeoutDuration returns the parsed job timeout, falling back to
// the default for empty or invalid values.
func (q *QueueConfig) JobTimeoutDuration() time.Duration {
	if q.JobTimeout == "" {
		return DefaultJobTimeout
	}
	d, err := time.ParseDuration(q.JobTimeout)
	if err != nil || d <= 0 {
		return DefaultJobTimeout
	}
	return d
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	return &Config{
		Address:  DefaultAddress,
		Database: DatabaseConfig{Path: DefaultDatabasePath},
	}
}

// Load reads the YAML configuration at path and applies defaults.
// An empty path yields the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	// Resolve symlinks to prevent symlink tricks; this also cleans the path.
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate symlinks: %w", err)
	}

	data, err := os.ReadFile(realPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Queue.JobTimeout != "" {
		if _, err := time.ParseDuration(c.Queue.JobTimeout); err != nil {
			return fmt.Errorf("invalid queue.jobTimeout: %w", err)
		}
	}
	return nil
}
