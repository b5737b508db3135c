// Package config loads the YAML configuration for the Smoothcomp calendar
// service, filling unset values with defaults so partial configs work.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API server.
	Listen string `yaml:"listen"`

	// Database is the path to the SQLite event cache.
	Database string `yaml:"database"`

	// TTLHours is the cache staleness threshold in hours. A refresh is
	// triggered when the last successful cycle is older than this.
	TTLHours int `yaml:"ttl_hours"`

	// RateLimit is the delay applied after each detail-page fetch,
	// as a Go duration string (e.g. "300ms").
	RateLimit string `yaml:"rate_limit"`

	// RefreshCron is a cron-style schedule for the periodic staleness
	// check in serve mode (e.g. "@every 15m").
	RefreshCron string `yaml:"refresh_cron"`

	// OutputDir is where the static-site generator writes its artifacts.
	OutputDir string `yaml:"output_dir"`

	// FeedTTLMinutes is the refresh-interval hint embedded in generated
	// calendars (REFRESH-INTERVAL / X-PUBLISHED-TTL).
	FeedTTLMinutes int `yaml:"feed_ttl_minutes"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:8000",
		Database:       DefaultDatabasePath(),
		TTLHours:       1,
		RateLimit:      "300ms",
		RefreshCron:    "@every 15m",
		OutputDir:      "static",
		FeedTTLMinutes: 360,
	}
}

// DefaultDatabasePath returns the XDG data-dir location of the event cache.
func DefaultDatabasePath() string {
	return filepath.Join(xdg.DataHome, "smoothcal", "events.db")
}

// DefaultConfigPath returns the XDG config-dir location of the config file.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "smoothcal", "config.yaml")
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Database == "" {
		c.Database = d.Database
	}
	if c.TTLHours <= 0 {
		c.TTLHours = d.TTLHours
	}
	if _, err := time.ParseDuration(c.RateLimit); err != nil {
		c.RateLimit = d.RateLimit
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.OutputDir == "" {
		c.OutputDir = d.OutputDir
	}
	if c.FeedTTLMinutes <= 0 {
		c.FeedTTLMinutes = d.FeedTTLMinutes
	}
}

// TTL returns the staleness threshold as a duration.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// RateLimitDuration returns the per-fetch delay. Normalize guarantees the
// stored string parses.
func (c *Config) RateLimitDuration() time.Duration {
	d, err := time.ParseDuration(c.RateLimit)
	if err != nil {
		return 300 * time.Millisecond
	}
	return d
}

// Load loads configuration from the given YAML path. A missing file is not
// an error: defaults are returned so first runs need no setup.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}
