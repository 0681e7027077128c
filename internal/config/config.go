// Package config loads server configuration from an optional YAML file
// with environment overrides. Environment always wins so deployments
// can ship one file and tweak per instance.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db"`
	// APIKey guards mutating routes via X-API-Key or ?key=. Empty
	// disables auth; fine for local authoring, not for a live overlay.
	APIKey string `yaml:"apiKey"`
	// IngestKey guards the chat ingest route. Falls back to APIKey
	// when empty.
	IngestKey string `yaml:"ingestKey"`
	// SweepInterval is how often timed votes are checked for expiry.
	SweepInterval time.Duration `yaml:"sweepInterval"`
	// VoteCooldown is the minimum gap between chat ballots from one
	// voter. Zero disables throttling.
	VoteCooldown time.Duration `yaml:"voteCooldown"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
	// CORSOrigins lists allowed browser origins for the overlay.
	CORSOrigins []string `yaml:"corsOrigins"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Addr:          ":8080",
		DBPath:        "weave.db",
		SweepInterval: 2 * time.Second,
		VoteCooldown:  2 * time.Second,
		LogLevel:      "info",
		CORSOrigins:   []string{"*"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// if non-empty, then WEAVE_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("WEAVE_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("WEAVE_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("WEAVE_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("WEAVE_INGEST_KEY"); v != "" {
		c.IngestKey = v
	}
	if v := os.Getenv("WEAVE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("WEAVE_CORS_ORIGINS"); v != "" {
		origins := []string{}
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORSOrigins = origins
	}
	if v := os.Getenv("WEAVE_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WEAVE_SWEEP_INTERVAL: %w", err)
		}
		c.SweepInterval = d
	}
	if v := os.Getenv("WEAVE_VOTE_COOLDOWN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WEAVE_VOTE_COOLDOWN: %w", err)
		}
		c.VoteCooldown = d
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db must not be empty")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: sweepInterval must be positive, got %s", c.SweepInterval)
	}
	if c.VoteCooldown < 0 {
		return fmt.Errorf("config: voteCooldown must not be negative, got %s", c.VoteCooldown)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ResolvedIngestKey is the key the ingest route checks: IngestKey, or
// APIKey when no dedicated key is set.
func (c *Config) ResolvedIngestKey() string {
	if c.IngestKey != "" {
		return c.IngestKey
	}
	return c.APIKey
}

// SlogLevel parses LogLevel into a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
}
