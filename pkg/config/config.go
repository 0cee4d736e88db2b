package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file and environment variables.
// A .env file next to the config file (or in the working directory) is
// loaded first; variables already set in the environment take precedence.
func Load(path string) (*Config, error) {
	// Validate and sanitize path
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(absPath), ".env"), ".env"); err != nil {
		return nil, err
	}

	// Read config file
	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in YAML
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// loadDotEnv loads the first existing file. Missing files are not an error.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		err := godotenv.Load(p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = ":8080"
	}
	if cfg.Server.WebSocket.Path == "" {
		cfg.Server.WebSocket.Path = "/ws"
	}
	if cfg.Server.RateLimit.Enabled {
		if cfg.Server.RateLimit.RPS == 0 {
			cfg.Server.RateLimit.RPS = 10
		}
		if cfg.Server.RateLimit.Burst == 0 {
			cfg.Server.RateLimit.Burst = 20
		}
	}

	// Watch defaults
	if cfg.Watch.Interval.ToDuration() == 0 {
		cfg.Watch.Interval = Duration(30 * time.Second)
	}

	// Journal defaults
	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		cfg.Journal.Path = "feedguard.db"
	}

	// Metrics defaults
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// AdminToken returns the configured admin bearer token, reading TokenEnv when set.
func (c *AdminConfig) AdminToken() string {
	if c.TokenEnv != "" {
		return os.Getenv(c.TokenEnv)
	}
	return c.Token
}

// Feed returns the feed configuration with the given name.
func (c *Config) Feed(name string) (*FeedConfig, bool) {
	for i := range c.Feeds {
		if c.Feeds[i].Name == name {
			return &c.Feeds[i], true
		}
	}
	return nil, false
}
