package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/StrathCole/feedguard/pkg/policy"
)

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Watch   WatchConfig   `yaml:"watch"`
	Journal JournalConfig `yaml:"journal"`
	Feeds   []FeedConfig  `yaml:"feeds"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the API server
type ServerConfig struct {
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WSConfig        `yaml:"websocket"`
	Admin     AdminConfig     `yaml:"admin"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Addr string    `yaml:"addr"`
	TLS  TLSConfig `yaml:"tls"`
}

// WSConfig configures the WebSocket endpoint
type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TLSConfig holds TLS certificate configuration
type TLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// AdminConfig configures the administrative endpoints.
// Admin endpoints are disabled when no token is configured.
type AdminConfig struct {
	Token    string `yaml:"token"`     // Bearer token (or use TokenEnv)
	TokenEnv string `yaml:"token_env"` // Environment variable holding the token
}

// RateLimitConfig configures per-client request rate limiting
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// WatchConfig configures the periodic feed watcher
type WatchConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
}

// JournalConfig configures the configuration change journal
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// FeedConfig configures one named price pair
type FeedConfig struct {
	Name            string        `yaml:"name"`
	Heartbeat       uint64        `yaml:"heartbeat"`         // seconds, 60..86400
	MaxDeviationBps uint64        `yaml:"max_deviation_bps"` // 0..5000
	Primary         SourceConfig  `yaml:"primary"`
	Fallback        *SourceConfig `yaml:"fallback"`
}

// Params returns the policy parameters of the feed.
func (fc *FeedConfig) Params() policy.Params {
	return policy.Params{
		HeartbeatSeconds: fc.Heartbeat,
		MaxDeviationBps:  fc.MaxDeviationBps,
	}
}

// SourceConfig configures a price source
type SourceConfig struct {
	Type   string                 `yaml:"type" json:"type"`
	Config map[string]interface{} `yaml:"config" json:"config"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
