package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	if err := validateServerConfig(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if cfg.Watch.Enabled && cfg.Watch.Interval.ToDuration() < time.Second {
		return fmt.Errorf("%w: %s", ErrInvalidWatchInterval, cfg.Watch.Interval.ToDuration())
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return fmt.Errorf("%w", ErrJournalPathRequired)
	}

	if len(cfg.Feeds) == 0 {
		return fmt.Errorf("%w", ErrNoFeedsConfigured)
	}
	seen := make(map[string]struct{}, len(cfg.Feeds))
	for i := range cfg.Feeds {
		feed := &cfg.Feeds[i]
		if err := validateFeedConfig(feed); err != nil {
			return fmt.Errorf("feed %d (%s): %w", i, feed.Name, err)
		}
		if _, ok := seen[feed.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateFeed, feed.Name)
		}
		seen[feed.Name] = struct{}{}
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func validateServerConfig(cfg *ServerConfig) error {
	// Validate TLS config
	if cfg.HTTP.TLS.Enabled {
		if cfg.HTTP.TLS.Cert == "" || cfg.HTTP.TLS.Key == "" {
			return fmt.Errorf("%w", ErrTLSConfigIncomplete)
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Cert); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSCertNotFound, cfg.HTTP.TLS.Cert)
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Key); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSKeyNotFound, cfg.HTTP.TLS.Key)
		}
	}

	if cfg.Admin.TokenEnv != "" && os.Getenv(cfg.Admin.TokenEnv) == "" {
		return fmt.Errorf("%w: %s", ErrAdminTokenEnvNotSet, cfg.Admin.TokenEnv)
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst <= 0) {
		return fmt.Errorf("%w", ErrInvalidRateLimit)
	}

	return nil
}

// validateFeedConfig checks structure and policy bounds. Source types are
// checked against the feed registry when the feed is built.
func validateFeedConfig(cfg *FeedConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w", ErrFeedNameRequired)
	}

	if err := cfg.Params().Validate(); err != nil {
		return err
	}

	if cfg.Primary.Type == "" {
		return fmt.Errorf("primary: %w", ErrSourceTypeRequired)
	}
	if cfg.Fallback != nil && cfg.Fallback.Type == "" {
		return fmt.Errorf("fallback: %w", ErrSourceTypeRequired)
	}

	return nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	// Validate level
	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, l := range validLevels {
		if strings.ToLower(cfg.Level) == l {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("%w: %s (must be one of: %s)", ErrInvalidLogLevel, cfg.Level, strings.Join(validLevels, ", "))
	}

	// Validate format
	formatValid := strings.ToLower(cfg.Format) == "json" || strings.ToLower(cfg.Format) == "text"
	if !formatValid {
		return fmt.Errorf("%w: %s (must be 'json' or 'text')", ErrInvalidLogFormat, cfg.Format)
	}

	return nil
}
