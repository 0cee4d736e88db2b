// Package config provides configuration loading and validation for feedguard.
package config

import "errors"

var (
	// ErrNoFeedsConfigured indicates that no feeds are configured.
	ErrNoFeedsConfigured = errors.New("at least one feed must be configured")
	// ErrFeedNameRequired indicates that a feed has no name.
	ErrFeedNameRequired = errors.New("feed name is required")
	// ErrDuplicateFeed indicates that two feeds share a name.
	ErrDuplicateFeed = errors.New("duplicate feed name")
	// ErrSourceTypeRequired indicates that source type is required.
	ErrSourceTypeRequired = errors.New("source type is required")
	// ErrTLSConfigIncomplete indicates that TLS config is incomplete.
	ErrTLSConfigIncomplete = errors.New("TLS cert and key must be specified when TLS is enabled")
	// ErrTLSCertNotFound indicates that the TLS cert file was not found.
	ErrTLSCertNotFound = errors.New("TLS cert file not found")
	// ErrTLSKeyNotFound indicates that the TLS key file was not found.
	ErrTLSKeyNotFound = errors.New("TLS key file not found")
	// ErrAdminTokenEnvNotSet indicates that the admin token environment variable is not set.
	ErrAdminTokenEnvNotSet = errors.New("admin token environment variable not set")
	// ErrInvalidRateLimit indicates that rate limit settings are invalid.
	ErrInvalidRateLimit = errors.New("rate_limit rps and burst must be positive")
	// ErrInvalidWatchInterval indicates that the watch interval is invalid.
	ErrInvalidWatchInterval = errors.New("watch interval must be at least 1s")
	// ErrJournalPathRequired indicates that the journal path is required.
	ErrJournalPathRequired = errors.New("journal path is required")
	// ErrInvalidLogLevel indicates that the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat indicates that the log format is invalid.
	ErrInvalidLogFormat = errors.New("invalid log format")
)
