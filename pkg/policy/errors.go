// Package policy implements fallback-aware price resolution over two price sources.
package policy

import "errors"

var (
	// ErrZeroAddress indicates that the primary source is missing.
	ErrZeroAddress = errors.New("primary source must not be zero")
	// ErrInvalidHeartbeat indicates that the heartbeat is outside [MinHeartbeat, MaxHeartbeat].
	ErrInvalidHeartbeat = errors.New("invalid heartbeat")
	// ErrInvalidThreshold indicates that the deviation threshold is above MaxDeviationBps.
	ErrInvalidThreshold = errors.New("invalid deviation threshold")
	// ErrStalePrice indicates that the primary observation is older than the heartbeat.
	ErrStalePrice = errors.New("stale price")
	// ErrInvalidPrice indicates that the primary observation is not positive or could not be read.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrNoValidPrice indicates that neither primary nor fallback produced a usable observation.
	ErrNoValidPrice = errors.New("no valid price")
	// ErrPriceDeviationTooHigh is reserved for callers that enforce CheckDeviation themselves.
	// Resolution never returns it.
	ErrPriceDeviationTooHigh = errors.New("price deviation too high")
	// ErrMetadataUnsupported indicates that the primary source exposes no metadata.
	ErrMetadataUnsupported = errors.New("source does not expose metadata")
)
