package policy

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// ValidateObservation reports whether value is positive and no older than heartbeat seconds.
// Observations timestamped after now count as age zero.
func ValidateObservation(value *big.Int, observedAt, now time.Time, heartbeat uint64) bool {
	if value == nil || value.Sign() <= 0 {
		return false
	}
	return !isStale(observedAt, now, heartbeat)
}

// StalenessOf reports whether source is absent or its latest observation exceeds heartbeat.
// A source that cannot be read has no data and is reported stale.
func StalenessOf(ctx context.Context, source Source, now time.Time, heartbeat uint64) bool {
	if source == nil {
		return true
	}
	_, observedAt, err := source.FetchLatest(ctx)
	if err != nil {
		return true
	}
	return isStale(observedAt, now, heartbeat)
}

func isStale(observedAt, now time.Time, heartbeat uint64) bool {
	age := now.Unix() - observedAt.Unix()
	if age <= 0 {
		return false
	}
	return uint64(age) > heartbeat
}

func validateHeartbeat(h uint64) error {
	if h < MinHeartbeat || h > MaxHeartbeat {
		return fmt.Errorf("%w: %d (must be between %d and %d)", ErrInvalidHeartbeat, h, MinHeartbeat, MaxHeartbeat)
	}
	return nil
}

func validateThreshold(bps uint64) error {
	if bps > MaxDeviationBps {
		return fmt.Errorf("%w: %d (must be at most %d)", ErrInvalidThreshold, bps, MaxDeviationBps)
	}
	return nil
}
