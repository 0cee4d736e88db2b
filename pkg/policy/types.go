package policy

import (
	"context"
	"math"
	"math/big"
	"strconv"
	"time"
)

const (
	// MinHeartbeat is the smallest accepted heartbeat in seconds.
	MinHeartbeat uint64 = 60
	// MaxHeartbeat is the largest accepted heartbeat in seconds.
	MaxHeartbeat uint64 = 86400
	// MaxDeviationBps is the largest accepted deviation threshold (50%).
	MaxDeviationBps uint64 = 5000
	// BasisPoints is the number of basis points in 100%.
	BasisPoints int64 = 10000
	// DeviationUndefined is reported when two observations cannot be compared.
	DeviationUndefined uint64 = math.MaxUint64
)

// Source is an external provider of timestamped integer price answers.
type Source interface {
	// ID identifies the source, e.g. a contract address or URL.
	ID() string

	// FetchLatest returns the latest answer and the time it was observed.
	// Any error marks the observation unusable.
	FetchLatest(ctx context.Context) (*big.Int, time.Time, error)
}

// Metadata is implemented by sources that describe their answers.
type Metadata interface {
	Decimals(ctx context.Context) (uint8, error)
	Description(ctx context.Context) (string, error)
}

// Observation is a single read of a source.
// Value is zero unless Valid is true.
type Observation struct {
	Value      *big.Int  `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	Valid      bool      `json:"valid"`
}

// Params is the mutable policy configuration.
type Params struct {
	HeartbeatSeconds uint64 `json:"heartbeat_seconds" yaml:"heartbeat"`
	MaxDeviationBps  uint64 `json:"max_deviation_bps" yaml:"max_deviation_bps"`
}

// Validate checks both bounds.
func (p Params) Validate() error {
	if err := validateHeartbeat(p.HeartbeatSeconds); err != nil {
		return err
	}
	return validateThreshold(p.MaxDeviationBps)
}

// Resolution is the outcome of a successful LatestPrice call.
type Resolution struct {
	Price        *big.Int  `json:"price"`
	UpdatedAt    time.Time `json:"updated_at"`
	UsedFallback bool      `json:"used_fallback"`
}

// Deviation is the result of comparing primary and fallback.
type Deviation struct {
	WithinThreshold bool   `json:"within_threshold"`
	DeviationBps    uint64 `json:"deviation_bps"`
}

// Field names reported in Change.
const (
	FieldPrimary            = "primary"
	FieldFallback           = "fallback"
	FieldHeartbeat          = "heartbeat"
	FieldDeviationThreshold = "deviation_threshold"
)

// Change describes an accepted configuration update.
type Change struct {
	Feed  string    `json:"feed"`
	Field string    `json:"field"`
	Old   string    `json:"old"`
	New   string    `json:"new"`
	At    time.Time `json:"at"`
}

func sourceID(s Source) string {
	if s == nil {
		return ""
	}
	return s.ID()
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func zero() *big.Int {
	return new(big.Int)
}
