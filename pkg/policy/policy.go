package policy

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/StrathCole/feedguard/pkg/logging"
)

// snapshot is replaced wholesale on every accepted setter and never mutated.
type snapshot struct {
	primary  Source
	fallback Source
	params   Params
}

// Policy resolves prices from a primary source with an optional fallback.
// It is safe for concurrent use; every call observes one consistent configuration.
type Policy struct {
	name   string
	mu     sync.RWMutex
	state  snapshot
	logger *logging.Logger
}

// New creates a policy. A nil fallback disables fallback resolution.
//
// Sources must be either nil interfaces or usable values. A nil pointer stored
// in a Source interface is not nil and is not detected here.
func New(name string, primary, fallback Source, params Params, logger *logging.Logger) (*Policy, error) {
	if primary == nil {
		return nil, fmt.Errorf("%w", ErrZeroAddress)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	return &Policy{
		name: name,
		state: snapshot{
			primary:  primary,
			fallback: fallback,
			params:   params,
		},
		logger: logger,
	}, nil
}

// Name returns the feed name this policy was created for.
func (p *Policy) Name() string {
	return p.name
}

func (p *Policy) current() snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Params returns the current configuration.
func (p *Policy) Params() Params {
	return p.current().params
}

// Primary returns the primary source.
func (p *Policy) Primary() Source {
	return p.current().primary
}

// Fallback returns the fallback source, or nil when disabled.
func (p *Policy) Fallback() Source {
	return p.current().fallback
}

// LatestPrice returns the primary answer when valid, otherwise the fallback answer when valid.
// The fallback is not queried when the primary succeeds. Failure causes are not exposed.
func (p *Policy) LatestPrice(ctx context.Context, now time.Time) (Resolution, error) {
	s := p.current()

	if obs, ok := p.observe(ctx, s.primary, now, s.params.HeartbeatSeconds); ok && obs.Valid {
		return Resolution{Price: obs.Value, UpdatedAt: obs.ObservedAt}, nil
	}

	if s.fallback != nil {
		if obs, ok := p.observe(ctx, s.fallback, now, s.params.HeartbeatSeconds); ok && obs.Valid {
			return Resolution{Price: obs.Value, UpdatedAt: obs.ObservedAt, UsedFallback: true}, nil
		}
	}

	return Resolution{}, fmt.Errorf("%w", ErrNoValidPrice)
}

// LatestPriceStrict reads the primary only and reports why it is unusable.
func (p *Policy) LatestPriceStrict(ctx context.Context, now time.Time) (*big.Int, error) {
	s := p.current()

	value, observedAt, err := s.primary.FetchLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	if value == nil || value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, valueString(value))
	}
	if isStale(observedAt, now, s.params.HeartbeatSeconds) {
		return nil, fmt.Errorf("%w: updated at %s", ErrStalePrice, observedAt.UTC().Format(time.RFC3339))
	}
	return value, nil
}

// Observations reads both sources independently without substituting one for the other.
// Absent, unreadable, stale or non-positive sides are reported as (0, invalid).
func (p *Policy) Observations(ctx context.Context, now time.Time) (Observation, Observation) {
	s := p.current()
	return p.observations(ctx, s, now)
}

func (p *Policy) observations(ctx context.Context, s snapshot, now time.Time) (Observation, Observation) {
	primary, _ := p.observe(ctx, s.primary, now, s.params.HeartbeatSeconds)

	fallback := Observation{Value: zero()}
	if s.fallback != nil {
		fallback, _ = p.observe(ctx, s.fallback, now, s.params.HeartbeatSeconds)
	}
	return primary, fallback
}

// CheckDeviation compares live primary and fallback observations against the configured threshold.
func (p *Policy) CheckDeviation(ctx context.Context, now time.Time) Deviation {
	s := p.current()
	if s.fallback == nil {
		return CheckDeviation(Observation{}, nil, s.params.MaxDeviationBps)
	}
	primary, fallback := p.observations(ctx, s, now)
	return CheckDeviation(primary, &fallback, s.params.MaxDeviationBps)
}

// IsPrimaryStale reports whether the primary observation exceeds the heartbeat.
func (p *Policy) IsPrimaryStale(ctx context.Context, now time.Time) bool {
	s := p.current()
	return StalenessOf(ctx, s.primary, now, s.params.HeartbeatSeconds)
}

// IsFallbackStale reports whether the fallback observation exceeds the heartbeat.
// A disabled fallback is always stale.
func (p *Policy) IsFallbackStale(ctx context.Context, now time.Time) bool {
	s := p.current()
	return StalenessOf(ctx, s.fallback, now, s.params.HeartbeatSeconds)
}

// Decimals forwards to the primary source.
func (p *Policy) Decimals(ctx context.Context) (uint8, error) {
	md, ok := p.current().primary.(Metadata)
	if !ok {
		return 0, fmt.Errorf("%w", ErrMetadataUnsupported)
	}
	return md.Decimals(ctx)
}

// Description forwards to the primary source.
func (p *Policy) Description(ctx context.Context) (string, error) {
	md, ok := p.current().primary.(Metadata)
	if !ok {
		return "", fmt.Errorf("%w", ErrMetadataUnsupported)
	}
	return md.Description(ctx)
}

// SetPrimarySource replaces the primary source. The same nil rules as New apply.
func (p *Policy) SetPrimarySource(source Source) (Change, error) {
	if source == nil {
		return Change{}, fmt.Errorf("%w", ErrZeroAddress)
	}
	return p.update(FieldPrimary, func(s *snapshot) (string, string) {
		old := sourceID(s.primary)
		s.primary = source
		return old, sourceID(source)
	}), nil
}

// SetFallbackSource replaces the fallback source. A nil interface disables the fallback.
func (p *Policy) SetFallbackSource(source Source) (Change, error) {
	return p.update(FieldFallback, func(s *snapshot) (string, string) {
		old := sourceID(s.fallback)
		s.fallback = source
		return old, sourceID(source)
	}), nil
}

// SetHeartbeat replaces the heartbeat after checking its bounds.
func (p *Policy) SetHeartbeat(seconds uint64) (Change, error) {
	if err := validateHeartbeat(seconds); err != nil {
		return Change{}, err
	}
	return p.update(FieldHeartbeat, func(s *snapshot) (string, string) {
		old := s.params.HeartbeatSeconds
		s.params.HeartbeatSeconds = seconds
		return formatUint(old), formatUint(seconds)
	}), nil
}

// SetDeviationThreshold replaces the deviation threshold after checking its bound.
func (p *Policy) SetDeviationThreshold(bps uint64) (Change, error) {
	if err := validateThreshold(bps); err != nil {
		return Change{}, err
	}
	return p.update(FieldDeviationThreshold, func(s *snapshot) (string, string) {
		old := s.params.MaxDeviationBps
		s.params.MaxDeviationBps = bps
		return formatUint(old), formatUint(bps)
	}), nil
}

func (p *Policy) update(field string, apply func(s *snapshot) (string, string)) Change {
	p.mu.Lock()
	next := p.state
	oldValue, newValue := apply(&next)
	p.state = next
	p.mu.Unlock()

	p.logger.Info("Policy configuration updated", "feed", p.name, "field", field, "old", oldValue, "new", newValue)

	return Change{
		Feed:  p.name,
		Field: field,
		Old:   oldValue,
		New:   newValue,
		At:    time.Now().UTC(),
	}
}

// observe reads a source and validates it. ok is false when the read failed.
func (p *Policy) observe(ctx context.Context, source Source, now time.Time, heartbeat uint64) (Observation, bool) {
	value, observedAt, err := source.FetchLatest(ctx)
	if err != nil {
		p.logger.Debug("Source read failed", "feed", p.name, "source", source.ID(), "error", err.Error())
		return Observation{Value: zero()}, false
	}
	if !ValidateObservation(value, observedAt, now, heartbeat) {
		return Observation{Value: zero(), ObservedAt: observedAt}, true
	}
	return Observation{Value: value, ObservedAt: observedAt, Valid: true}, true
}

func valueString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
