package feedset

import (
	"context"

	"github.com/StrathCole/feedguard/pkg/config"
	"github.com/StrathCole/feedguard/pkg/feeds"
	"github.com/StrathCole/feedguard/pkg/metrics"
	"github.com/StrathCole/feedguard/pkg/policy"
)

// The methods below assume the caller has already been authorised.

// SetHeartbeat changes a feed's heartbeat.
func (s *Set) SetHeartbeat(ctx context.Context, name string, seconds uint64) (policy.Change, error) {
	return s.mutate(ctx, name, func(e *entry) (policy.Change, error) {
		return e.policy.SetHeartbeat(seconds)
	})
}

// SetDeviationThreshold changes a feed's deviation threshold.
func (s *Set) SetDeviationThreshold(ctx context.Context, name string, bps uint64) (policy.Change, error) {
	return s.mutate(ctx, name, func(e *entry) (policy.Change, error) {
		return e.policy.SetDeviationThreshold(bps)
	})
}

// SetPrimary replaces a feed's primary source with one built from sc.
func (s *Set) SetPrimary(ctx context.Context, name string, sc config.SourceConfig) (policy.Change, error) {
	return s.mutate(ctx, name, func(e *entry) (policy.Change, error) {
		next, err := s.createFeed(ctx, name, sc)
		if err != nil {
			return policy.Change{}, err
		}
		change, err := e.policy.SetPrimarySource(next)
		if err != nil {
			_ = next.Close()
			return policy.Change{}, err
		}
		s.retire(name, e.primary)
		e.primary = next
		return change, nil
	})
}

// SetFallback replaces a feed's fallback source with one built from sc.
func (s *Set) SetFallback(ctx context.Context, name string, sc config.SourceConfig) (policy.Change, error) {
	return s.mutate(ctx, name, func(e *entry) (policy.Change, error) {
		next, err := s.createFeed(ctx, name, sc)
		if err != nil {
			return policy.Change{}, err
		}
		return s.replaceFallback(name, e, next)
	})
}

// DisableFallback removes a feed's fallback source.
func (s *Set) DisableFallback(ctx context.Context, name string) (policy.Change, error) {
	return s.mutate(ctx, name, func(e *entry) (policy.Change, error) {
		return s.replaceFallback(name, e, nil)
	})
}

func (s *Set) replaceFallback(name string, e *entry, next feeds.Feed) (policy.Change, error) {
	change, err := e.policy.SetFallbackSource(asSource(next))
	if err != nil {
		_ = closeFeed(next)
		return policy.Change{}, err
	}
	s.retire(name, e.fallback)
	e.fallback = next
	return change, nil
}

// mutate applies an admin change and fans it out to the notifiers.
func (s *Set) mutate(ctx context.Context, name string, apply func(e *entry) (policy.Change, error)) (policy.Change, error) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()

	e, err := s.get(name)
	if err != nil {
		return policy.Change{}, err
	}

	change, err := apply(e)
	if err != nil {
		return policy.Change{}, err
	}

	metrics.RecordConfigChange(change.Feed, change.Field)
	s.notify(ctx, change)
	return change, nil
}

// notify delivers a change to every notifier. The change is already applied,
// so notifier failures are logged and do not fail the operation.
func (s *Set) notify(ctx context.Context, change policy.Change) {
	s.mu.RLock()
	notifiers := append([]Notifier(nil), s.notifiers...)
	s.mu.RUnlock()

	for _, n := range notifiers {
		if err := n.Notify(ctx, change); err != nil {
			s.logger.Warn("Failed to deliver configuration change",
				"feed", change.Feed,
				"field", change.Field,
				"error", err.Error())
		}
	}
}

// retire closes a feed that is no longer referenced by the policy.
// In-flight reads holding the old snapshot may still use it and will fail as invalid.
func (s *Set) retire(name string, f feeds.Feed) {
	if f == nil {
		return
	}
	if err := f.Close(); err != nil {
		s.logger.Warn("Failed to close replaced feed", "feed", name, "source", f.ID(), "error", err.Error())
	}
}
