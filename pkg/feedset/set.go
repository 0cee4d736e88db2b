package feedset

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/StrathCole/feedguard/pkg/config"
	"github.com/StrathCole/feedguard/pkg/feeds"
	"github.com/StrathCole/feedguard/pkg/logging"
	"github.com/StrathCole/feedguard/pkg/metrics"
	"github.com/StrathCole/feedguard/pkg/policy"
)

// Resolution outcomes reported to metrics.
const (
	OutcomePrimary  = "primary"
	OutcomeFallback = "fallback"
	OutcomeNone     = "none"
	OutcomeOK       = "ok"
	OutcomeStale    = "stale"
	OutcomeInvalid  = "invalid"
)

// Feed sides reported to metrics.
const (
	SidePrimary  = "primary"
	SideFallback = "fallback"
)

// Notifier receives accepted configuration changes.
type Notifier interface {
	Notify(ctx context.Context, change policy.Change) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, change policy.Change) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, change policy.Change) error {
	return f(ctx, change)
}

// Info describes a feed's current configuration.
type Info struct {
	Name     string        `json:"name"`
	Params   policy.Params `json:"params"`
	Primary  string        `json:"primary"`
	Fallback string        `json:"fallback,omitempty"`
}

// entry holds a policy and the feeds it owns.
type entry struct {
	policy   *policy.Policy
	primary  feeds.Feed
	fallback feeds.Feed
}

// Set is a named collection of price resolution policies.
type Set struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	notifiers []Notifier
	logger    *logging.Logger
	now       func() time.Time

	// serializes admin mutations so replaced feeds are closed exactly once
	adminMu sync.Mutex
}

// New creates an empty set.
func New(logger *logging.Logger) *Set {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Set{
		entries: make(map[string]*entry),
		logger:  logger,
		now:     time.Now,
	}
}

// Build creates a set with one policy per configured feed.
func Build(ctx context.Context, cfgs []config.FeedConfig, logger *logging.Logger) (*Set, error) {
	s := New(logger)
	for i := range cfgs {
		if err := s.Add(ctx, cfgs[i]); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("feed %s: %w", cfgs[i].Name, err)
		}
	}
	return s, nil
}

// Add creates the feed's sources and policy and adds it to the set.
func (s *Set) Add(ctx context.Context, fc config.FeedConfig) error {
	s.mu.RLock()
	_, exists := s.entries[fc.Name]
	s.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFeed, fc.Name)
	}

	primary, err := s.createFeed(ctx, fc.Name, fc.Primary)
	if err != nil {
		return fmt.Errorf("primary: %w", err)
	}

	var fallback feeds.Feed
	if fc.Fallback != nil {
		fallback, err = s.createFeed(ctx, fc.Name, *fc.Fallback)
		if err != nil {
			_ = primary.Close()
			return fmt.Errorf("fallback: %w", err)
		}
	}

	return s.AddFeeds(fc.Name, primary, fallback, fc.Params())
}

// AddFeeds adds a policy over already created feeds. The set takes ownership of the feeds.
// A nil fallback disables fallback resolution. Feeds must be nil interfaces or
// usable values; feeds built by Add always are.
func (s *Set) AddFeeds(name string, primary, fallback feeds.Feed, params policy.Params) error {
	p, err := policy.New(name, asSource(primary), asSource(fallback), params, s.logger.With("feed", name))
	if err != nil {
		closeFeeds(primary, fallback)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		closeFeeds(primary, fallback)
		return fmt.Errorf("%w: %s", ErrDuplicateFeed, name)
	}
	s.entries[name] = &entry{policy: p, primary: primary, fallback: fallback}

	s.logger.Info("Feed added",
		"feed", name,
		"primary", primary.ID(),
		"fallback", sourceID(fallback),
		"heartbeat", params.HeartbeatSeconds,
		"max_deviation_bps", params.MaxDeviationBps)
	return nil
}

// createFeed builds a feed from source configuration, passing the set's logger.
func (s *Set) createFeed(ctx context.Context, name string, sc config.SourceConfig) (feeds.Feed, error) {
	cfg := make(map[string]interface{}, len(sc.Config)+1)
	for k, v := range sc.Config {
		cfg[k] = v
	}
	cfg[feeds.LoggerKey] = s.logger.With("feed", name, "source_type", sc.Type)

	return feeds.Create(ctx, sc.Type, cfg)
}

// Subscribe registers a notifier for configuration changes.
func (s *Set) Subscribe(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

// Names returns the sorted feed names.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Policy returns the policy of a feed.
func (s *Set) Policy(name string) (*policy.Policy, error) {
	e, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return e.policy, nil
}

func (s *Set) get(name string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, name)
	}
	return e, nil
}

// Info describes one feed.
func (s *Set) Info(name string) (Info, error) {
	p, err := s.Policy(name)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Name:     name,
		Params:   p.Params(),
		Primary:  sourceID(p.Primary()),
		Fallback: sourceID(p.Fallback()),
	}, nil
}

// List describes all feeds, sorted by name.
func (s *Set) List() []Info {
	names := s.Names()
	infos := make([]Info, 0, len(names))
	for _, name := range names {
		info, err := s.Info(name)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

// Latest resolves a feed with fallback.
func (s *Set) Latest(ctx context.Context, name string) (policy.Resolution, error) {
	p, err := s.Policy(name)
	if err != nil {
		return policy.Resolution{}, err
	}

	res, err := p.LatestPrice(ctx, s.now())
	switch {
	case err != nil:
		metrics.RecordResolution(name, "lenient", OutcomeNone)
	case res.UsedFallback:
		metrics.RecordResolution(name, "lenient", OutcomeFallback)
	default:
		metrics.RecordResolution(name, "lenient", OutcomePrimary)
	}
	return res, err
}

// Strict resolves a feed from its primary only.
func (s *Set) Strict(ctx context.Context, name string) (*big.Int, error) {
	p, err := s.Policy(name)
	if err != nil {
		return nil, err
	}

	price, err := p.LatestPriceStrict(ctx, s.now())
	switch {
	case errors.Is(err, policy.ErrStalePrice):
		metrics.RecordResolution(name, "strict", OutcomeStale)
	case err != nil:
		metrics.RecordResolution(name, "strict", OutcomeInvalid)
	default:
		metrics.RecordResolution(name, "strict", OutcomeOK)
	}
	return price, err
}

// Observations reads both sides of a feed.
func (s *Set) Observations(ctx context.Context, name string) (policy.Observation, policy.Observation, error) {
	p, err := s.Policy(name)
	if err != nil {
		return policy.Observation{}, policy.Observation{}, err
	}
	primary, fallback := p.Observations(ctx, s.now())
	return primary, fallback, nil
}

// Deviation compares both sides of a feed and records the result.
func (s *Set) Deviation(ctx context.Context, name string) (policy.Deviation, error) {
	p, err := s.Policy(name)
	if err != nil {
		return policy.Deviation{}, err
	}
	d := p.CheckDeviation(ctx, s.now())
	metrics.RecordDeviation(name, d.DeviationBps, d.WithinThreshold, d.DeviationBps == policy.DeviationUndefined)
	return d, nil
}

// Staleness reports and records whether each side of a feed is stale.
func (s *Set) Staleness(ctx context.Context, name string) (primaryStale, fallbackStale bool, err error) {
	p, err := s.Policy(name)
	if err != nil {
		return false, false, err
	}
	now := s.now()
	primaryStale = p.IsPrimaryStale(ctx, now)
	fallbackStale = p.IsFallbackStale(ctx, now)

	metrics.RecordStaleness(name, SidePrimary, primaryStale)
	metrics.RecordStaleness(name, SideFallback, fallbackStale)
	return primaryStale, fallbackStale, nil
}

// Metadata returns the primary source's decimals and description.
func (s *Set) Metadata(ctx context.Context, name string) (uint8, string, error) {
	p, err := s.Policy(name)
	if err != nil {
		return 0, "", err
	}
	decimals, err := p.Decimals(ctx)
	if err != nil {
		return 0, "", err
	}
	description, err := p.Description(ctx)
	if err != nil {
		return 0, "", err
	}
	return decimals, description, nil
}

// Close closes every feed in the set.
func (s *Set) Close() error {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, e := range s.entries {
		if err := closeFeed(e.primary); err != nil {
			errs = append(errs, fmt.Errorf("%s primary: %w", name, err))
		}
		if err := closeFeed(e.fallback); err != nil {
			errs = append(errs, fmt.Errorf("%s fallback: %w", name, err))
		}
	}
	s.entries = make(map[string]*entry)
	return errors.Join(errs...)
}

func closeFeed(f feeds.Feed) error {
	if f == nil {
		return nil
	}
	return f.Close()
}

func closeFeeds(fs ...feeds.Feed) {
	for _, f := range fs {
		_ = closeFeed(f)
	}
}

// asSource keeps a nil feed a nil source.
func asSource(f feeds.Feed) policy.Source {
	if f == nil {
		return nil
	}
	return f
}

func sourceID(src policy.Source) string {
	if src == nil {
		return ""
	}
	return src.ID()
}
