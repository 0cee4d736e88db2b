package feedset

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/feedguard/pkg/config"
	"github.com/StrathCole/feedguard/pkg/feeds"
	"github.com/StrathCole/feedguard/pkg/feeds/static"
	"github.com/StrathCole/feedguard/pkg/policy"
)

func staticSource(id, answer string, age time.Duration) config.SourceConfig {
	return config.SourceConfig{
		Type: "static",
		Config: map[string]interface{}{
			"id":          id,
			"answer":      answer,
			"age":         age.String(),
			"description": "ETH / USD",
		},
	}
}

func feedConfig(name string, primaryAge time.Duration, withFallback bool) config.FeedConfig {
	fc := config.FeedConfig{
		Name:            name,
		Heartbeat:       3600,
		MaxDeviationBps: 500,
		Primary:         staticSource(name+"-primary", "200000000000", primaryAge),
	}
	if withFallback {
		fb := staticSource(name+"-fallback", "201000000000", time.Minute)
		fc.Fallback = &fb
	}
	return fc
}

// trackedFeed records whether it was closed.
type trackedFeed struct {
	*static.Feed
	closed atomic.Bool
}

func (f *trackedFeed) Close() error {
	f.closed.Store(true)
	return nil
}

func newTracked(id string, answer int64, age time.Duration) *trackedFeed {
	f := static.New(id, big.NewInt(answer), 8, id)
	f.Set(big.NewInt(answer), time.Now().Add(-age))
	return &trackedFeed{Feed: f}
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, change policy.Change) error {
	args := m.Called(ctx, change)
	return args.Error(0)
}

func TestBuild(t *testing.T) {
	set, err := Build(context.Background(), []config.FeedConfig{
		feedConfig("eth-usd", time.Minute, true),
		feedConfig("btc-usd", time.Minute, false),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = set.Close() })

	assert.Equal(t, []string{"btc-usd", "eth-usd"}, set.Names())

	info, err := set.Info("eth-usd")
	require.NoError(t, err)
	assert.Equal(t, Info{
		Name:     "eth-usd",
		Params:   policy.Params{HeartbeatSeconds: 3600, MaxDeviationBps: 500},
		Primary:  "eth-usd-primary",
		Fallback: "eth-usd-fallback",
	}, info)

	list := set.List()
	require.Len(t, list, 2)
	assert.Empty(t, list[0].Fallback)
}

func TestBuild_Errors(t *testing.T) {
	bad := feedConfig("eth-usd", time.Minute, false)
	bad.Primary.Type = "carrier-pigeon"
	_, err := Build(context.Background(), []config.FeedConfig{bad}, nil)
	require.ErrorIs(t, err, feeds.ErrUnknownFeedType)

	invalid := feedConfig("eth-usd", time.Minute, false)
	invalid.Heartbeat = 10
	_, err = Build(context.Background(), []config.FeedConfig{invalid}, nil)
	require.ErrorIs(t, err, policy.ErrInvalidHeartbeat)

	_, err = Build(context.Background(), []config.FeedConfig{
		feedConfig("eth-usd", time.Minute, false),
		feedConfig("eth-usd", time.Minute, false),
	}, nil)
	require.ErrorIs(t, err, ErrDuplicateFeed)
}

func TestAddFeeds_NilFeeds(t *testing.T) {
	set := New(nil)
	t.Cleanup(func() { _ = set.Close() })

	fallback := newTracked("fallback", 201000000000, time.Minute)
	err := set.AddFeeds("no-primary", nil, fallback, policy.Params{HeartbeatSeconds: 3600})
	require.ErrorIs(t, err, policy.ErrZeroAddress)
	assert.True(t, fallback.closed.Load())

	primary := newTracked("primary", 200000000000, 2*time.Hour)
	require.NoError(t, set.AddFeeds("no-fallback", primary, nil, policy.Params{HeartbeatSeconds: 3600}))

	info, err := set.Info("no-fallback")
	require.NoError(t, err)
	assert.Empty(t, info.Fallback)

	_, err = set.Latest(context.Background(), "no-fallback")
	require.ErrorIs(t, err, policy.ErrNoValidPrice)

	_, fallbackStale, err := set.Staleness(context.Background(), "no-fallback")
	require.NoError(t, err)
	assert.True(t, fallbackStale)
}

func TestAddFeeds_ClosesOnRejection(t *testing.T) {
	set := New(nil)
	primary := newTracked("p", 1, 0)
	fallback := newTracked("f", 1, 0)

	err := set.AddFeeds("x", primary, fallback, policy.Params{HeartbeatSeconds: 30})
	require.ErrorIs(t, err, policy.ErrInvalidHeartbeat)
	assert.True(t, primary.closed.Load())
	assert.True(t, fallback.closed.Load())
}

func TestReads(t *testing.T) {
	ctx := context.Background()
	set, err := Build(ctx, []config.FeedConfig{
		feedConfig("fresh", time.Minute, true),
		feedConfig("stale", 2*time.Hour, true),
		feedConfig("lonely", 2*time.Hour, false),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = set.Close() })

	t.Run("latest primary", func(t *testing.T) {
		res, err := set.Latest(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, "200000000000", res.Price.String())
		assert.False(t, res.UsedFallback)
	})

	t.Run("latest fallback", func(t *testing.T) {
		res, err := set.Latest(ctx, "stale")
		require.NoError(t, err)
		assert.Equal(t, "201000000000", res.Price.String())
		assert.True(t, res.UsedFallback)
	})

	t.Run("latest none", func(t *testing.T) {
		_, err := set.Latest(ctx, "lonely")
		require.ErrorIs(t, err, policy.ErrNoValidPrice)
	})

	t.Run("strict stale", func(t *testing.T) {
		_, err := set.Strict(ctx, "stale")
		require.ErrorIs(t, err, policy.ErrStalePrice)
	})

	t.Run("strict ok", func(t *testing.T) {
		price, err := set.Strict(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, "200000000000", price.String())
	})

	t.Run("observations", func(t *testing.T) {
		primary, fallback, err := set.Observations(ctx, "stale")
		require.NoError(t, err)
		assert.False(t, primary.Valid)
		assert.Equal(t, "0", primary.Value.String())
		assert.True(t, fallback.Valid)
	})

	t.Run("deviation", func(t *testing.T) {
		d, err := set.Deviation(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, policy.Deviation{WithinThreshold: true, DeviationBps: 49}, d)

		d, err = set.Deviation(ctx, "lonely")
		require.NoError(t, err)
		assert.Equal(t, policy.Deviation{WithinThreshold: true, DeviationBps: 0}, d)
	})

	t.Run("staleness", func(t *testing.T) {
		primaryStale, fallbackStale, err := set.Staleness(ctx, "lonely")
		require.NoError(t, err)
		assert.True(t, primaryStale)
		assert.True(t, fallbackStale)
	})

	t.Run("metadata", func(t *testing.T) {
		decimals, description, err := set.Metadata(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, uint8(8), decimals)
		assert.Equal(t, "ETH / USD", description)
	})

	t.Run("unknown feed", func(t *testing.T) {
		_, err := set.Latest(ctx, "doge-usd")
		require.ErrorIs(t, err, ErrUnknownFeed)
		_, err = set.Strict(ctx, "doge-usd")
		require.ErrorIs(t, err, ErrUnknownFeed)
		_, _, err = set.Staleness(ctx, "doge-usd")
		require.ErrorIs(t, err, ErrUnknownFeed)
	})
}

func TestAdmin_ParamsNotify(t *testing.T) {
	ctx := context.Background()
	set, err := Build(ctx, []config.FeedConfig{feedConfig("eth-usd", time.Minute, true)}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = set.Close() })

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(c policy.Change) bool {
		return c.Feed == "eth-usd" && c.Field == policy.FieldHeartbeat && c.Old == "3600" && c.New == "600"
	})).Return(nil).Once()
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(c policy.Change) bool {
		return c.Field == policy.FieldDeviationThreshold && c.Old == "500" && c.New == "0"
	})).Return(errors.New("journal down")).Once()
	set.Subscribe(notifier)

	change, err := set.SetHeartbeat(ctx, "eth-usd", 600)
	require.NoError(t, err)
	assert.Equal(t, "600", change.New)

	// a failing notifier does not undo the change
	_, err = set.SetDeviationThreshold(ctx, "eth-usd", 0)
	require.NoError(t, err)

	_, err = set.SetHeartbeat(ctx, "eth-usd", 86401)
	require.ErrorIs(t, err, policy.ErrInvalidHeartbeat)
	_, err = set.SetDeviationThreshold(ctx, "eth-usd", 5001)
	require.ErrorIs(t, err, policy.ErrInvalidThreshold)
	_, err = set.SetHeartbeat(ctx, "doge-usd", 600)
	require.ErrorIs(t, err, ErrUnknownFeed)

	info, err := set.Info("eth-usd")
	require.NoError(t, err)
	assert.Equal(t, policy.Params{HeartbeatSeconds: 600, MaxDeviationBps: 0}, info.Params)
	notifier.AssertExpectations(t)
}

func TestAdmin_ReplaceSources(t *testing.T) {
	ctx := context.Background()
	set := New(nil)
	primary := newTracked("old-primary", 100, time.Minute)
	fallback := newTracked("old-fallback", 101, time.Minute)
	require.NoError(t, set.AddFeeds("eth-usd", primary, fallback, policy.Params{HeartbeatSeconds: 3600, MaxDeviationBps: 500}))
	t.Cleanup(func() { _ = set.Close() })

	var (
		mu      sync.Mutex
		changes []policy.Change
	)
	set.Subscribe(NotifierFunc(func(_ context.Context, c policy.Change) error {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
		return nil
	}))

	change, err := set.SetPrimary(ctx, "eth-usd", staticSource("new-primary", "300", time.Minute))
	require.NoError(t, err)
	assert.Equal(t, policy.FieldPrimary, change.Field)
	assert.Equal(t, "old-primary", change.Old)
	assert.Equal(t, "new-primary", change.New)
	assert.True(t, primary.closed.Load())

	res, err := set.Latest(ctx, "eth-usd")
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.Price.Int64())

	_, err = set.SetPrimary(ctx, "eth-usd", config.SourceConfig{Type: "carrier-pigeon"})
	require.ErrorIs(t, err, feeds.ErrUnknownFeedType)

	change, err = set.DisableFallback(ctx, "eth-usd")
	require.NoError(t, err)
	assert.Equal(t, "old-fallback", change.Old)
	assert.Empty(t, change.New)
	assert.True(t, fallback.closed.Load())

	info, err := set.Info("eth-usd")
	require.NoError(t, err)
	assert.Empty(t, info.Fallback)

	change, err = set.SetFallback(ctx, "eth-usd", staticSource("new-fallback", "301", time.Minute))
	require.NoError(t, err)
	assert.Empty(t, change.Old)
	assert.Equal(t, "new-fallback", change.New)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 3)
	assert.Equal(t, []string{policy.FieldPrimary, policy.FieldFallback, policy.FieldFallback},
		[]string{changes[0].Field, changes[1].Field, changes[2].Field})
}

func TestClose(t *testing.T) {
	set := New(nil)
	primary := newTracked("p", 1, 0)
	require.NoError(t, set.AddFeeds("x", primary, nil, policy.Params{HeartbeatSeconds: 60}))

	require.NoError(t, set.Close())
	assert.True(t, primary.closed.Load())
	assert.Empty(t, set.Names())
}
