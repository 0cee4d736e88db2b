package feedset

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/StrathCole/feedguard/pkg/logging"
	"github.com/StrathCole/feedguard/pkg/policy"
)

// PriceUpdate is published for every feed on each watcher tick.
type PriceUpdate struct {
	Feed          string           `json:"feed"`
	Price         *big.Int         `json:"price,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at,omitempty"`
	UsedFallback  bool             `json:"used_fallback"`
	Error         string           `json:"error,omitempty"`
	PrimaryStale  bool             `json:"primary_stale"`
	FallbackStale bool             `json:"fallback_stale"`
	Deviation     policy.Deviation `json:"deviation"`
}

// PriceListener receives price updates from the watcher.
type PriceListener interface {
	PublishPrice(update PriceUpdate)
}

// Watcher periodically resolves every feed, refreshing metrics and
// publishing the results to listeners.
type Watcher struct {
	set      *Set
	logger   *logging.Logger
	interval time.Duration
	timeout  time.Duration

	mu        sync.Mutex
	listeners []PriceListener
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
}

// NewWatcher creates a watcher. It does nothing until started.
func NewWatcher(set *Set, interval time.Duration, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := interval
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Watcher{
		set:      set,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// AddListener registers a listener for price updates.
func (w *Watcher) AddListener(l PriceListener) {
	w.mu.Lock()
	w.listeners = append(w.listeners, l)
	w.mu.Unlock()
}

// Start runs the watch loop in the background. The first tick runs immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.Tick(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.Tick(runCtx)
			}
		}
	}()

	w.logger.Info("Feed watcher started", "interval", w.interval.String(), "feeds", len(w.set.Names()))
	return nil
}

// Stop stops the watch loop and waits for the current tick to finish.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.logger.Info("Feed watcher stopped")
	return nil
}

// Tick checks every feed once.
func (w *Watcher) Tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	w.mu.Lock()
	listeners := append([]PriceListener(nil), w.listeners...)
	w.mu.Unlock()

	for _, name := range w.set.Names() {
		if ctx.Err() != nil {
			return
		}
		update := w.check(ctx, name)
		for _, l := range listeners {
			l.PublishPrice(update)
		}
	}
}

func (w *Watcher) check(ctx context.Context, name string) PriceUpdate {
	update := PriceUpdate{Feed: name}

	res, err := w.set.Latest(ctx, name)
	if err != nil {
		update.Error = err.Error()
		w.logger.Warn("No valid price", "feed", name, "error", err.Error())
	} else {
		update.Price = res.Price
		update.UpdatedAt = res.UpdatedAt
		update.UsedFallback = res.UsedFallback
		if res.UsedFallback {
			w.logger.Warn("Primary unusable, serving fallback", "feed", name)
		}
	}

	update.PrimaryStale, update.FallbackStale, _ = w.set.Staleness(ctx, name)

	dev, err := w.set.Deviation(ctx, name)
	if err == nil {
		update.Deviation = dev
		if !dev.WithinThreshold && dev.DeviationBps != policy.DeviationUndefined {
			w.logger.Warn("Primary and fallback disagree",
				"feed", name,
				"deviation_bps", dev.DeviationBps)
		}
	}

	return update
}
