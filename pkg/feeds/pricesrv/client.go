package pricesrv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/feedguard/pkg/feeds"
	"github.com/StrathCole/feedguard/pkg/logging"
	"github.com/StrathCole/feedguard/pkg/metrics"
	"github.com/StrathCole/feedguard/pkg/version"
)

// Price represents a single price from the price server
type Price struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// Feed reads a single symbol from a price server's /v1/prices endpoint and
// reports it as an integer answer with a fixed number of decimals.
type Feed struct {
	baseURL  string
	symbol   string
	decimals uint8
	client   *http.Client
	logger   *logging.Logger
	now      func() time.Time
}

var _ feeds.Feed = (*Feed)(nil)

// NewFromConfig creates a price server feed from configuration.
//
//	url: http://localhost:8080
//	symbol: LUNC/USD
//	decimals: 8
//	timeout: 5s
func NewFromConfig(_ context.Context, config map[string]interface{}) (feeds.Feed, error) {
	baseURL := feeds.GetString(config, "url", "")
	if baseURL == "" {
		return nil, fmt.Errorf("%w", ErrURLRequired)
	}
	symbol := feeds.GetString(config, "symbol", "")
	if symbol == "" {
		return nil, fmt.Errorf("%w", ErrSymbolRequired)
	}
	decimals, err := feeds.GetDecimals(config, "decimals", 8)
	if err != nil {
		return nil, err
	}
	timeout, err := feeds.GetDuration(config, "timeout", 5*time.Second)
	if err != nil {
		return nil, err
	}

	return New(baseURL, symbol, decimals, timeout, feeds.GetLoggerFromConfig(config)), nil
}

// New creates a price server feed.
func New(baseURL, symbol string, decimals uint8, timeout time.Duration, logger *logging.Logger) *Feed {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Feed{
		baseURL:  strings.TrimRight(baseURL, "/"),
		symbol:   symbol,
		decimals: decimals,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

// ID identifies the feed by server and symbol.
func (f *Feed) ID() string {
	return f.baseURL + "#" + f.symbol
}

// FetchLatest fetches all prices and returns the configured symbol scaled to an integer.
func (f *Feed) FetchLatest(ctx context.Context) (*big.Int, time.Time, error) {
	start := time.Now()
	p, err := f.fetch(ctx)
	if err != nil {
		metrics.RecordSourceFetch(f.ID(), "error", time.Since(start))
		return nil, time.Time{}, err
	}
	metrics.RecordSourceFetch(f.ID(), "ok", time.Since(start))

	at := p.Timestamp
	if at.IsZero() {
		at = f.now()
	}
	return Scale(p.Price, f.decimals), at, nil
}

func (f *Feed) fetch(ctx context.Context) (*Price, error) {
	url := f.baseURL + "/v1/prices"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.AgentString())

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: price server returned %d: %s", feeds.ErrUnexpectedStatus, resp.StatusCode, string(body))
	}

	var prices []Price
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	for i := range prices {
		if strings.EqualFold(prices[i].Symbol, f.symbol) {
			return &prices[i], nil
		}
	}

	f.logger.Debug("Symbol missing from price server response", "url", url, "symbol", f.symbol, "count", len(prices))
	return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, f.symbol)
}

// Scale converts a decimal price to an integer answer with the given decimals, truncating.
func Scale(price decimal.Decimal, decimals uint8) *big.Int {
	return price.Shift(int32(decimals)).Truncate(0).BigInt()
}

// Decimals returns the configured number of decimals.
func (f *Feed) Decimals(context.Context) (uint8, error) {
	return f.decimals, nil
}

// Description returns the symbol.
func (f *Feed) Description(context.Context) (string, error) {
	return f.symbol, nil
}

// Close releases idle connections.
func (f *Feed) Close() error {
	f.client.CloseIdleConnections()
	return nil
}
