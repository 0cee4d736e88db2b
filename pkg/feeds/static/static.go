// Package static provides a feed that reports a configured answer.
package static

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/StrathCole/feedguard/pkg/feeds"
)

// Feed reports a fixed answer. Without an explicit updated_at the answer is
// always age old at read time.
type Feed struct {
	id          string
	decimals    uint8
	description string

	mu        sync.RWMutex
	answer    *big.Int
	updatedAt time.Time
	age       time.Duration
}

var _ feeds.Feed = (*Feed)(nil)

// New creates a static feed.
func New(id string, answer *big.Int, decimals uint8, description string) *Feed {
	return &Feed{
		id:          id,
		answer:      new(big.Int).Set(answer),
		decimals:    decimals,
		description: description,
	}
}

// NewFromConfig creates a static feed from configuration.
//
//	answer: "200000000000"
//	decimals: 8
//	description: "ETH / USD"
//	age: 30s
//	updated_at: 1700000000
func NewFromConfig(_ context.Context, config map[string]interface{}) (feeds.Feed, error) {
	answer, err := feeds.GetBigInt(config, "answer")
	if err != nil {
		return nil, err
	}
	decimals, err := feeds.GetDecimals(config, "decimals", 8)
	if err != nil {
		return nil, err
	}
	age, err := feeds.GetDuration(config, "age", 0)
	if err != nil {
		return nil, err
	}
	description := feeds.GetString(config, "description", "")
	id := feeds.GetString(config, "id", "static:"+answer.String())

	f := New(id, answer, decimals, description)
	f.age = age

	updatedAt, err := feeds.GetInt(config, "updated_at", 0)
	if err != nil {
		return nil, err
	}
	if updatedAt > 0 {
		f.updatedAt = time.Unix(int64(updatedAt), 0)
	}
	return f, nil
}

// Set replaces the answer and its timestamp.
func (f *Feed) Set(answer *big.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = new(big.Int).Set(answer)
	f.updatedAt = updatedAt
}

// ID returns the feed identifier.
func (f *Feed) ID() string {
	return f.id
}

// FetchLatest returns the configured answer.
func (f *Feed) FetchLatest(ctx context.Context) (*big.Int, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("static feed %s: %w", f.id, err)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	at := f.updatedAt
	if at.IsZero() {
		at = time.Now().Add(-f.age)
	}
	return new(big.Int).Set(f.answer), at, nil
}

// Decimals returns the configured decimals.
func (f *Feed) Decimals(context.Context) (uint8, error) {
	return f.decimals, nil
}

// Description returns the configured description.
func (f *Feed) Description(context.Context) (string, error) {
	return f.description, nil
}

// Close is a no-op.
func (f *Feed) Close() error {
	return nil
}
