// Package feeds provides price source implementations and a registry to create them from configuration.
package feeds

import (
	"context"

	"github.com/StrathCole/feedguard/pkg/policy"
)

// Type names a feed implementation.
type Type string

const (
	TypeChainlink   Type = "chainlink"
	TypePriceServer Type = "pricesrv"
	TypeStatic      Type = "static"
)

// Feed is a price source that can be handed to a policy.
type Feed interface {
	policy.Source
	policy.Metadata

	// Close releases any connection held by the feed
	Close() error
}

// Factory is a function that creates a new Feed instance
type Factory func(ctx context.Context, config map[string]interface{}) (Feed, error)
