// Package chainlink provides a feed that reads an AggregatorV3 contract over EVM JSON-RPC.
package chainlink

import (
	"errors"
	"fmt"

	"github.com/StrathCole/feedguard/pkg/feeds"
)

var (
	// ErrRPCURLRequired indicates that rpc_url configuration is required.
	ErrRPCURLRequired = fmt.Errorf("%w: rpc_url is required", feeds.ErrInvalidConfig)
	// ErrAddressRequired indicates that the aggregator address is required.
	ErrAddressRequired = fmt.Errorf("%w: address is required", feeds.ErrInvalidConfig)
	// ErrInvalidAddress indicates that the aggregator address is not a hex address.
	ErrInvalidAddress = fmt.Errorf("%w: invalid aggregator address", feeds.ErrInvalidConfig)
	// ErrZeroAddress indicates that the aggregator address is the zero address.
	ErrZeroAddress = fmt.Errorf("%w: aggregator address must not be zero", feeds.ErrInvalidConfig)
	// ErrEmptyResult indicates that the contract call returned no data.
	ErrEmptyResult = errors.New("empty call result")
)
