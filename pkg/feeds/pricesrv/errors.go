// Package pricesrv provides a feed that reads one symbol from an oracle price server.
package pricesrv

import (
	"errors"
	"fmt"

	"github.com/StrathCole/feedguard/pkg/feeds"
)

var (
	// ErrURLRequired indicates that the price server URL is required.
	ErrURLRequired = fmt.Errorf("%w: url is required", feeds.ErrInvalidConfig)
	// ErrSymbolRequired indicates that the symbol is required.
	ErrSymbolRequired = fmt.Errorf("%w: symbol is required", feeds.ErrInvalidConfig)
	// ErrSymbolNotFound indicates that the server response has no price for the symbol.
	ErrSymbolNotFound = errors.New("symbol not found in price server response")
)
