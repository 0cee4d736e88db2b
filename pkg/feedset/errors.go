// Package feedset manages the named price feeds of a deployment, one resolution policy per pair.
package feedset

import "errors"

var (
	// ErrUnknownFeed indicates that no feed with the given name exists.
	ErrUnknownFeed = errors.New("unknown feed")
	// ErrDuplicateFeed indicates that a feed with the given name already exists.
	ErrDuplicateFeed = errors.New("duplicate feed")
)
