package feeds

import "errors"

var (
	// ErrUnknownFeedType indicates that no factory is registered for the type.
	ErrUnknownFeedType = errors.New("unknown feed type")
	// ErrInvalidConfig indicates that the feed configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrMissingKey indicates that a required configuration key is absent.
	ErrMissingKey = errors.New("missing configuration key")
	// ErrNoAnswer indicates that the upstream returned no usable answer.
	ErrNoAnswer = errors.New("no answer available")
	// ErrUnexpectedStatus indicates an unexpected HTTP status code.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status code")
)
