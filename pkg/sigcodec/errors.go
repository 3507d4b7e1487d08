package sigcodec

import "errors"

// Errors returned by the sigcodec package.
var (
	// ErrMissingType is returned when encoding or decoding a message
	// with no Type set.
	ErrMissingType = errors.New("sigcodec: message has no type")
)
