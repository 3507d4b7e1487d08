package ccall

import "errors"

var (
	ErrNoSession      = errors.New("ccall: no session factory configured")
	ErrWrongState     = errors.New("ccall: operation not valid in the current state")
	ErrAlreadyStarted = errors.New("ccall: call already started")
	ErrNotMLS         = errors.New("ccall: set_media_key called on a non-MLS call")
)
