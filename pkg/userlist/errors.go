package userlist

import "errors"

// ErrNoSelf is returned by operations that require SetSelf to have
// been called first.
var ErrNoSelf = errors.New("userlist: self identity not set")
