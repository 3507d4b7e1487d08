package keystore

import "errors"

// Errors returned by the keystore package.
var (
	// ErrAlready is returned by SetSessionKey when the index is already
	// known and the supplied key matches.
	ErrAlready = errors.New("keystore: key already installed")

	// ErrStaleIndex is returned when an installed index does not exceed
	// the highest index already known to the store.
	ErrStaleIndex = errors.New("keystore: index is not newer than known keys")

	// ErrKeyMismatch is returned by SetSessionKey when the index is
	// known with a different key than the one supplied.
	ErrKeyMismatch = errors.New("keystore: index known with a different key")
)
