// Package keystore implements the session media key lifecycle for one
// conference call: generation, indexing, the current/next rotation
// split, MLS epoch installation, and decrypt-liveness introspection.
//
// At any moment the store holds {}, {current}, or {current, next}.
// Promotion (rotate) is monotonic in index. The store is safe for
// concurrent use: media threads read a consistent current key while
// the event loop installs new ones, following the same
// config-struct-plus-mutex shape as session.GroupPeerTable.
package keystore

import (
	"crypto/sha256"
	"io"
	"sync"
	"time"

	"github.com/pion/logging"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of a session key.
const KeySize = 32

// SessionKey is one indexed 32-byte session key plus the SFT entropy
// mixed into its derivation.
type SessionKey struct {
	Index   uint32
	Key     [KeySize]byte
	Entropy []byte
}

// Listener is notified when the current key changes, so the media
// layer can re-derive its SRTP context.
type Listener func(current SessionKey)

// Config configures a Store.
type Config struct {
	// LoggerFactory builds the store's logger. If nil, pion/logging's
	// default logger factory is used.
	LoggerFactory logging.LoggerFactory
}

// Store holds the current/next session keys for one call.
type Store struct {
	mu sync.RWMutex

	salt []byte

	current   *SessionKey
	currentTS time.Time
	next      *SessionKey

	// maxIndex is the highest index ever installed or reserved by
	// MarkNewGeneration; NextIndex() derives the next fresh index from
	// it. Zero means no key has ever been installed.
	maxIndex uint32

	decryptAttempted  bool
	decryptSuccessful bool

	listeners []Listener

	log logging.LeveledLogger
}

// New creates an empty Store.
func New(cfg Config) *Store {
	factory := cfg.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}
	return &Store{log: factory.NewLogger("keystore")}
}

// SetSalt sets the HKDF salt used to derive per-member media keys.
// Safe to call repeatedly; it only resets the derivation cache (there
// is none to invalidate beyond the salt itself, since derivation is
// pure given (key, salt)).
func (s *Store) SetSalt(salt []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.salt = append([]byte(nil), salt...)
}

// SetFreshSessionKey installs a newly generated session key. Must only
// be called on the keygenerator path; callers elsewhere should use
// SetSessionKey.
//
// Fails with ErrStaleIndex if index is not strictly greater than the
// highest index ever seen. Otherwise the key becomes current (if the
// store was empty) or next (if current is already set).
func (s *Store) SetFreshSessionKey(index uint32, key [KeySize]byte, entropy []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installLocked(index, key, entropy, true)
}

// SetSessionKey installs an externally supplied key: MLS epoch keys
// and CONF_KEY responses received by a non-keygenerator. Returns ErrAlready if index is already known with
// an identical key (idempotent re-delivery), or ErrKeyMismatch if the
// index is known with a different key.
func (s *Store) SetSessionKey(index uint32, key [KeySize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.findLocked(index); ok {
		if existing.Key == key {
			return ErrAlready
		}
		return ErrKeyMismatch
	}
	return s.installLocked(index, key, nil, false)
}

// findLocked returns the installed key at index, if any.
func (s *Store) findLocked(index uint32) (SessionKey, bool) {
	if s.current != nil && s.current.Index == index {
		return *s.current, true
	}
	if s.next != nil && s.next.Index == index {
		return *s.next, true
	}
	return SessionKey{}, false
}

// installLocked performs the shared current/next placement logic.
// requireMonotonic enforces the "index must exceed every known index"
// rule used by the fresh-key path; external installs (MLS, CONF_KEY
// responses) may legitimately arrive for an index below maxIndex (a
// slow peer catching up), so they skip that check and instead rely on
// findLocked to catch true duplicates.
func (s *Store) installLocked(index uint32, key [KeySize]byte, entropy []byte, requireMonotonic bool) error {
	if requireMonotonic && s.maxIndex != 0 && index <= s.maxIndex {
		return ErrStaleIndex
	}

	sk := SessionKey{Index: index, Key: key, Entropy: entropy}

	switch {
	case s.current == nil:
		s.current = &sk
		s.currentTS = time.Now()
		s.notifyLocked()
	case s.next == nil:
		if index <= s.current.Index {
			return ErrStaleIndex
		}
		s.next = &sk
	default:
		// Both slots full: this external key supersedes next only if
		// strictly newer, otherwise it's dropped as stale.
		if index <= s.next.Index {
			return ErrStaleIndex
		}
		s.next = &sk
	}

	if index > s.maxIndex {
		s.maxIndex = index
	}
	return nil
}

func (s *Store) notifyLocked() {
	if s.current == nil {
		return
	}
	current := *s.current
	for _, l := range s.listeners {
		l(current)
	}
}

// NextIndex returns the index SetFreshSessionKey should be called with
// to add the next key. Generation 1 (0x10000) is used for the very
// first key of a call.
func (s *Store) NextIndex() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextIndexLocked()
}

func (s *Store) nextIndexLocked() uint32 {
	if s.maxIndex == 0 {
		return 0x10000
	}
	return s.maxIndex + 1
}

// MarkNewGeneration bumps the generation counter so the next call to
// NextIndex() returns an index in a strictly higher generation: each
// new generation bumps the upper 16 bits and resets the lower 16 bits
// to 0xFFFF so the next rotation wraps into a strictly greater index.
// Called when a participant leaves or a new keygenerator takes over.
func (s *Store) MarkNewGeneration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := uint32(s.maxIndex>>16) + 1
	s.maxIndex = (gen << 16) | 0xFFFF
}

// GetCurrent returns the current key's index and the time it became
// current.
func (s *Store) GetCurrent() (index uint32, ts time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0, time.Time{}, false
	}
	return s.current.Index, s.currentTS, true
}

// GetNext returns the next key's index and key material, if present.
func (s *Store) GetNext() (index uint32, key [KeySize]byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.next == nil {
		return 0, [KeySize]byte{}, false
	}
	return s.next.Index, s.next.Key, true
}

// CurrentEntry returns a copy of the current key record, used by
// CONF_KEY response construction.
func (s *Store) CurrentEntry() (SessionKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return SessionKey{}, false
	}
	return *s.current, true
}

// NextEntry returns a copy of the next key record, if present.
func (s *Store) NextEntry() (SessionKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.next == nil {
		return SessionKey{}, false
	}
	return *s.next, true
}

// Rotate promotes next to current. Noop when next is absent.
func (s *Store) Rotate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next == nil {
		return
	}
	s.current = s.next
	s.currentTS = time.Now()
	s.next = nil
	s.notifyLocked()
}

// RotateByTime promotes next to current if current is older than
// threshold. Returns whether a next key is still pending after the
// call.
func (s *Store) RotateByTime(threshold time.Duration) (pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next != nil && s.current != nil && time.Since(s.currentTS) >= threshold {
		s.current = s.next
		s.currentTS = time.Now()
		s.next = nil
		s.notifyLocked()
	}
	return s.next != nil
}

// HasKeys reports whether any key is installed.
func (s *Store) HasKeys() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// GetDecryptStates returns the liveness flags the decrypt-check timer
// inspects.
func (s *Store) GetDecryptStates() (attempted, successful bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decryptAttempted, s.decryptSuccessful
}

// NoteDecryptAttempt records the outcome of a decrypt attempt by the
// media layer. No package in this module calls it; the decrypt states
// stay false until a media path reports an attempt here.
func (s *Store) NoteDecryptAttempt(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decryptAttempted = true
	s.decryptSuccessful = success
}

// Reset discards all state: keys, salt and the listener set.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.currentTS = time.Time{}
	s.next = nil
	s.maxIndex = 0
	s.salt = nil
	s.decryptAttempted = false
	s.decryptSuccessful = false
	s.listeners = nil
}

// ResetKeys discards only the installed keys, keeping the salt and
// listener set intact.
func (s *Store) ResetKeys() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.currentTS = time.Time{}
	s.next = nil
	s.maxIndex = 0
	s.decryptAttempted = false
	s.decryptSuccessful = false
}

// AddListener registers a callback invoked whenever current changes.
func (s *Store) AddListener(cb Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, cb)
}

// RemoveListener clears every registered listener. Go funcs aren't
// comparable, so per-listener removal isn't supported; callers that
// need that should wrap a cancel flag into their own callback.
func (s *Store) RemoveListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = nil
}

// DeriveMediaKey derives the per-member media key for the given
// session key using HKDF-SHA256 with the store's salt (the conversation
// hash) as the HKDF salt and the index as context info, so every
// generation/rotation yields an independent media key even if the
// underlying session key were ever reused.
func (s *Store) DeriveMediaKey(sk SessionKey) ([]byte, error) {
	s.mu.RLock()
	salt := s.salt
	s.mu.RUnlock()

	info := make([]byte, 4)
	info[0] = byte(sk.Index >> 24)
	info[1] = byte(sk.Index >> 16)
	info[2] = byte(sk.Index >> 8)
	info[3] = byte(sk.Index)

	return hkdfSHA256(sk.Key[:], salt, info, KeySize)
}

// hkdfSHA256 derives key material using HKDF-SHA256 (RFC 5869): the
// session key plus the store's salt (the conversation hash) becomes a
// per-member media key.
func hkdfSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKey, salt, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}
