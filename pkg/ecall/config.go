// Package ecall is the concrete icall.Session backend: one
// pion/webrtc PeerConnection per conference call, wired to forward
// state changes back to the Conference Controller through
// icall.Delegate.
package ecall

import (
	"github.com/avsconf/ccall/pkg/icall"
	"github.com/pion/logging"
)

// FrameCryptor is the host's hook for per-frame end-to-end encryption
// layered on top of the DTLS-SRTP transport: the session calls Apply
// whenever the conference key rotates, and the host's WebRTC
// insertable-streams transform (outside this package's reach in Go)
// keys itself from the key material passed in. ecall does not perform
// frame-level crypto itself; it only plumbs key changes through.
type FrameCryptor interface {
	Apply(keyIndex uint32, key []byte)
}

// Config configures a Session.
type Config struct {
	SessionID string

	// FrameCryptor receives media-key updates via the keystore listener
	// the caller should register. Optional.
	FrameCryptor FrameCryptor

	// QualityInterval is the default period between Delegate.OnQuality
	// samples; SetQualityInterval overrides it per-session.
	QualityInterval int // milliseconds; 0 uses the package default

	LoggerFactory logging.LoggerFactory
}

func (c Config) withDefaults() Config {
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.QualityInterval == 0 {
		c.QualityInterval = int(defaultQualityInterval.Milliseconds())
	}
	return c
}

// Factory returns a session factory closing over cfg, suitable for
// ccall.Config.SessionFactory.
func Factory(cfg Config) func(delegate icall.Delegate) icall.Session {
	return func(delegate icall.Delegate) icall.Session {
		return New(cfg, delegate)
	}
}
