// Package icall defines the capability interface the Conference
// Controller drives its media session through, and the
// MediaSystemContext the controller shares with the media layer.
//
// In the source system this is a vtable over ecall | egcall | ccall:
// whichever flavor of call is mediating the conversation, the upper
// layers only ever see this interface. This module implements one
// concrete backend (pkg/ecall, a pion/webrtc PeerConnection) and
// documents the seam the 1:1 and legacy-mesh machines would plug into.
package icall

import (
	"context"
	"time"
)

// VideoState mirrors the per-user video state carried in the roster
// and in Props-sync messages.
type VideoState int

const (
	VideoStateStopped VideoState = iota
	VideoStateStarted
	VideoStatePaused
	VideoStateScreenShare
	VideoStateBadConn
)

func (s VideoState) String() string {
	switch s {
	case VideoStateStopped:
		return "stopped"
	case VideoStateStarted:
		return "started"
	case VideoStatePaused:
		return "paused"
	case VideoStateScreenShare:
		return "screenshare"
	case VideoStateBadConn:
		return "bad-conn"
	default:
		return "unknown"
	}
}

// SSRCs is a participant's audio/video synchronization source pair.
// Zero means absent.
type SSRCs struct {
	Audio uint32
	Video uint32
}

// CloseReason is the reason a media session ended, reported through
// Delegate.OnClosed and mapped to a host-facing Reason by pkg/ccall.
type CloseReason int

const (
	CloseNormal CloseReason = iota
	CloseError
	CloseTimeout
	CloseLostMedia
	CloseCanceled
	CloseAnsweredElsewhere
	CloseIOError
	CloseStillOngoing
	CloseRejected
	CloseOutdatedClient
	CloseAuthFailed
	CloseAuthFailedStart
	CloseNooneJoined
	CloseEveryoneLeft
	// CloseAgain signals an ICE restart is needed; the controller treats
	// this as a reconnect trigger, not a terminal close.
	CloseAgain
	// CloseNotConnected signals the transport dropped without an orderly
	// teardown; also treated as a reconnect trigger.
	CloseNotConnected
)

// Delegate receives events from a media session. The Conference
// Controller implements this and hands itself to the session it owns.
type Delegate interface {
	OnEstablished(sessionID string)
	OnClosed(sessionID string, reason CloseReason)
	OnDataChannelEstablished(sessionID string)
	OnQuality(sessionID string, upKbps, downKbps float32, rttMs int, downLossPct float32)
}

// KeyedSession is an optional Session capability for backends that
// apply rotated conference keys to frame-level encryption (WebRTC
// insertable streams or equivalent). pkg/ecall's Session always
// implements it and forwards keys only when a FrameCryptor is
// configured.
type KeyedSession interface {
	ApplyMediaKey(index uint32, key []byte)
}

// ICEServer is a STUN/TURN server descriptor handed down from the
// host's configuration fetch.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Session is the capability surface the Conference Controller drives.
// pkg/ecall implements it over a pion/webrtc PeerConnection; a future
// egcall/mesh backend would implement the same interface.
type Session interface {
	// AddTurnServer registers a TURN/STUN server to use for ICE gathering.
	AddTurnServer(srv ICEServer)

	// Start runs the session once HandleSetup has applied the SFT's SDP.
	Start(ctx context.Context) error

	// HandleSetup applies an SDP offer/answer received from the SFT and
	// returns the local answer/offer SDP to send back, if any.
	HandleSetup(sdp string, isOffer bool) (localSDP string, err error)

	// SetLocalSSRCs updates the local media SSRCs (called after self
	// changes position in the roster).
	SetLocalSSRCs(s SSRCs)

	// SetVideoState requests a local video state change.
	SetVideoState(state VideoState) error

	// DCESend sends a message over the established data channel.
	DCESend(payload []byte) error

	// MediaStart / MediaStop start and stop local media flow.
	MediaStart() error
	MediaStop() error

	// SetQualityInterval configures how often Delegate.OnQuality fires.
	SetQualityInterval(d time.Duration)

	// Close tears down the session.
	Close(reason CloseReason) error
}

// MediaSystemContext is the ambient, process-wide state the key store
// listener set and media layer would otherwise reach for as globals.
// It is constructed once by the host and handed to every Conference
// Controller; the controller holds a reference but never mutates it.
type MediaSystemContext struct {
	// MuteAll reports a process-wide mute override. The controller reads
	// it only to fill the muted flag it pushes to peers in props sync; no
	// code in this module silences audio frames because of it.
	MuteAll func() bool
}

// NewMediaSystemContext returns a context with a MuteAll that always
// reports false (no ambient mute).
func NewMediaSystemContext() *MediaSystemContext {
	return &MediaSystemContext{MuteAll: func() bool { return false }}
}
