package ecall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avsconf/ccall/pkg/icall"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

const (
	audioTrackID = "audio0"
	videoTrackID = "video0"
	streamID     = "ccall"
	dceLabel     = "props"

	defaultQualityInterval = 5 * time.Second
)

// Session implements icall.Session over one pion/webrtc PeerConnection.
// The controller hands it SDP via HandleSetup and drives it through
// Start/Close; state changes flow back out through the icall.Delegate
// the controller itself implements.
type Session struct {
	cfg      Config
	delegate icall.Delegate
	log      logging.LeveledLogger

	mu sync.Mutex

	pc          *webrtc.PeerConnection
	audioTrack  *webrtc.TrackLocalStaticRTP
	videoTrack  *webrtc.TrackLocalStaticRTP
	dataChannel *webrtc.DataChannel

	turnServers []webrtc.ICEServer

	qualityInterval time.Duration
	qualityStop     chan struct{}

	established bool
	closed      bool
}

// New allocates a Session. The PeerConnection itself isn't created
// until the first HandleSetup call, since ICE server configuration
// may still be arriving via AddTurnServer.
func New(cfg Config, delegate icall.Delegate) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:             cfg,
		delegate:        delegate,
		log:             cfg.LoggerFactory.NewLogger("ecall"),
		qualityInterval: time.Duration(cfg.QualityInterval) * time.Millisecond,
	}
}

// AddTurnServer implements icall.Session.
func (s *Session) AddTurnServer(srv icall.ICEServer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnServers = append(s.turnServers, webrtc.ICEServer{
		URLs:       srv.URLs,
		Username:   srv.Username,
		Credential: srv.Credential,
	})
	if s.pc != nil {
		s.log.Warnf("AddTurnServer after PeerConnection creation has no effect")
	}
}

// ensurePeerConnectionLocked builds the PeerConnection, local tracks
// and data channel on first use. Called with s.mu held.
func (s *Session) ensurePeerConnectionLocked() error {
	if s.pc != nil {
		return nil
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("ecall: register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return fmt.Errorf("ecall: register interceptors: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: s.turnServers})
	if err != nil {
		return fmt.Errorf("ecall: new peer connection: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, audioTrackID, streamID)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("ecall: new audio track: %w", err)
	}
	if _, err := pc.AddTrack(audioTrack); err != nil {
		_ = pc.Close()
		return fmt.Errorf("ecall: add audio track: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, videoTrackID, streamID)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("ecall: new video track: %w", err)
	}
	if _, err := pc.AddTrack(videoTrack); err != nil {
		_ = pc.Close()
		return fmt.Errorf("ecall: add video track: %w", err)
	}

	dc, err := pc.CreateDataChannel(dceLabel, nil)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("ecall: create data channel: %w", err)
	}

	s.pc = pc
	s.audioTrack = audioTrack
	s.videoTrack = videoTrack
	s.dataChannel = dc
	s.wireCallbacksLocked()
	return nil
}

func (s *Session) wireCallbacksLocked() {
	sessionID := s.cfg.SessionID

	s.dataChannel.OnOpen(func() {
		s.mu.Lock()
		already := s.established
		s.established = true
		s.mu.Unlock()
		if !already && s.delegate != nil {
			s.delegate.OnDataChannelEstablished(sessionID)
		}
	})

	s.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		// Remote-initiated data channels are accepted but unused: ccall
		// always negotiates one channel per session, created locally.
		dc.OnOpen(func() {})
	})

	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.mu.Lock()
			s.startQualityLoopLocked()
			s.mu.Unlock()
			if s.delegate != nil {
				s.delegate.OnEstablished(sessionID)
			}
		case webrtc.PeerConnectionStateDisconnected:
			if s.delegate != nil {
				s.delegate.OnClosed(sessionID, icall.CloseAgain)
			}
		case webrtc.PeerConnectionStateFailed:
			if s.delegate != nil {
				s.delegate.OnClosed(sessionID, icall.CloseNotConnected)
			}
		case webrtc.PeerConnectionStateClosed:
			s.mu.Lock()
			wasClosed := s.closed
			s.mu.Unlock()
			if !wasClosed && s.delegate != nil {
				s.delegate.OnClosed(sessionID, icall.CloseError)
			}
		}
	})
}

// HandleSetup implements icall.Session: applies an SDP offer from the
// SFT and returns the local answer, or applies an SDP answer/update to
// our own earlier offer and returns "".
func (s *Session) HandleSetup(sdp string, isOffer bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensurePeerConnectionLocked(); err != nil {
		return "", err
	}

	if !isOffer {
		err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
		if err != nil {
			return "", fmt.Errorf("ecall: set remote answer: %w", err)
		}
		return "", nil
	}

	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", fmt.Errorf("ecall: set remote offer: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("ecall: create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("ecall: set local answer: %w", err)
	}
	return answer.SDP, nil
}

// Start implements icall.Session. By the time it's called HandleSetup
// has already completed the offer/answer exchange; Start just confirms
// the session is ready to run.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return fmt.Errorf("ecall: Start called before HandleSetup")
	}
	return nil
}

// SetLocalSSRCs implements icall.Session. pion/webrtc assigns its own
// SSRCs during negotiation; ccall's roster bookkeeping only needs to
// know the values, which it reads back from the remote SFT's CONF_PART
// snapshot, so this is a no-op hook kept for interface symmetry.
func (s *Session) SetLocalSSRCs(ss icall.SSRCs) {}

// SetVideoState implements icall.Session. It fails before the
// PeerConnection exists and otherwise does nothing: the local video
// track and its RTP sender are left as they are.
func (s *Session) SetVideoState(state icall.VideoState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return fmt.Errorf("ecall: SetVideoState before session established")
	}
	// Actual encoder start/stop lives with the host's capture pipeline;
	// ecall does not record the requested state.
	return nil
}

// ApplyMediaKey implements icall.KeyedSession, forwarding a rotated
// conference key to the configured FrameCryptor, if any.
func (s *Session) ApplyMediaKey(index uint32, key []byte) {
	s.mu.Lock()
	fc := s.cfg.FrameCryptor
	s.mu.Unlock()
	if fc != nil {
		fc.Apply(index, key)
	}
}

// DCESend implements icall.Session.
func (s *Session) DCESend(payload []byte) error {
	s.mu.Lock()
	dc := s.dataChannel
	s.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("ecall: data channel not established")
	}
	return dc.Send(payload)
}

// MediaStart implements icall.Session. Encoder/decoder lifecycle is
// the host's responsibility; ecall's tracks are always attached once
// the PeerConnection exists.
func (s *Session) MediaStart() error { return nil }

// MediaStop implements icall.Session.
func (s *Session) MediaStop() error { return nil }

// SetQualityInterval implements icall.Session.
func (s *Session) SetQualityInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qualityInterval = d
	if s.qualityStop != nil {
		s.stopQualityLoopLocked()
		s.startQualityLoopLocked()
	}
}

// Close implements icall.Session.
func (s *Session) Close(reason icall.CloseReason) error {
	s.mu.Lock()
	s.closed = true
	pc := s.pc
	s.stopQualityLoopLocked()
	s.mu.Unlock()

	if pc == nil {
		return nil
	}
	return pc.Close()
}
