// Package ccall implements the Conference Controller: the state
// machine that takes a conversation from an idle client through SFT
// selection, roster reconciliation, key distribution and media
// establishment, to an active multi-party call and back to idle.
//
// The controller owns no I/O. Signalling sends, SFT HTTP requests and
// media transport are all delegated: HostDelegate carries messages out
// to the host, and icall.Session carries media setup down to a
// concrete backend (pkg/ecall). Every exported method except
// GetMembers (which reads the roster under the roster's own lock) runs
// to completion under a single mutex, mirroring the single-threaded
// cooperative event loop the design assumes; callers running on
// separate goroutines (timers, HTTP completions) only ever call back
// into the controller through these same methods.
package ccall

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/avsconf/ccall/pkg/icall"
	"github.com/avsconf/ccall/pkg/keystore"
	"github.com/avsconf/ccall/pkg/sigcodec"
	"github.com/avsconf/ccall/pkg/userlist"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Controller is one conference call's state machine.
type Controller struct {
	cfg      Config
	delegate HostDelegate

	// id is a process-local correlation ID for log lines, distinct from
	// any wire identifier; it never leaves the process.
	id string

	mu sync.Mutex

	state    State
	callType CallType
	cbr      bool
	isCaller bool
	active   bool

	session icall.Session

	sftURL      string
	sftList     []string
	sftTuple    []byte
	allowedSFTs []string
	turnServers []icall.ICEServer

	secret       []byte
	sftTimestamp int64
	sftSeqno     uint32

	keystore *keystore.Store
	userlist *userlist.List

	timers timerSet

	missingPings      int
	reconnectAttempts int
	everJoined        bool
	haveSeenPart      bool
	lastEntropy       []byte

	videoReqs map[string]string // userid hash -> requested quality

	localEpoch      uint32 // MLS: latest epoch installed via SetMediaKey
	epochInstalledAt time.Time

	log logging.LeveledLogger
}

// New allocates a Controller for one conversation. Mirrors the host
// API's alloc(convid, self_user, self_client, is_mls).
func New(cfg Config, delegate HostDelegate) (*Controller, error) {
	cfg = cfg.withDefaults()
	if cfg.SessionFactory == nil {
		return nil, ErrNoSession
	}

	c := &Controller{
		cfg:       cfg,
		delegate:  delegate,
		id:        newSessionID(),
		state:     StateIdle,
		videoReqs: make(map[string]string),
		log:       cfg.LoggerFactory.NewLogger("ccall"),
	}
	c.keystore = keystore.New(keystore.Config{LoggerFactory: cfg.LoggerFactory})
	c.userlist = userlist.New(userlist.Config{LoggerFactory: cfg.LoggerFactory})
	return c, nil
}

// SetSFTConfig installs the federation/TURN configuration fetched by
// the host (set_config).
func (c *Controller) SetSFTConfig(sftCfg SFTConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowedSFTs = append([]string(nil), sftCfg.AllowedSFTs...)
	c.turnServers = append([]icall.ICEServer(nil), sftCfg.TurnServers...)

	if c.state == StateWaitConfig || c.state == StateWaitConfigOutgoing {
		c.enterConnSentLocked()
	}
}

// AddTurnServer registers one additional TURN/STUN server.
func (c *Controller) AddTurnServer(srv icall.ICEServer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnServers = append(c.turnServers, srv)
	if c.session != nil {
		c.session.AddTurnServer(srv)
	}
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins an outgoing call (host API start()).
func (c *Controller) Start(callType CallType, cbr bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrWrongState
	}

	c.isCaller = true
	c.callType = callType
	c.cbr = cbr
	c.secret = randomSecret()
	c.sftTimestamp = nowMillis()
	c.sftSeqno = 0
	c.userlist.SetSelf(userlist.RealIdentity{UserID: c.cfg.SelfUserID, ClientID: c.cfg.SelfClient}, c.secret)
	c.keystore.SetSalt(c.sessionHash())
	c.state = StateWaitConfigOutgoing
	c.log.Infof("start: id=%s convid=%s callType=%v", c.id, c.cfg.ConvIDHash, callType)
	return nil
}

// sessionHash is the HKDF salt used to derive per-member media keys:
// the conversation hash mixed with the call's negotiated secret, so a
// rejoined call with a fresh secret never reuses a media key.
func (c *Controller) sessionHash() []byte {
	return append([]byte(c.cfg.ConvIDHash+"|"), c.secret...)
}

// Answer accepts an incoming call (host API answer()).
func (c *Controller) Answer(callType CallType, cbr bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIncoming {
		return ErrWrongState
	}
	c.callType = callType
	c.cbr = cbr
	c.timers.stopRing()
	c.timers.stopOngoing()
	c.state = StateWaitConfig
	if c.delegate != nil {
		c.delegate.OnAnswer()
	}
	return nil
}

// Reject declines an incoming call (host API reject()).
func (c *Controller) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIncoming {
		return ErrWrongState
	}
	c.sendLocked(&sigcodec.Message{Type: sigcodec.TypeReject, SessID: c.cfg.ConvIDHash, Src: c.selfUserClient()}, nil, false)
	c.enterIdleLocked(ReasonRejected)
	return nil
}

// End terminates an active or pending call locally (host API end()).
func (c *Controller) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return
	}
	c.state = StateTerminating
	if c.sftURL != "" {
		c.sftLocked(c.sftURL, &sigcodec.Message{Type: sigcodec.TypeConfEnd})
	}
	if c.session != nil {
		_ = c.session.Close(icall.CloseNormal)
	}
	c.enterIdleLocked(ReasonNormal)
}

// Activate toggles whether this conversation's UI is foregrounded;
// mirrors host API activate(handle, bool). Used by the host to decide
// whether to keep decoders warm for background calls; the controller
// itself only tracks the flag for get_members bookkeeping.
func (c *Controller) Activate(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = active
}

// Restart forces a reconnect cycle from ACTIVE (host API restart()).
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return ErrWrongState
	}
	c.beginReconnectLocked()
	return nil
}

// GetMembers returns the reconciled roster, ordered by SFT position.
func (c *Controller) GetMembers() []userlist.User {
	return c.userlist.Members()
}

func (c *Controller) selfUserClient() sigcodec.UserClient {
	return sigcodec.UserClient{UserID: c.cfg.SelfUserID, ClientID: c.cfg.SelfClient}
}

// enterIdleLocked resets all per-call state and fires OnClose/OnLeave
// with the same reason. Transitions into IDLE always clear sft_url,
// reset keygenerator, reset the key store, cancel all timers and clear
// the session-hash salt.
func (c *Controller) enterIdleLocked(reason Reason) {
	c.enterIdleWithReasons(reason, reason)
}

// enterIdleWithReasons is enterIdleLocked's general form: the close and
// leave callbacks can report distinct reasons (e.g. a reconnect giving
// up closes with TIMEOUT but leaves with STILL_ONGOING, per §7). Each
// callback fires exactly once.
func (c *Controller) enterIdleWithReasons(closeReason, leaveReason Reason) {
	c.timers.stopAll()
	c.sftURL = ""
	c.sftList = nil
	c.sftTuple = nil
	c.secret = nil
	c.keystore.Reset()
	c.userlist.Reset()
	c.missingPings = 0
	c.reconnectAttempts = 0
	c.everJoined = false
	c.haveSeenPart = false
	c.videoReqs = make(map[string]string)
	c.session = nil

	wasIdle := c.state == StateIdle
	c.state = StateIdle
	if !wasIdle {
		c.log.Infof("idle: id=%s close=%v leave=%v", c.id, closeReason, leaveReason)
		if c.delegate != nil {
			c.delegate.OnClose(closeReason)
			c.delegate.OnLeave(leaveReason)
		}
	}
}

func randomSecret() []byte {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return b
}

func newSessionID() string {
	return uuid.NewString()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func closeReasonToReason(r icall.CloseReason) Reason {
	switch r {
	case icall.CloseNormal:
		return ReasonNormal
	case icall.CloseError:
		return ReasonError
	case icall.CloseTimeout:
		return ReasonTimeout
	case icall.CloseLostMedia:
		return ReasonLostMedia
	case icall.CloseCanceled:
		return ReasonCanceled
	case icall.CloseAnsweredElsewhere:
		return ReasonAnsweredElsewhere
	case icall.CloseIOError:
		return ReasonIOError
	case icall.CloseStillOngoing:
		return ReasonStillOngoing
	case icall.CloseRejected:
		return ReasonRejected
	case icall.CloseOutdatedClient:
		return ReasonOutdatedClient
	case icall.CloseAuthFailed:
		return ReasonAuthFailed
	case icall.CloseAuthFailedStart:
		return ReasonAuthFailedStart
	case icall.CloseNooneJoined:
		return ReasonNooneJoined
	case icall.CloseEveryoneLeft:
		return ReasonEveryoneLeft
	default:
		return ReasonError
	}
}
