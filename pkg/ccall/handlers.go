package ccall

import (
	"strings"
	"time"

	"github.com/avsconf/ccall/pkg/icall"
	"github.com/avsconf/ccall/pkg/keystore"
	"github.com/avsconf/ccall/pkg/sigcodec"
	"github.com/avsconf/ccall/pkg/userlist"
)

// maxSFTCandidates bounds how many SFTs get a parallel CONF_CONN.
const maxSFTCandidates = 3

// sendLocked hands a message to the host for signalling delivery.
func (c *Controller) sendLocked(msg *sigcodec.Message, targets []sigcodec.UserClient, myClientsOnly bool) {
	if c.delegate == nil {
		return
	}
	msg.SessID = c.cfg.ConvIDHash
	msg.Src = c.selfUserClient()
	c.delegate.OnSend(msg, targets, myClientsOnly)
}

// sftLocked hands a message to the host for delivery to the current
// (or candidate) SFT over HTTP.
func (c *Controller) sftLocked(sftURL string, msg *sigcodec.Message) {
	if c.delegate == nil {
		return
	}
	msg.SessID = c.cfg.ConvIDHash
	msg.Src = c.selfUserClient()
	c.delegate.OnSFT(sftURL, msg)
}

// enterConnSentLocked picks SFT candidates and sends CONF_CONN to each
// in parallel, starting the connect timer. Preference is given to SFTs
// already advertised by the call (c.sftList), then the configured
// federation list.
func (c *Controller) enterConnSentLocked() {
	candidates := dedupeTrailingSlash(c.sftList)
	if len(candidates) == 0 {
		candidates = dedupeTrailingSlash(c.allowedSFTs)
	}
	candidates = filterAllowed(candidates, c.allowedSFTs)
	if len(candidates) > maxSFTCandidates {
		candidates = candidates[:maxSFTCandidates]
	}

	c.state = StateConnSent
	for _, url := range candidates {
		c.sftLocked(url, &sigcodec.Message{
			Type:           sigcodec.TypeConfConn,
			SFTURL:         firstNonEmpty(c.sftURL, url),
			SFTTuple:       c.sftTuple,
			TurnServers:    turnServersToWire(c.turnServers),
			Tool:           "ccall",
			Env:            "prod",
			SelectiveAudio: true,
			SelectiveVideo: true,
			VStreams:       8,
			UpdateConn:     c.everJoined,
		})
	}

	c.armTimer(&c.timers.connect, timerConnect, c.onConnectTimeout)
}

func dedupeTrailingSlash(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimRight(s, "/")
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func filterAllowed(candidates, allowed []string) []string {
	if len(allowed) == 0 {
		return candidates
	}
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[strings.TrimRight(a, "/")] = true
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if set[c] {
			out = append(out, c)
		}
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func turnServersToWire(servers []icall.ICEServer) []sigcodec.TurnServer {
	out := make([]sigcodec.TurnServer, len(servers))
	for i, s := range servers {
		out[i] = sigcodec.TurnServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential}
	}
	return out
}

// MsgRecv handles one signalling-channel message (host API msg_recv).
func (c *Controller) MsgRecv(now, msgTime time.Time, from sigcodec.UserClient, msg *sigcodec.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	age := now.Sub(msgTime)
	msg.SetAge(age)

	switch msg.Type {
	case sigcodec.TypeConfStart, sigcodec.TypeConfCheck:
		c.handleStartOrCheckLocked(from, msg, age)
	case sigcodec.TypeConfKey:
		c.handleConfKeyLocked(from, msg)
	case sigcodec.TypeReject:
		if c.state != StateIdle {
			c.enterIdleLocked(ReasonRejected)
		}
	case sigcodec.TypeConfEnd:
		if from != c.selfUserClient() {
			c.handlePeerEndLocked()
		}
	}
	return nil
}

const maxIncomingAge = 120 * time.Second
const ringableAge = 30 * time.Second

// handleStartOrCheckLocked applies the ordering contest of §4.1.3 and,
// from IDLE, offers the call up to the host as incoming.
func (c *Controller) handleStartOrCheckLocked(from sigcodec.UserClient, msg *sigcodec.Message, age time.Duration) {
	isSelf := from == c.selfUserClient()

	switch c.state {
	case StateIdle:
		if isSelf || age > maxIncomingAge {
			return
		}
		c.secret = msg.Secret
		c.sftList = msg.SFTList
		c.sftTuple = msg.SFTTuple
		c.sftTimestamp = msg.Timestamp
		c.sftSeqno = msg.Seqno
		c.userlist.SetSelf(userlist.RealIdentity{UserID: c.cfg.SelfUserID, ClientID: c.cfg.SelfClient}, c.secret)
		c.keystore.SetSalt(c.sessionHash())
		c.state = StateIncoming
		c.timers.ongoing = time.AfterFunc(timerOngoing, func() { c.onOngoingTimeout() })
		shouldRing := !isSelf && age < ringableAge
		if shouldRing {
			c.timers.ring = time.AfterFunc(timerRing, func() { c.onRingTimeout() })
		}
		if c.delegate != nil {
			c.delegate.OnStart(shouldRing)
		}

	default:
		if isSelf {
			return
		}
		c.resolveOrderingLocked(msg)
	}
}

// resolveOrderingLocked implements the conflict-resolution rule: the
// earlier (timestamp, seqno) pair wins.
func (c *Controller) resolveOrderingLocked(msg *sigcodec.Message) {
	remoteEarlier := msg.Timestamp < c.sftTimestamp ||
		(msg.Timestamp == c.sftTimestamp && msg.Seqno < c.sftSeqno)
	remoteLater := msg.Timestamp > c.sftTimestamp ||
		(msg.Timestamp == c.sftTimestamp && msg.Seqno > c.sftSeqno)

	switch {
	case remoteEarlier:
		c.sftTimestamp = msg.Timestamp
		c.sftSeqno = msg.Seqno
		c.secret = msg.Secret
		c.sftTuple = msg.SFTTuple
		c.sftList = msg.SFTList
		c.keystore.Reset()
		c.userlist.SetSelf(userlist.RealIdentity{UserID: c.cfg.SelfUserID, ClientID: c.cfg.SelfClient}, c.secret)
		c.keystore.SetSalt(c.sessionHash())
		c.isCaller = false
		c.session = nil
		c.state = StateWaitConfig

	case remoteLater && c.userlist.IsSelfKeygenerator():
		c.sftSeqno++
		c.sendLocked(&sigcodec.Message{
			Type:      sigcodec.TypeConfStart,
			Timestamp: c.sftTimestamp,
			Seqno:     c.sftSeqno,
			Secret:    c.secret,
			SFTURL:    c.sftURL,
			SFTList:   c.sftList,
		}, nil, false)

	default:
		// Equal, or remote later and self is not keygenerator: ignore.
	}
}

func (c *Controller) handlePeerEndLocked() {
	if c.state != StateIdle {
		c.enterIdleLocked(ReasonNormal)
	}
}

// handleConfKeyLocked installs keys carried by a CONF_KEY message, or
// (when it targets self and carries no keys) answers a key request as
// keygenerator.
func (c *Controller) handleConfKeyLocked(from sigcodec.UserClient, msg *sigcodec.Message) {
	if len(msg.Keys) == 0 {
		if c.userlist.IsSelfKeygenerator() {
			c.sendKeyResponseLocked([]sigcodec.UserClient{from})
		}
		return
	}
	for _, ke := range msg.Keys {
		var key [32]byte
		copy(key[:], ke.Key)
		err := c.keystore.SetSessionKey(ke.Index, key)
		if err != nil && err != keystore.ErrAlready {
			c.log.Debugf("install key idx=%#x: %v", ke.Index, err)
		}
	}
}

// sendKeyResponseLocked sends the current (and, if present, next) key
// to the given targets. Called by the keygenerator on new entrants and
// on explicit CONF_KEY requests.
func (c *Controller) sendKeyResponseLocked(targets []sigcodec.UserClient) {
	var entries []sigcodec.KeyEntry
	if cur, ok := c.keystore.CurrentEntry(); ok {
		entries = append(entries, sigcodec.KeyEntry{Index: cur.Index, Key: cur.Key[:]})
	}
	if next, ok := c.keystore.NextEntry(); ok {
		entries = append(entries, sigcodec.KeyEntry{Index: next.Index, Key: next.Key[:]})
	}
	if len(entries) == 0 {
		return
	}
	c.sendLocked(&sigcodec.Message{Type: sigcodec.TypeConfKey, Keys: entries}, targets, false)
}

// requestKeyLocked asks the keygenerator for fresh key material.
func (c *Controller) requestKeyLocked() {
	genHash, ok := c.userlist.Keygenerator()
	if !ok {
		return
	}
	u, ok := c.userlist.Get(genHash)
	if !ok || u.Real == nil {
		return
	}
	c.sendLocked(&sigcodec.Message{Type: sigcodec.TypeConfKey},
		[]sigcodec.UserClient{{UserID: u.Real.UserID, ClientID: u.Real.ClientID}}, false)
}

// beginReconnectLocked stops the active-state timers, clears the video
// request list and the missing-ping count, and re-enters CONNSENT with
// the previously selected SFT. The roster is left as it is: no user's
// in-call state or ForceDecoder flag is changed here.
func (c *Controller) beginReconnectLocked() {
	if c.reconnectAttempts >= maxReconnectTries {
		c.enterIdleWithReasons(ReasonTimeout, ReasonStillOngoing)
		return
	}
	c.reconnectAttempts++
	c.timers.stopActiveSet()
	c.videoReqs = make(map[string]string)
	c.missingPings = 0

	c.state = StateConnSent
	c.sftLocked(c.sftURL, &sigcodec.Message{
		Type:        sigcodec.TypeConfConn,
		SFTURL:      c.sftURL,
		SFTTuple:    c.sftTuple,
		TurnServers: turnServersToWire(c.turnServers),
		Tool:        "ccall",
		Env:         "prod",
		UpdateConn:  true,
	})
	c.armTimer(&c.timers.connect, timerConnect, c.onConnectTimeout)
}
