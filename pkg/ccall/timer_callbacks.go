package ccall

import (
	"time"

	"github.com/avsconf/ccall/pkg/icall"
	"github.com/avsconf/ccall/pkg/sigcodec"
)

func (c *Controller) onConnectTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnSent && c.state != StateWaitConfig && c.state != StateWaitConfigOutgoing {
		return
	}
	c.beginReconnectLocked()
}

func (c *Controller) onOngoingTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIncoming {
		c.enterIdleLocked(ReasonTimeout)
	}
}

func (c *Controller) onRingTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers.stopRing()
}

// onAloneTimeout fires when a solo participant has waited too long for
// company: ENOONEJOINED if nobody ever joined, EEVERYONELEFT otherwise.
func (c *Controller) onAloneTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive && c.state != StateConnected {
		return
	}
	reason := ReasonNooneJoined
	if c.everJoined {
		reason = ReasonEveryoneLeft
	}
	if c.session != nil {
		_ = c.session.Close(icall.CloseNormal)
	}
	c.enterIdleLocked(reason)
}

// onSendCheckTimeout emits a periodic CONF_CHECK while keygenerator.
func (c *Controller) onSendCheckTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || !c.userlist.IsSelfKeygenerator() {
		return
	}
	c.sendLocked(&sigcodec.Message{
		Type:      sigcodec.TypeConfCheck,
		Timestamp: c.sftTimestamp,
		Seqno:     c.sftSeqno,
		SFTURL:    c.sftURL,
		SFTList:   c.sftList,
	}, nil, false)
	c.armTimer(&c.timers.sendCheck, timerSendCheck, c.onSendCheckTimeout)
}

// onRotateKeyTimeout advances the non-MLS session key's current/next
// pointer while keygenerator.
func (c *Controller) onRotateKeyTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.cfg.IsMLS || !c.userlist.IsSelfKeygenerator() {
		return
	}
	if _, ok := c.keystore.GetNext(); !ok {
		c.generateFreshKeyLocked()
	}
	c.keystore.Rotate()
	c.armTimer(&c.timers.rotateKey, timerRotateKey, c.onRotateKeyTimeout)
}

// onRotateMLSTimeout retires MLS keys older than the staleness
// threshold and asks the host to advance the epoch when needed.
func (c *Controller) onRotateMLSTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || !c.cfg.IsMLS {
		return
	}
	c.keystore.RotateByTime(mlsEpochMaxAge)
	if !c.epochInstalledAt.IsZero() && time.Since(c.epochInstalledAt) > mlsEpochStaleHint {
		if c.delegate != nil {
			c.delegate.OnReqNewEpoch()
		}
	}
	c.armTimer(&c.timers.rotateMLS, timerRotateMLS, c.onRotateMLSTimeout)
}

// onDecryptCheckTimeout inspects key-material liveness and requests a
// fresh key when decryption has stalled.
func (c *Controller) onDecryptCheckTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return
	}
	defer c.armTimer(&c.timers.decryptChk, timerDecryptChk, c.onDecryptCheckTimeout)

	if !c.haveSeenPart {
		c.beginReconnectLocked()
		return
	}
	if _, ok := c.userlist.Keygenerator(); !ok {
		return
	}
	if c.userlist.IsSelfKeygenerator() {
		return
	}
	attempted, successful := c.keystore.GetDecryptStates()
	if !c.keystore.HasKeys() || (attempted && !successful) {
		c.requestKeyLocked()
	}
}

// onKeepaliveTimeout pings the data channel and tracks missed pongs.
func (c *Controller) onKeepaliveTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.session == nil {
		return
	}
	c.missingPings++
	if c.missingPings >= maxMissingPings {
		c.beginReconnectLocked()
		return
	}
	if c.cfg.DegradeOnLoss && c.missingPings == 3 {
		c.degradeVideoRequestsLocked()
	}
	_ = c.session.DCESend([]byte(`{"type":"PING"}`))
	c.armTimer(&c.timers.keepalive, timerKeepalive, c.onKeepaliveTimeout)
}

// onPong resets the missing-ping counter on a keepalive reply.
func (c *Controller) onPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missingPings = 0
}
