package ccall

import "github.com/avsconf/ccall/pkg/icall"

// OnDataChannelEstablished implements icall.Delegate: CONNECTING ->
// CONNECTED, and arms the ACTIVE-state timer set.
func (c *Controller) OnDataChannelEstablished(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting && c.state != StateSetupRecv {
		return
	}
	c.state = StateConnected
	if c.delegate != nil {
		c.delegate.OnDataChanEstablished()
	}
	c.armActiveTimersLocked()
}

// OnEstablished implements icall.Delegate: media flowing, CONNECTED ->
// ACTIVE.
func (c *Controller) OnEstablished(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateActive
	c.reconnectAttempts = 0
	if c.delegate != nil {
		c.delegate.OnMediaEstablished()
		c.delegate.OnAudioEstablished()
	}
}

// OnClosed implements icall.Delegate. CloseAgain/CloseNotConnected are
// reconnect triggers, not terminations; everything else tears the call
// down with the mapped reason.
func (c *Controller) OnClosed(sessionID string, reason icall.CloseReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reason == icall.CloseAgain || reason == icall.CloseNotConnected {
		c.beginReconnectLocked()
		return
	}
	c.enterIdleLocked(closeReasonToReason(reason))
}

// OnQuality implements icall.Delegate, forwarding quality samples and
// evaluating the (disabled by default) degrade-on-loss path.
func (c *Controller) OnQuality(sessionID string, upKbps, downKbps float32, rttMs int, downLossPct float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delegate != nil {
		c.delegate.OnQuality(upKbps, downKbps, rttMs)
	}
	if c.cfg.DegradeOnLoss && downLossPct > 20 {
		c.degradeVideoRequestsLocked()
	}
}

func (c *Controller) armActiveTimersLocked() {
	c.armTimer(&c.timers.keepalive, timerKeepalive, c.onKeepaliveTimeout)
	c.armTimer(&c.timers.decryptChk, timerDecryptChk, c.onDecryptCheckTimeout)
	if c.cfg.IsMLS {
		c.armTimer(&c.timers.rotateMLS, timerRotateMLS, c.onRotateMLSTimeout)
	} else if c.userlist.IsSelfKeygenerator() {
		c.armTimer(&c.timers.rotateKey, timerRotateFirst, c.onRotateKeyTimeout)
	}
	if c.userlist.IsSelfKeygenerator() {
		c.armTimer(&c.timers.sendCheck, timerSendCheck, c.onSendCheckTimeout)
	}
}
