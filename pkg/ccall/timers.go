package ccall

import "time"

const (
	timerConnect     = 15 * time.Second
	timerOngoing     = 90 * time.Second
	timerRing        = 30 * time.Second
	timerSendCheck   = 60 * time.Second
	timerRotateKey   = 30 * time.Second
	timerRotateFirst = 5 * time.Second
	timerRotateMLS   = 10 * time.Second
	timerDecryptChk  = 5 * time.Second
	timerKeepalive   = 5 * time.Second
	timerAlone       = 60 * time.Second

	// mlsEpochMaxAge is how long an MLS key may serve as current before
	// rotate_by_time retires it.
	mlsEpochMaxAge = 10 * time.Second
	// mlsEpochStaleHint is how long the current epoch may be in use
	// before req_new_epoch asks the host to advance MLS.
	mlsEpochStaleHint = 10 * time.Second

	maxMissingPings   = 4
	maxReconnectTries = 3
)

// timerSet is the named-timer table driving one call. Each field is
// armed with time.AfterFunc and stopped on transition, the same
// pattern the retransmit table uses for per-message timeouts.
type timerSet struct {
	connect     *time.Timer
	ongoing     *time.Timer
	ring        *time.Timer
	sendCheck   *time.Timer
	rotateKey   *time.Timer
	rotateMLS   *time.Timer
	decryptChk  *time.Timer
	keepalive   *time.Timer
	alone       *time.Timer
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// stopAll cancels every armed timer. Called on every transition into
// IDLE; a reconnect into CONNSENT uses stopActiveSet instead.
func (t *timerSet) stopAll() {
	stopTimer(t.connect)
	stopTimer(t.ongoing)
	stopTimer(t.ring)
	stopTimer(t.sendCheck)
	stopTimer(t.rotateKey)
	stopTimer(t.rotateMLS)
	stopTimer(t.decryptChk)
	stopTimer(t.keepalive)
	stopTimer(t.alone)
	*t = timerSet{}
}

// armTimer stops whatever timer currently occupies slot and arms a
// fresh one, calling back into the controller under its own lock.
func (c *Controller) armTimer(slot **time.Timer, d time.Duration, fn func()) {
	stopTimer(*slot)
	*slot = time.AfterFunc(d, fn)
}

func (t *timerSet) stopConnect()    { stopTimer(t.connect); t.connect = nil }
func (t *timerSet) stopOngoing()    { stopTimer(t.ongoing); t.ongoing = nil }
func (t *timerSet) stopRing()       { stopTimer(t.ring); t.ring = nil }
func (t *timerSet) stopAlone()      { stopTimer(t.alone); t.alone = nil }
func (t *timerSet) stopActiveSet() {
	stopTimer(t.sendCheck)
	stopTimer(t.rotateKey)
	stopTimer(t.rotateMLS)
	stopTimer(t.decryptChk)
	stopTimer(t.keepalive)
	stopTimer(t.alone)
	t.sendCheck, t.rotateKey, t.rotateMLS, t.decryptChk, t.keepalive, t.alone = nil, nil, nil, nil, nil, nil
}
