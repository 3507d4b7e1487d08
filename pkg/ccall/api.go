package ccall

import (
	"time"

	"github.com/avsconf/ccall/pkg/icall"
	"github.com/avsconf/ccall/pkg/keystore"
	"github.com/avsconf/ccall/pkg/sigcodec"
	"github.com/avsconf/ccall/pkg/userlist"
)

// SetClients folds a refreshed SE list into the roster (host API
// set_clients). A peer losing se_approved status triggers a faster key
// rotation when self is keygenerator and the call isn't MLS.
func (c *Controller) SetClients(clients []userlist.SEClient, epoch uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.userlist.ReconcileSE(clients, epoch)
	if err != nil {
		return err
	}
	if len(res.Demoted) > 0 && c.userlist.IsSelfKeygenerator() && !c.cfg.IsMLS {
		c.keystore.MarkNewGeneration()
		c.armTimer(&c.timers.rotateKey, timerRotateFirst, c.onRotateKeyTimeout)
	}
	isKeygen := c.userlist.IsSelfKeygenerator()
	for _, hash := range res.Promoted {
		u, ok := c.userlist.Get(hash)
		if !ok || !u.InCallNow || u.Real == nil {
			continue
		}
		c.userlist.SetNeedsKey(hash, true)
		if isKeygen {
			c.sendKeyResponseLocked([]sigcodec.UserClient{{UserID: u.Real.UserID, ClientID: u.Real.ClientID}})
			c.userlist.SetNeedsKey(hash, false)
		}
	}
	return nil
}

// SetMediaKey installs an MLS epoch key (host API set_media_key,
// MLS-only): the key is installed at index = epoch, latest_epoch is
// recorded, a props sync is pushed so peers see keysync, and the key
// store is nudged to retire any key older than the staleness window.
func (c *Controller) SetMediaKey(epoch uint32, key [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfg.IsMLS {
		return ErrNotMLS
	}
	if err := c.keystore.SetSessionKey(epoch, key); err != nil && err != keystore.ErrAlready {
		return err
	}
	c.localEpoch = epoch
	c.epochInstalledAt = time.Now()
	c.userlist.SetLatestEpoch(c.userlist.SelfHash().UserIDHash, epoch)
	c.keystore.RotateByTime(mlsEpochMaxAge)
	c.sendPropsSyncLocked()
	return nil
}

// SetVState requests a local video-state change, propagated through
// the wrapped session and mirrored to peers via props sync.
func (c *Controller) SetVState(state icall.VideoState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		if err := c.session.SetVideoState(state); err != nil {
			return err
		}
	}
	c.sendPropsSyncLocked()
	return nil
}

// RequestVideoStreams records the host's desired (user, client,
// quality) subscriptions and asks the SFT to forward them (host API
// request_video_streams).
func (c *Controller) RequestVideoStreams(reqs []sigcodec.StreamRequest, mode string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.videoReqs = make(map[string]string, len(reqs))
	for _, r := range reqs {
		c.videoReqs[r.UserIDHash] = r.Quality
	}
	if c.sftURL == "" {
		return nil
	}
	c.sftLocked(c.sftURL, &sigcodec.Message{Type: sigcodec.TypeConfStreams, Mode: mode, Streams: reqs})
	return nil
}

// degradeVideoRequestsLocked downgrades HIGH requests to LOW and
// re-sends CONF_STREAMS; only reachable when Config.DegradeOnLoss is set.
func (c *Controller) degradeVideoRequestsLocked() {
	var degraded []sigcodec.StreamRequest
	changed := false
	for hash, quality := range c.videoReqs {
		if quality == "high" {
			quality = "low"
			changed = true
		}
		degraded = append(degraded, sigcodec.StreamRequest{UserIDHash: hash, Quality: quality})
		c.videoReqs[hash] = quality
	}
	if changed && c.sftURL != "" {
		c.sftLocked(c.sftURL, &sigcodec.Message{Type: sigcodec.TypeConfStreams, Mode: "list", Streams: degraded})
	}
}

// UpdateMuteState pushes the current mute flag to peers (host API
// update_mute_state), reading it from the ambient media-system context.
func (c *Controller) UpdateMuteState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendPropsSyncLocked()
}

func (c *Controller) sendPropsSyncLocked() {
	if c.session == nil {
		return
	}
	muted := c.cfg.MediaCtx != nil && c.cfg.MediaCtx.MuteAll()
	var keySync *uint32
	if c.cfg.IsMLS {
		ep := c.localEpoch
		keySync = &ep
	}
	props := sigcodec.Props{Muted: muted, KeySync: keySync}
	payload, err := sigcodec.Encode(&sigcodec.Message{Type: sigcodec.TypeConfStart, Props: &props})
	if err != nil {
		return
	}
	_ = c.session.DCESend(payload)
}

// OnPropsRecv folds an inbound props-sync message into the roster: it
// updates the sender's video/muted state and, on an epoch change,
// triggers a local key-store re-sync (host-facing data-channel
// message, not part of the signalling codec's top-level types).
func (c *Controller) OnPropsRecv(fromHash string, props sigcodec.Props) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.userlist.Get(fromHash)
	if !ok {
		return
	}
	newState := u.VState
	if props.VideoSend {
		newState = icall.VideoStateStarted
	} else if u.VState == icall.VideoStateStarted {
		newState = icall.VideoStateStopped
	}
	c.userlist.SetVState(fromHash, newState)
	c.userlist.SetMuted(fromHash, props.Muted)
	if c.delegate != nil {
		c.delegate.OnVStateChanged(fromHash, newState)
	}
	if props.KeySync != nil {
		prevEpoch := u.LatestEpoch
		c.userlist.SetLatestEpoch(fromHash, *props.KeySync)
		if prevEpoch != *props.KeySync && c.cfg.IsMLS {
			// A peer's epoch moved: promote any pending next key right
			// away instead of waiting for the MLS rotate timer.
			c.keystore.RotateByTime(0)
		}
	}
}
