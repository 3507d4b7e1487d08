package ccall

import (
	"crypto/rand"

	"github.com/avsconf/ccall/pkg/icall"
	"github.com/avsconf/ccall/pkg/sigcodec"
)

// generateFreshKeyLocked installs a brand-new session key at the next
// free index, mixing in the latest CONF_PART entropy so the SFT
// contributes to key freshness without being able to predict keys
// alone.
func (c *Controller) generateFreshKeyLocked() {
	idx := c.keystore.NextIndex()
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		c.log.Errorf("generate session key: %v", err)
		return
	}
	if err := c.keystore.SetFreshSessionKey(idx, key, c.lastEntropy); err != nil {
		c.log.Errorf("install fresh key idx=%#x: %v", idx, err)
	}
}

// handleConfPartLocked applies one CONF_PART roster snapshot
// (§4.1.4): entropy capture, alone-timer arming, roster reconciliation,
// keygenerator bookkeeping, key distribution and SE-list refresh.
func (c *Controller) handleConfPartLocked(msg *sigcodec.Message) {
	c.haveSeenPart = true
	c.lastEntropy = append([]byte(nil), msg.Entropy...)

	if msg.SFTList != nil && !stringsEqual(msg.SFTList, c.sftList) {
		c.sftList = msg.SFTList
	}

	if len(msg.Parts) <= 1 {
		if c.timers.alone == nil {
			c.armTimer(&c.timers.alone, timerAlone, c.onAloneTimeout)
		}
		// A lone participant with no ordering timestamp of its own (e.g.
		// one that only ever answered) would lose every ordering contest
		// by default; claim one now and announce it with a CONF_START
		// unless the host disabled this.
		if msg.ShouldStart && c.sftTimestamp == 0 && !c.cfg.DisableForceStartOnSoloZeroTS {
			c.sftTimestamp = nowMillis()
			c.sendLocked(&sigcodec.Message{
				Type:      sigcodec.TypeConfStart,
				Timestamp: c.sftTimestamp,
				Seqno:     c.sftSeqno,
				Secret:    c.secret,
				SFTURL:    c.sftURL,
				SFTTuple:  c.sftTuple,
				SFTList:   c.sftList,
			}, nil, false)
		}
	} else {
		c.everJoined = true
		c.timers.stopAlone()
	}

	res, err := c.userlist.ReconcileSFT(msg.Parts)
	if err != nil {
		c.log.Errorf("reconcile sft list: %v", err)
		return
	}

	if res.SelfChanged && c.session != nil {
		self, _ := c.userlist.Get(c.userlist.SelfHash().UserIDHash)
		c.session.SetLocalSSRCs(icall.SSRCs{Audio: self.SSRCAudio, Video: self.SSRCVideo})
	}

	if res.KeygeneratorChanged && res.Keygenerator == c.userlist.SelfHash().UserIDHash && !c.cfg.IsMLS {
		if !c.keystore.HasKeys() {
			c.generateFreshKeyLocked()
		} else {
			c.keystore.MarkNewGeneration()
		}
	}

	listChanged := len(res.Added) > 0 || len(res.Removed) > 0
	if listChanged && c.userlist.IsSelfKeygenerator() && !c.cfg.IsMLS {
		if len(res.Removed) > 0 {
			c.keystore.MarkNewGeneration()
			c.armTimer(&c.timers.rotateKey, timerRotateFirst, c.onRotateKeyTimeout)
		}
		for _, hash := range res.Added {
			u, ok := c.userlist.Get(hash)
			if !ok || u.Real == nil {
				continue
			}
			c.sendKeyResponseLocked([]sigcodec.UserClient{{UserID: u.Real.UserID, ClientID: u.Real.ClientID}})
		}
	}

	if listChanged && c.delegate != nil {
		c.delegate.OnGroupChanged()
	}

	if res.MissingParts && c.delegate != nil {
		c.delegate.OnReqClients()
	}
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
