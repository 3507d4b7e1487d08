package ccall

import (
	"context"

	"github.com/avsconf/ccall/pkg/icall"
	"github.com/avsconf/ccall/pkg/keystore"
	"github.com/avsconf/ccall/pkg/sigcodec"
)

// sftStatusNetworkFailureBase is the extended HTTP status range the
// SFT wire path uses to signal a network failure rather than an
// application-level rejection.
const sftStatusNetworkFailureBase = 1000

// SFTMsgRecv delivers the SFT's response to a prior OnSFT request
// (host API sft_msg_recv). status is the HTTP status code, or a value
// >= 1000 when the host could not complete the HTTP request at all.
func (c *Controller) SFTMsgRecv(status int, msg *sigcodec.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if status >= sftStatusNetworkFailureBase {
		c.enterIdleLocked(ReasonError)
		return nil
	}
	if status >= 400 {
		return c.handleSFTRejectionLocked(status, msg)
	}
	if msg == nil {
		return nil
	}

	switch msg.Type {
	case sigcodec.TypeSetup, sigcodec.TypeUpdate:
		c.handleSetupLocked(msg)
	case sigcodec.TypeConfPart:
		c.handleConfPartLocked(msg)
	}
	return nil
}

func (c *Controller) handleSFTRejectionLocked(status int, msg *sigcodec.Message) error {
	reason := ReasonError
	switch {
	case status == 403:
		reason = ReasonAuthFailed
	case status == 409:
		reason = ReasonOutdatedClient
	case msg != nil && msg.Reason == "cant-start":
		reason = ReasonAuthFailedStart
	}
	c.enterIdleLocked(reason)
	return nil
}

// handleSetupLocked locks in the responding SFT and drives the wrapped
// session through the offer/answer exchange it carries.
func (c *Controller) handleSetupLocked(msg *sigcodec.Message) {
	if c.state != StateConnSent {
		// A stale SETUP from an SFT we didn't end up selecting.
		if c.sftURL != "" && msg.URL != c.sftURL {
			return
		}
	}
	c.timers.stopConnect()
	c.sftURL = msg.URL
	c.state = StateSetupRecv

	if c.session == nil {
		c.session = c.cfg.SessionFactory(c)
		for _, t := range c.turnServers {
			c.session.AddTurnServer(t)
		}
		if keyed, ok := c.session.(icall.KeyedSession); ok {
			c.keystore.AddListener(func(cur keystore.SessionKey) {
				go func() {
					if media, err := c.keystore.DeriveMediaKey(cur); err == nil {
						keyed.ApplyMediaKey(cur.Index, media)
					}
				}()
			})
		}
	}

	isOffer := msg.Type == sigcodec.TypeSetup
	answer, err := c.session.HandleSetup(msg.SDP, isOffer)
	if err != nil {
		c.log.Errorf("handle setup: %v", err)
		c.enterIdleLocked(ReasonError)
		return
	}
	if answer != "" {
		c.sftLocked(c.sftURL, &sigcodec.Message{Type: sigcodec.TypeUpdate, SDP: answer, URL: c.sftURL})
	}

	c.state = StateConnecting
	if err := c.session.Start(context.Background()); err != nil {
		c.log.Errorf("start session: %v", err)
		c.enterIdleLocked(ReasonError)
	}
}
