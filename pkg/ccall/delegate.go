package ccall

import (
	"github.com/avsconf/ccall/pkg/icall"
	"github.com/avsconf/ccall/pkg/sigcodec"
)

// HostDelegate receives every core-to-host callback the controller
// produces. A host implements this once per process and registers it
// on every Controller it allocates.
type HostDelegate interface {
	// OnStart fires for an incoming call (someone else's CONF_START or
	// CONF_CHECK observed from IDLE). shouldRing is true when the
	// message is fresh enough, and not self-originated, to ring.
	OnStart(shouldRing bool)
	// OnAnswer fires once answer() has been accepted and the join flow begins.
	OnAnswer()

	OnMediaEstablished()
	OnAudioEstablished()
	OnDataChanEstablished()

	OnClose(reason Reason)
	// OnLeave fires once the call has fully unwound back to idle after a
	// close, distinct from OnClose which fires as the reason becomes
	// known.
	OnLeave(reason Reason)

	OnQuality(upKbps, downKbps float32, rttMs int)
	OnGroupChanged()
	OnVStateChanged(userHash string, state icall.VideoState)
	OnAudioLevel(changedHashes []string)

	// OnReqClients asks the host to refresh the SE list (set_clients)
	// because the SFT roster contains a member the local SE list hasn't
	// reported yet.
	OnReqClients()
	// OnReqNewEpoch asks the host to advance the MLS epoch because the
	// current one has been in use longer than the staleness threshold.
	OnReqNewEpoch()

	// OnSend asks the host to deliver msg over the signalling transport.
	// targets is empty for a broadcast to the conversation; when
	// non-empty, myClientsOnly restricts delivery to the sender's own
	// other clients.
	OnSend(msg *sigcodec.Message, targets []sigcodec.UserClient, myClientsOnly bool)
	// OnSFT asks the host to POST msg to sftURL and feed the response
	// back through Controller.SFTMsgRecv.
	OnSFT(sftURL string, msg *sigcodec.Message)
}
