// Package userlist reconciles the three authoritative views of call
// membership: the SFT's live CONF_PART roster, the messaging backend's
// authorized SE list, and the local user, into one roster; it also
// elects the keygenerator, tracks MLS epochs per member, and merges
// audio-level updates.
package userlist

import "github.com/avsconf/ccall/pkg/icall"

// RealIdentity is a user id + client id pair as known by the
// messaging backend.
type RealIdentity struct {
	UserID   string
	ClientID string
}

// HashIdentity is the derived identity carried on the wire: a keyed
// hash of the user id, paired with the fixed client-id hash "_".
type HashIdentity struct {
	UserIDHash   string
	ClientIDHash string
}

// fixedClientIDHash is the constant client-id hash every user's
// HashIdentity carries; only the user id is hashed.
const fixedClientIDHash = "_"

// User is one roster entry: a participant the controller knows about
// either from the SFT list, the SE list, or both.
type User struct {
	// Real is nil for a "hash-only" user: one seen in the SFT list with
	// no matching SE list entry yet.
	Real *RealIdentity
	Hash HashIdentity

	SSRCAudio uint32
	SSRCVideo uint32
	VState    icall.VideoState
	Muted     bool

	LatestEpoch uint32
	FirstEpoch  uint32

	InCallNow  bool
	InCallPrev bool
	SEApproved bool
	InSubconv  bool

	NeedsKey     bool
	ForceDecoder bool
	ActiveAudio  bool

	Position int

	audioLevel         int
	audioLevelSmoothed int
}

// isApproved reports whether this user may become keygenerator: self
// or already confirmed by the SE list.
func (u *User) isApproved(isSelf bool) bool {
	return isSelf || u.SEApproved
}
