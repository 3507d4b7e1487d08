// Package sigcodec implements the wire schema for the conference
// signalling protocol: CONF_CONN, SETUP/UPDATE, CONF_START/CONF_CHECK,
// CONF_PART, CONF_KEY, CONF_STREAMS, CONF_END and REJECT, plus the
// legacy GROUP_* aliases used by the mesh path.
//
// A single flat Message struct covers every type: one JSON envelope
// with stable field names, most fields optional depending on Type.
// This mirrors the original protocol's single message-union struct and
// keeps the codec a pure (un)marshal step with no per-type Go types to
// keep in sync with the wire.
package sigcodec

import "time"

// Type is the wire message type string.
type Type string

const (
	TypeConfConn    Type = "CONF_CONN"
	TypeSetup       Type = "SETUP"
	TypeUpdate      Type = "UPDATE"
	TypeConfStart   Type = "CONF_START"
	TypeConfCheck   Type = "CONF_CHECK"
	TypeConfPart    Type = "CONF_PART"
	TypeConfKey     Type = "CONF_KEY"
	TypeConfStreams Type = "CONF_STREAMS"
	TypeConfEnd     Type = "CONF_END"
	TypeReject      Type = "REJECT"

	// Legacy mesh aliases (egcall-era wire names), decoded as their
	// CONF_* equivalent. ccall.Controller never emits these.
	typeGroupStart Type = "GROUP_START"
	typeGroupCheck Type = "GROUP_CHECK"
	typeGroupLeave Type = "GROUP_LEAVE"
)

// aliasOf returns the canonical CONF_* type for a legacy GROUP_* wire
// name, or t unchanged if it isn't an alias.
func aliasOf(t Type) Type {
	switch t {
	case typeGroupStart:
		return TypeConfStart
	case typeGroupCheck:
		return TypeConfCheck
	case typeGroupLeave:
		return TypeConfEnd
	default:
		return t
	}
}

// UserClient identifies a real user+client pair.
type UserClient struct {
	UserID   string `json:"userid"`
	ClientID string `json:"clientid"`
}

// TurnServer is a STUN/TURN descriptor forwarded to the SFT in
// CONF_CONN so it can gather ICE candidates on the client's behalf.
type TurnServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// MutedState is a tri-state: nil means "unknown, leave prior value".
type MutedState = *bool

// MemberTuple is one member entry inside a CONF_PART snapshot.
type MemberTuple struct {
	UserIDHash   string     `json:"userid_hash"`
	ClientIDHash string     `json:"clientid_hash"`
	SSRCAudio    uint32     `json:"ssrca"`
	SSRCVideo    uint32     `json:"ssrcv"`
	Muted        MutedState `json:"muted,omitempty"`
}

// KeyEntry is one (index, key) pair inside a CONF_KEY message.
type KeyEntry struct {
	Index uint32 `json:"index"`
	Key   []byte `json:"key"`
}

// StreamRequest is one entry of a CONF_STREAMS subscription list.
type StreamRequest struct {
	UserIDHash   string `json:"userid_hash"`
	ClientIDHash string `json:"clientid_hash"`
	Quality      string `json:"quality"`
}

// Props carries the small set of peer properties mirrored across the
// data channel.
type Props struct {
	VideoSend bool    `json:"videosend"`
	Muted     bool    `json:"muted"`
	KeySync   *uint32 `json:"keysync,omitempty"`
}

// Message is the single wire envelope for every CONF_*/SETUP/UPDATE/
// REJECT message. Every message carries SessID/Src/Age/Resp; the rest
// are populated per Type, grouped by the comments on the fields below.
type Message struct {
	Type   Type       `json:"type"`
	SessID string     `json:"sessid"`
	Src    UserClient `json:"src"`
	Dest   *UserClient `json:"dest,omitempty"`
	AgeSec int64      `json:"age,omitempty"`
	Resp   bool       `json:"resp,omitempty"`

	// CONF_CONN
	SFTURL         string       `json:"sft_url,omitempty"`
	SFTTuple       []byte       `json:"sft_tuple,omitempty"`
	SFTUsername    string       `json:"sft_username,omitempty"`
	SFTCredential  string       `json:"sft_credential,omitempty"`
	TurnServers    []TurnServer `json:"turnv,omitempty"`
	Tool           string       `json:"tool,omitempty"`
	Env            string       `json:"env,omitempty"`
	SelectiveAudio bool         `json:"selective_audio,omitempty"`
	SelectiveVideo bool         `json:"selective_video,omitempty"`
	VStreams       int          `json:"vstreams,omitempty"`
	UpdateConn     bool         `json:"update,omitempty"`

	// SETUP / UPDATE
	SDP string `json:"sdp,omitempty"`
	URL string `json:"url,omitempty"`

	// CONF_START / CONF_CHECK
	Timestamp int64    `json:"timestamp,omitempty"`
	Seqno     uint32   `json:"seqno,omitempty"`
	Secret    []byte   `json:"secret,omitempty"`
	SFTList   []string `json:"sftl,omitempty"`
	Props     *Props   `json:"props,omitempty"`

	// CONF_PART
	Entropy     []byte        `json:"entropy,omitempty"`
	ShouldStart bool          `json:"should_start,omitempty"`
	Parts       []MemberTuple `json:"partl,omitempty"`

	// CONF_KEY
	Keys []KeyEntry `json:"keyl,omitempty"`

	// CONF_STREAMS
	Mode    string          `json:"mode,omitempty"`
	Streams []StreamRequest `json:"streaml,omitempty"`

	// SFT rejection / REJECT reason
	Reason string `json:"reason,omitempty"`
}

// Age returns AgeSec as a time.Duration.
func (m *Message) Age() time.Duration {
	return time.Duration(m.AgeSec) * time.Second
}

// SetAge stores d truncated to whole seconds, matching the wire's
// integer-second age field.
func (m *Message) SetAge(d time.Duration) {
	m.AgeSec = int64(d / time.Second)
}
