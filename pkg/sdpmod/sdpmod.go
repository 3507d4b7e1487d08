// Package sdpmod rewrites offer/answer session descriptions before
// they go out to an SFT: stripping to a single audio + optional video
// + data m-line, enforcing bandwidth ceilings, and tuning audio
// parameters (ptime, CBR, DTX) for one-on-one versus group calls.
//
// Descriptions are parsed into pion/sdp/v3's typed model rather than
// patched as raw strings, so every rewrite is a structural edit.
package sdpmod

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// ConvType distinguishes a one-on-one call from a group (SFT-mediated,
// more than two party) call; the bandwidth ceilings and audio tuning
// below both key off it.
type ConvType int

const (
	ConvOneOnOne ConvType = iota
	ConvGroup
)

// Bandwidth ceilings in kbps, applied as SDP "AS" bandwidth lines.
const (
	bwAudioOneOnOne = 50
	bwAudioGroup    = 32
	bwVideoOneOnOne = 800
	bwVideoGroup    = 300
)

// Options configures ModifyOffer/ModifyAnswer.
type Options struct {
	ConvType ConvType
	// AudioCBR appends cbr=1 to the audio fmtp line when true.
	AudioCBR bool
	// Tool and Env populate the session-level "tool" attribute, e.g.
	// Tool="ccall/1.0" Env="prod".
	Tool string
	Env  string
}

func (o Options) toolAttr() string {
	if o.Tool == "" {
		return o.Env
	}
	if o.Env == "" {
		return o.Tool
	}
	return fmt.Sprintf("%s %s", o.Tool, o.Env)
}

// Strip rewrites raw to carry at most one audio, one application (data
// channel) and, if includeVideo, one video m-line: the first line of
// each kind is kept and everything else is dropped. Kept lines are
// copied as they are; a line the caller disabled (port 0) stays
// disabled.
func Strip(raw string, includeVideo bool) (string, error) {
	sd, err := unmarshal(raw)
	if err != nil {
		return "", err
	}

	kept := make([]*sdp.MediaDescription, 0, 3)
	seen := make(map[string]bool, 3)
	for _, m := range sd.MediaDescriptions {
		kind := m.MediaName.Media
		if seen[kind] {
			continue
		}
		switch kind {
		case "audio", "application":
			kept = append(kept, m)
			seen[kind] = true
		case "video":
			if includeVideo {
				kept = append(kept, m)
				seen[kind] = true
			}
		}
	}
	sd.MediaDescriptions = kept
	return marshal(sd)
}

// ModifyOffer applies bandwidth ceilings, group-mode audio tuning and
// the tool attribute to an outgoing offer.
func ModifyOffer(raw string, opts Options) (string, error) {
	return modify(raw, opts, false)
}

// ModifyAnswer applies the same rewrites as ModifyOffer, plus usedtx=1
// on the audio fmtp line in group mode.
func ModifyAnswer(raw string, opts Options) (string, error) {
	return modify(raw, opts, true)
}

func modify(raw string, opts Options, isAnswer bool) (string, error) {
	sd, err := unmarshal(raw)
	if err != nil {
		return "", err
	}

	if tool := opts.toolAttr(); tool != "" {
		sd.Attributes = setValueAttr(sd.Attributes, "tool", tool)
	}

	for _, m := range sd.MediaDescriptions {
		switch m.MediaName.Media {
		case "video":
			setBandwidth(m, videoBandwidth(opts.ConvType))

		case "audio":
			setBandwidth(m, audioBandwidth(opts.ConvType))

			if opts.ConvType == ConvGroup {
				m.Attributes = setValueAttr(m.Attributes, "ptime", "40")
				if isAnswer {
					appendFmtpParam(m, "usedtx=1")
				}
			}
			if opts.AudioCBR {
				appendFmtpParam(m, "cbr=1")
			}
		}
	}

	return marshal(sd)
}

func videoBandwidth(ct ConvType) uint64 {
	if ct == ConvOneOnOne {
		return bwVideoOneOnOne
	}
	return bwVideoGroup
}

func audioBandwidth(ct ConvType) uint64 {
	if ct == ConvOneOnOne {
		return bwAudioOneOnOne
	}
	return bwAudioGroup
}

func unmarshal(raw string) (*sdp.SessionDescription, error) {
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("sdpmod: parse: %w", err)
	}
	return sd, nil
}

func marshal(sd *sdp.SessionDescription) (string, error) {
	out, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("sdpmod: encode: %w", err)
	}
	return string(out), nil
}

// setBandwidth replaces any existing "AS" bandwidth line with kbps.
func setBandwidth(m *sdp.MediaDescription, kbps uint64) {
	out := m.Bandwidth[:0]
	for _, b := range m.Bandwidth {
		if b.Type != "AS" {
			out = append(out, b)
		}
	}
	out = append(out, sdp.Bandwidth{Type: "AS", Bandwidth: kbps})
	m.Bandwidth = out
}

// setValueAttr replaces any existing attribute with the given key and
// appends the new value, keeping rewrites idempotent.
func setValueAttr(attrs []sdp.Attribute, key, value string) []sdp.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if a.Key != key {
			out = append(out, a)
		}
	}
	return append(out, sdp.Attribute{Key: key, Value: value})
}

// appendFmtpParam adds param to every fmtp attribute's parameter list,
// skipping payload types that already carry it.
func appendFmtpParam(m *sdp.MediaDescription, param string) {
	name := strings.SplitN(param, "=", 2)[0]
	for i, a := range m.Attributes {
		if a.Key != "fmtp" {
			continue
		}
		fields := strings.SplitN(a.Value, " ", 2)
		if len(fields) != 2 {
			continue
		}
		pt, params := fields[0], fields[1]
		if strings.Contains(params, name+"=") {
			continue
		}
		if _, err := strconv.Atoi(pt); err != nil {
			continue
		}
		m.Attributes[i].Value = fmt.Sprintf("%s %s;%s", pt, params, param)
	}
}
