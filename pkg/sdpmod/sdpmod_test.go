package sdpmod

import (
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
)

const sampleOffer = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=fmtp:111 minptime=10;useinbandfec=1\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"c=IN IP4 0.0.0.0\r\n"

func TestStripDropsVideoWhenNotIncluded(t *testing.T) {
	out, err := Strip(sampleOffer, false)
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}
	sd := reparse(t, out)
	if len(sd.MediaDescriptions) != 2 {
		t.Fatalf("media lines = %d, want 2 (audio+application)", len(sd.MediaDescriptions))
	}
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media == "video" {
			t.Fatal("video m-line survived Strip(includeVideo=false)")
		}
	}
}

func TestStripKeepsVideoWhenIncluded(t *testing.T) {
	out, err := Strip(sampleOffer, true)
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}
	sd := reparse(t, out)
	if len(sd.MediaDescriptions) != 3 {
		t.Fatalf("media lines = %d, want 3", len(sd.MediaDescriptions))
	}
}

func TestModifyOfferGroupSetsPtimeAndBandwidth(t *testing.T) {
	out, err := ModifyOffer(sampleOffer, Options{ConvType: ConvGroup, Tool: "ccall/1.0", Env: "prod"})
	if err != nil {
		t.Fatalf("ModifyOffer: %v", err)
	}
	sd := reparse(t, out)

	if v, ok := findAttr(sd.Attributes, "tool"); !ok || v != "ccall/1.0 prod" {
		t.Fatalf("tool attribute = %q, ok=%v, want %q", v, ok, "ccall/1.0 prod")
	}

	for _, m := range sd.MediaDescriptions {
		switch m.MediaName.Media {
		case "audio":
			if bw, ok := findBandwidth(m); !ok || bw != bwAudioGroup {
				t.Fatalf("audio bandwidth = %d, ok=%v, want %d", bw, ok, bwAudioGroup)
			}
			if v, ok := findAttr(m.Attributes, "ptime"); !ok || v != "40" {
				t.Fatalf("ptime = %q, ok=%v, want 40", v, ok)
			}
		case "video":
			if bw, ok := findBandwidth(m); !ok || bw != bwVideoGroup {
				t.Fatalf("video bandwidth = %d, ok=%v, want %d", bw, ok, bwVideoGroup)
			}
		}
	}
}

func TestModifyOfferOneOnOneBandwidth(t *testing.T) {
	out, err := ModifyOffer(sampleOffer, Options{ConvType: ConvOneOnOne})
	if err != nil {
		t.Fatalf("ModifyOffer: %v", err)
	}
	sd := reparse(t, out)
	for _, m := range sd.MediaDescriptions {
		switch m.MediaName.Media {
		case "audio":
			if bw, ok := findBandwidth(m); !ok || bw != bwAudioOneOnOne {
				t.Fatalf("audio bandwidth = %d, ok=%v, want %d", bw, ok, bwAudioOneOnOne)
			}
		case "video":
			if bw, ok := findBandwidth(m); !ok || bw != bwVideoOneOnOne {
				t.Fatalf("video bandwidth = %d, ok=%v, want %d", bw, ok, bwVideoOneOnOne)
			}
		}
	}
}

func TestModifyAnswerGroupAddsUsedtx(t *testing.T) {
	out, err := ModifyAnswer(sampleOffer, Options{ConvType: ConvGroup})
	if err != nil {
		t.Fatalf("ModifyAnswer: %v", err)
	}
	if !hasFmtpParam(t, out, "usedtx=1") {
		t.Fatal("usedtx=1 missing from group-mode answer")
	}
}

func TestModifyOfferCBRAppendsParam(t *testing.T) {
	out, err := ModifyOffer(sampleOffer, Options{ConvType: ConvOneOnOne, AudioCBR: true})
	if err != nil {
		t.Fatalf("ModifyOffer: %v", err)
	}
	if !hasFmtpParam(t, out, "cbr=1") {
		t.Fatal("cbr=1 missing from CBR-requested offer")
	}
}

func reparse(t *testing.T, raw string) *sdp.SessionDescription {
	t.Helper()
	sd, err := unmarshal(raw)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	return sd
}

func findAttr(attrs []sdp.Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func findBandwidth(m *sdp.MediaDescription) (uint64, bool) {
	for _, b := range m.Bandwidth {
		if b.Type == "AS" {
			return b.Bandwidth, true
		}
	}
	return 0, false
}

func hasFmtpParam(t *testing.T, raw, param string) bool {
	t.Helper()
	sd := reparse(t, raw)
	for _, m := range sd.MediaDescriptions {
		for _, a := range m.Attributes {
			if a.Key == "fmtp" && strings.Contains(a.Value, param) {
				return true
			}
		}
	}
	return false
}
