package sigcodec

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	keySync := uint32(7)
	msgs := []*Message{
		{
			Type:   TypeConfConn,
			SessID: "deadbeef",
			Src:    UserClient{UserID: "u1", ClientID: "c1"},
			SFTURL: "https://sft.example.com",
			TurnServers: []TurnServer{
				{URLs: []string{"turn:turn.example.com"}, Username: "u", Credential: "p"},
			},
			Tool:           "ccall-test",
			Env:            "prod",
			SelectiveAudio: true,
			SelectiveVideo: true,
			VStreams:       4,
		},
		{
			Type:      TypeConfStart,
			SessID:    "deadbeef",
			Src:       UserClient{UserID: "u1", ClientID: "c1"},
			Timestamp: 1000,
			Seqno:     3,
			Secret:    []byte("sixteen byte key"),
			SFTList:   []string{"https://sft-a", "https://sft-b"},
			Props:     &Props{VideoSend: true},
		},
		{
			Type:   TypeConfPart,
			SessID: "deadbeef",
			Src:    UserClient{UserID: "sft", ClientID: "_"},
			Parts: []MemberTuple{
				{UserIDHash: "h1", ClientIDHash: "_", SSRCAudio: 11, SSRCVideo: 22},
			},
			Entropy: []byte{1, 2, 3},
		},
		{
			Type:   TypeConfKey,
			SessID: "deadbeef",
			Src:    UserClient{UserID: "u1", ClientID: "c1"},
			Dest:   &UserClient{UserID: "u2", ClientID: "c2"},
			Keys: []KeyEntry{
				{Index: 0x10000, Key: make([]byte, 32)},
				{Index: 0x10001, Key: make([]byte, 32)},
			},
		},
		{
			Type:   TypeConfStreams,
			SessID: "deadbeef",
			Src:    UserClient{UserID: "u1", ClientID: "c1"},
			Mode:   "list",
			Streams: []StreamRequest{
				{UserIDHash: "h1", ClientIDHash: "_", Quality: "high"},
			},
			Props: &Props{KeySync: &keySync},
		},
	}

	for _, m := range msgs {
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%s): %v", m.Type, err)
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s): %v", m.Type, err)
		}
		eq, err := Equal(m, decoded)
		if err != nil {
			t.Fatalf("Equal(%s): %v", m.Type, err)
		}
		if !eq {
			t.Errorf("round-trip mismatch for %s:\norig:    %s\nroundtrip: %s", m.Type, mustEncode(t, m), mustEncode(t, decoded))
		}
	}
}

func TestDecodeGroupAliases(t *testing.T) {
	cases := map[Type]Type{
		typeGroupStart: TypeConfStart,
		typeGroupCheck: TypeConfCheck,
		typeGroupLeave: TypeConfEnd,
	}
	for wire, want := range cases {
		m := &Message{Type: wire, SessID: "x", Src: UserClient{UserID: "u", ClientID: "c"}}
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if decoded.Type != want {
			t.Errorf("alias %s decoded as %s, want %s", wire, decoded.Type, want)
		}
	}
}

func TestDecodeMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"sessid":"x"}`)); err != ErrMissingType {
		t.Fatalf("got err=%v, want ErrMissingType", err)
	}
}

func mustEncode(t *testing.T, m *Message) []byte {
	t.Helper()
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}
