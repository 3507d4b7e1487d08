package ccall

import (
	"context"
	"testing"
	"time"

	"github.com/avsconf/ccall/pkg/icall"
	"github.com/avsconf/ccall/pkg/sigcodec"
	"github.com/avsconf/ccall/pkg/userlist"
)

type fakeSession struct {
	started  bool
	turns    []icall.ICEServer
	closed   icall.CloseReason
	wasClosed bool
}

func (f *fakeSession) AddTurnServer(srv icall.ICEServer) { f.turns = append(f.turns, srv) }
func (f *fakeSession) Start(ctx context.Context) error   { f.started = true; return nil }
func (f *fakeSession) HandleSetup(sdp string, isOffer bool) (string, error) {
	return "v=0 answer", nil
}
func (f *fakeSession) SetLocalSSRCs(s icall.SSRCs)          {}
func (f *fakeSession) SetVideoState(s icall.VideoState) error { return nil }
func (f *fakeSession) DCESend(payload []byte) error          { return nil }
func (f *fakeSession) MediaStart() error                     { return nil }
func (f *fakeSession) MediaStop() error                      { return nil }
func (f *fakeSession) SetQualityInterval(d time.Duration)    {}
func (f *fakeSession) Close(reason icall.CloseReason) error {
	f.wasClosed = true
	f.closed = reason
	return nil
}

type fakeDelegate struct {
	sent        []*sigcodec.Message
	sftMsgs     []*sigcodec.Message
	started     bool
	groupChange int
	closes      []Reason
}

func (d *fakeDelegate) OnStart(shouldRing bool)  { d.started = true }
func (d *fakeDelegate) OnAnswer()                {}
func (d *fakeDelegate) OnMediaEstablished()      {}
func (d *fakeDelegate) OnAudioEstablished()      {}
func (d *fakeDelegate) OnDataChanEstablished()   {}
func (d *fakeDelegate) OnClose(r Reason)         { d.closes = append(d.closes, r) }
func (d *fakeDelegate) OnLeave(r Reason)         {}
func (d *fakeDelegate) OnQuality(up, down float32, rtt int) {}
func (d *fakeDelegate) OnGroupChanged()          { d.groupChange++ }
func (d *fakeDelegate) OnVStateChanged(h string, s icall.VideoState) {}
func (d *fakeDelegate) OnAudioLevel(h []string)  {}
func (d *fakeDelegate) OnReqClients()            {}
func (d *fakeDelegate) OnReqNewEpoch()           {}
func (d *fakeDelegate) OnSend(m *sigcodec.Message, targets []sigcodec.UserClient, myOnly bool) {
	d.sent = append(d.sent, m)
}
func (d *fakeDelegate) OnSFT(url string, m *sigcodec.Message) { d.sftMsgs = append(d.sftMsgs, m) }

func newTestController(t *testing.T) (*Controller, *fakeDelegate, *fakeSession) {
	t.Helper()
	sess := &fakeSession{}
	del := &fakeDelegate{}
	cfg := Config{
		ConvIDHash: "conv-hash",
		SelfUserID: "self",
		SelfClient: "c0",
		SessionFactory: func(d icall.Delegate) icall.Session {
			return sess
		},
	}
	c, err := New(cfg, del)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, del, sess
}

func TestStartTransitionsToWaitConfigOutgoing(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.Start(CallTypeNormal, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.State() != StateWaitConfigOutgoing {
		t.Fatalf("state = %v, want WaitConfigOutgoing", c.State())
	}
	if err := c.Start(CallTypeNormal, false); err != ErrWrongState {
		t.Fatalf("second Start = %v, want ErrWrongState", err)
	}
}

func TestSetSFTConfigEntersConnSentAndSendsConfConn(t *testing.T) {
	c, del, _ := newTestController(t)
	if err := c.Start(CallTypeNormal, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.SetSFTConfig(SFTConfig{AllowedSFTs: []string{"https://sft-a/"}})
	if c.State() != StateConnSent {
		t.Fatalf("state = %v, want ConnSent", c.State())
	}
	if len(del.sftMsgs) != 1 || del.sftMsgs[0].Type != sigcodec.TypeConfConn {
		t.Fatalf("sftMsgs = %+v, want one CONF_CONN", del.sftMsgs)
	}
}

func TestSetupResponseDrivesSessionToConnecting(t *testing.T) {
	c, _, sess := newTestController(t)
	_ = c.Start(CallTypeNormal, false)
	c.SetSFTConfig(SFTConfig{AllowedSFTs: []string{"https://sft-a"}})

	if err := c.SFTMsgRecv(200, &sigcodec.Message{Type: sigcodec.TypeSetup, URL: "https://sft-a", SDP: "v=0 offer"}); err != nil {
		t.Fatalf("SFTMsgRecv: %v", err)
	}
	if c.State() != StateConnecting {
		t.Fatalf("state = %v, want Connecting", c.State())
	}
	if !sess.started {
		t.Fatal("session.Start was not called")
	}

	c.OnDataChannelEstablished("s1")
	if c.State() != StateConnected {
		t.Fatalf("state = %v, want Connected", c.State())
	}
	c.OnEstablished("s1")
	if c.State() != StateActive {
		t.Fatalf("state = %v, want Active", c.State())
	}
}

func TestConfPartElectsSelfKeygeneratorWhenAlone(t *testing.T) {
	c, del, _ := newTestController(t)
	_ = c.Start(CallTypeNormal, false)
	c.SetSFTConfig(SFTConfig{AllowedSFTs: []string{"https://sft-a"}})
	_ = c.SFTMsgRecv(200, &sigcodec.Message{Type: sigcodec.TypeSetup, URL: "https://sft-a", SDP: "v=0 offer"})
	c.OnDataChannelEstablished("s1")
	c.OnEstablished("s1")

	selfHash := c.userlist.SelfHash().UserIDHash
	if err := c.SetClients([]userlist.SEClient{{UserID: "bob", ClientID: "c1", InSubconv: true}}, 1); err != nil {
		t.Fatalf("SetClients: %v", err)
	}

	if err := c.SFTMsgRecv(200, &sigcodec.Message{
		Type: sigcodec.TypeConfPart,
		Parts: []sigcodec.MemberTuple{
			{UserIDHash: selfHash, SSRCAudio: 1},
		},
	}); err != nil {
		t.Fatalf("SFTMsgRecv confpart: %v", err)
	}
	if !c.userlist.IsSelfKeygenerator() {
		t.Fatal("self should be elected keygenerator when alone")
	}
	if del.groupChange == 0 {
		t.Fatal("expected OnGroupChanged to fire")
	}
}
