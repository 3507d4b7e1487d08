// ccall-demo is a minimal host wiring a single Conference Controller
// to a real pion/webrtc session backend and printing its lifecycle to
// the console. It starts an outgoing call and waits for ctrl-C.
//
// Usage:
//
//	ccall-demo [options]
//
// Options:
//
//	-conv     conversation ID hash (default: "demo-conv")
//	-user     self user ID (default: "demo-user")
//	-client   self client ID (default: "demo-client")
//	-sft      allowed SFT URL (default: "https://sft1.example.com")
//	-video    start as a video call instead of audio-only
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/avsconf/ccall/pkg/ccall"
	"github.com/avsconf/ccall/pkg/ecall"
	"github.com/avsconf/ccall/pkg/icall"
	"github.com/avsconf/ccall/pkg/sfttransport"
	"github.com/avsconf/ccall/pkg/sigcodec"
	"github.com/pion/logging"
)

func main() {
	convID := flag.String("conv", "demo-conv", "conversation ID hash")
	userID := flag.String("user", "demo-user", "self user ID")
	clientID := flag.String("client", "demo-client", "self client ID")
	sftURL := flag.String("sft", "https://sft1.example.com", "allowed SFT URL")
	video := flag.Bool("video", false, "start as a video call")
	flag.Parse()

	loggerFactory := logging.NewDefaultLoggerFactory()

	sftClient, err := sfttransport.New(sfttransport.Config{LoggerFactory: loggerFactory})
	if err != nil {
		log.Fatalf("sfttransport.New: %v", err)
	}

	host := &demoHost{sftClient: sftClient}

	cfg := ccall.Config{
		ConvIDHash:    *convID,
		SelfUserID:    *userID,
		SelfClient:    *clientID,
		SessionFactory: ecall.Factory(ecall.Config{LoggerFactory: loggerFactory}),
		LoggerFactory: loggerFactory,
	}

	ctrl, err := ccall.New(cfg, host)
	if err != nil {
		log.Fatalf("ccall.New: %v", err)
	}
	host.ctrl = ctrl

	ctrl.SetSFTConfig(ccall.SFTConfig{AllowedSFTs: []string{*sftURL}})

	callType := ccall.CallTypeNormal
	if *video {
		callType = ccall.CallTypeVideo
	}
	if err := ctrl.Start(callType, false); err != nil {
		log.Fatalf("ctrl.Start: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Println("shutting down...")
	ctrl.End()
}

// demoHost implements ccall.HostDelegate by logging every callback and
// forwarding SFT requests to sfttransport.Client.
type demoHost struct {
	ctrl      *ccall.Controller
	sftClient *sfttransport.Client
}

func (h *demoHost) OnStart(shouldRing bool)   { log.Printf("OnStart shouldRing=%v", shouldRing) }
func (h *demoHost) OnAnswer()                 { log.Printf("OnAnswer") }
func (h *demoHost) OnMediaEstablished()       { log.Printf("OnMediaEstablished") }
func (h *demoHost) OnAudioEstablished()       { log.Printf("OnAudioEstablished") }
func (h *demoHost) OnDataChanEstablished()    { log.Printf("OnDataChanEstablished") }
func (h *demoHost) OnClose(reason ccall.Reason) { log.Printf("OnClose reason=%v", reason) }
func (h *demoHost) OnLeave(reason ccall.Reason) { log.Printf("OnLeave reason=%v", reason) }

func (h *demoHost) OnQuality(upKbps, downKbps float32, rttMs int) {
	log.Printf("OnQuality up=%.1fkbps down=%.1fkbps rtt=%dms", upKbps, downKbps, rttMs)
}

func (h *demoHost) OnGroupChanged() {
	log.Printf("OnGroupChanged members=%d", len(h.ctrl.GetMembers()))
}

func (h *demoHost) OnVStateChanged(userHash string, state icall.VideoState) {
	log.Printf("OnVStateChanged user=%s state=%s", userHash, state)
}

func (h *demoHost) OnAudioLevel(changedHashes []string) {
	log.Printf("OnAudioLevel changed=%v", changedHashes)
}

func (h *demoHost) OnReqClients()  { log.Printf("OnReqClients") }
func (h *demoHost) OnReqNewEpoch() { log.Printf("OnReqNewEpoch") }

func (h *demoHost) OnSend(msg *sigcodec.Message, targets []sigcodec.UserClient, myClientsOnly bool) {
	log.Printf("OnSend type=%s targets=%d myClientsOnly=%v", msg.Type, len(targets), myClientsOnly)
	// A real host delivers msg over its existing signalling channel
	// (e.g. a backend message API); this demo has none to send over.
}

func (h *demoHost) OnSFT(sftURL string, msg *sigcodec.Message) {
	log.Printf("OnSFT url=%s type=%s", sftURL, msg.Type)
	go h.sftClient.Send(context.Background(), sftURL, msg, h.ctrl.SFTMsgRecv)
}
