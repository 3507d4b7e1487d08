package sfttransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avsconf/ccall/pkg/sigcodec"
)

func TestSendDecodesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := sigcodec.Decode(mustReadAll(t, r))
		if err != nil {
			t.Errorf("server: decode request: %v", err)
		}
		if req.Type != sigcodec.TypeSetup {
			t.Errorf("server: got type %s, want SETUP", req.Type)
		}
		resp, _ := sigcodec.Encode(&sigcodec.Message{Type: sigcodec.TypeUpdate, SDP: "v=0"})
		w.WriteHeader(http.StatusOK)
		w.Write(resp)
	}))
	defer srv.Close()

	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var gotStatus int
	var gotMsg *sigcodec.Message
	done := make(chan struct{})
	c.Send(context.Background(), srv.URL, &sigcodec.Message{Type: sigcodec.TypeSetup, SDP: "v=0"}, func(status int, msg *sigcodec.Message) error {
		gotStatus, gotMsg = status, msg
		close(done)
		return nil
	})
	<-done

	if gotStatus != http.StatusOK {
		t.Errorf("status = %d, want 200", gotStatus)
	}
	if gotMsg == nil || gotMsg.Type != sigcodec.TypeUpdate {
		t.Errorf("got msg = %+v, want type UPDATE", gotMsg)
	}
}

func TestSendPassesThroughRejectionStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, _ := sigcodec.Encode(&sigcodec.Message{Type: sigcodec.TypeReject, Reason: "cant-start"})
		w.WriteHeader(http.StatusForbidden)
		w.Write(resp)
	}))
	defer srv.Close()

	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var gotStatus int
	done := make(chan struct{})
	c.Send(context.Background(), srv.URL, &sigcodec.Message{Type: sigcodec.TypeSetup}, func(status int, msg *sigcodec.Message) error {
		gotStatus = status
		close(done)
		return nil
	})
	<-done

	if gotStatus != http.StatusForbidden {
		t.Errorf("status = %d, want 403", gotStatus)
	}
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			// Simulate a transport hiccup on the first two attempts:
			// drop the connection without a response, which the
			// client's Do() surfaces as an error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		resp, _ := sigcodec.Encode(&sigcodec.Message{Type: sigcodec.TypeUpdate})
		w.WriteHeader(http.StatusOK)
		w.Write(resp)
	}))
	defer srv.Close()

	c, err := New(Config{MaxElapsedTime: 2 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var gotStatus int
	done := make(chan struct{})
	c.Send(context.Background(), srv.URL, &sigcodec.Message{Type: sigcodec.TypeSetup}, func(status int, msg *sigcodec.Message) error {
		gotStatus = status
		close(done)
		return nil
	})
	<-done

	if gotStatus != http.StatusOK {
		t.Errorf("status = %d, want 200 after retries", gotStatus)
	}
	if got := atomic.LoadInt32(&attempts); got < 3 {
		t.Errorf("attempts = %d, want >= 3", got)
	}
}

func TestSendReportsNetworkFailureAfterExhaustingRetries(t *testing.T) {
	c, err := New(Config{MaxElapsedTime: 200 * time.Millisecond, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var gotStatus int
	done := make(chan struct{})
	// No listener on this port: every attempt fails outright.
	c.Send(context.Background(), "http://127.0.0.1:1", &sigcodec.Message{Type: sigcodec.TypeSetup}, func(status int, msg *sigcodec.Message) error {
		gotStatus = status
		close(done)
		return nil
	})
	<-done

	if gotStatus != networkFailureStatus {
		t.Errorf("status = %d, want %d", gotStatus, networkFailureStatus)
	}
}

func mustReadAll(t *testing.T, r *http.Request) []byte {
	t.Helper()
	buf := make([]byte, 0, 1024)
	tmp := make([]byte, 1024)
	for {
		n, err := r.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	return buf
}
