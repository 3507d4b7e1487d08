// Package sfttransport is a host-facing implementation of the
// Controller's OnSFT hook: it POSTs a signalling message to the SFT's
// HTTP endpoint and feeds the decoded response back into
// Controller.SFTMsgRecv, retrying transient failures with backoff
// before finally reporting the request as a network failure (status
// >= 1000, see ccall.SFTMsgRecv).
//
// A host embedding this package isn't required to use it: Delegate.OnSFT
// is a plain callback, and any HTTP client satisfies the contract. This
// implementation exists for hosts that want the retry/backoff and dialer
// customization handled for them.
package sfttransport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/avsconf/ccall/pkg/sigcodec"
	"github.com/cenkalti/backoff"
	"github.com/pion/logging"
	"github.com/pion/transport/v3"
)

// networkFailureStatus is the sentinel status ccall.SFTMsgRecv treats
// as "the host couldn't complete the HTTP request at all", reported
// when every retry attempt fails.
const networkFailureStatus = 1000

// Recv is called with the SFT's response once a POST completes (or
// with networkFailureStatus and a nil message once retries are
// exhausted). Callers typically wire this directly to
// (*ccall.Controller).SFTMsgRecv.
type Recv func(status int, msg *sigcodec.Message) error

// Config configures a Client.
type Config struct {
	// Net, if set, is used to dial the SFT's TCP connection, letting
	// hosts substitute a virtual network in tests the same way
	// pkg/transport's UDP transport takes a net.PacketConn. Defaults to
	// the host's real network stack.
	Net transport.Net

	// Timeout bounds a single HTTP attempt. Defaults to 5s.
	Timeout time.Duration

	// MaxElapsedTime bounds the total time spent retrying a single
	// request before giving up and reporting networkFailureStatus.
	// Defaults to 15s.
	MaxElapsedTime time.Duration

	LoggerFactory logging.LoggerFactory
}

func (c Config) withDefaults() (Config, error) {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxElapsedTime == 0 {
		c.MaxElapsedTime = 15 * time.Second
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.Net == nil {
		n, err := transport.NewNet()
		if err != nil {
			return c, fmt.Errorf("sfttransport: new net: %w", err)
		}
		c.Net = n
	}
	return c, nil
}

// Client POSTs ccall signalling messages to an SFT over HTTPS.
type Client struct {
	cfg  Config
	http *http.Client
	log  logging.LeveledLogger
}

// New builds a Client. The returned error is only non-nil if cfg.Net
// was left unset and the host's default network stack couldn't be
// opened.
func New(cfg Config) (*Client, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	dialer := cfg.Net.CreateDialer(&net.Dialer{Timeout: cfg.Timeout})
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: dialer.DialContext,
			},
		},
		log: cfg.LoggerFactory.NewLogger("sfttransport"),
	}, nil
}

// Send POSTs msg to sftURL and invokes recv with the result. It never
// returns an error to the caller: every failure mode, including
// exhausted retries, is reported through recv so the caller can treat
// this exactly like the host API's sft_msg_recv callback.
func (c *Client) Send(ctx context.Context, sftURL string, msg *sigcodec.Message, recv Recv) {
	body, err := sigcodec.Encode(msg)
	if err != nil {
		c.log.Errorf("encode SFT message: %v", err)
		_ = recv(networkFailureStatus, nil)
		return
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.MaxElapsedTime

	var lastErr error
	for {
		status, respMsg, err := c.attempt(ctx, sftURL, body)
		if err == nil {
			_ = recv(status, respMsg)
			return
		}
		lastErr = err

		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			d = backoff.Stop
		case <-time.After(d):
		}
		if d == backoff.Stop {
			break
		}
	}

	c.log.Warnf("SFT request to %s failed after retries: %v", sftURL, lastErr)
	_ = recv(networkFailureStatus, nil)
}

// attempt performs a single HTTP POST and parses the response. A
// non-2xx status with a decodable body is a successful attempt (the
// SFT rejected the message; ccall handles that at the status-code
// level) — only transport-level failures and undecodable bodies count
// as retryable errors here.
func (c *Client) attempt(ctx context.Context, sftURL string, body []byte) (int, *sigcodec.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sftURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		respBody = append(respBody, buf[:n]...)
		if rerr != nil {
			break
		}
	}

	if len(respBody) == 0 {
		return resp.StatusCode, nil, nil
	}
	respMsg, err := sigcodec.Decode(respBody)
	if err != nil {
		return 0, nil, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, respMsg, nil
}
