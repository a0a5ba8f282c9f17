package platform

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// PushListener subscribes to the platform's push websocket and invokes
// a callback whenever a frame suggests new work may be queued. It is a
// fast-path hint only: the intake loop's polling remains the source of
// truth, so a dropped connection degrades latency, never correctness.
type PushListener struct {
	endpoint string
	client   *Client
	onSignal func()
	logger   *slog.Logger

	dialer *websocket.Dialer
}

// NewPushListener creates a listener. endpoint may be empty, in which
// case the push URL is derived from the platform base URL.
func NewPushListener(client *Client, endpoint string, onSignal func(), logger *slog.Logger) *PushListener {
	if logger == nil {
		logger = slog.Default()
	}
	if endpoint == "" {
		endpoint = derivePushURL(client.BaseURL())
	}
	return &PushListener{
		endpoint: endpoint,
		client:   client,
		onSignal: onSignal,
		logger:   logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// derivePushURL maps https://host to wss://host/push/ws.
func derivePushURL(baseURL string) string {
	url := baseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/push/ws"
}

// Run connects and consumes frames until ctx is cancelled, reconnecting
// with capped exponential backoff on any failure.
func (p *PushListener) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 2 * time.Minute

	for ctx.Err() == nil {
		err := p.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("push connection lost, reconnecting",
			"endpoint", p.endpoint,
			"backoff", backoff,
			"error", err,
		)
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// listen runs one connection. The opening frames authenticate with the
// app credentials; after the server acks, every incoming message is
// treated as a new-work hint.
func (p *PushListener) listen(ctx context.Context) error {
	conn, resp, err := p.dialer.DialContext(ctx, p.endpoint, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return err
	}
	defer conn.Close()

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(p.client.appID)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(p.client.secret)); err != nil {
		return err
	}

	p.logger.Info("push listener connected", "endpoint", p.endpoint)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msg := string(frame)
		if strings.HasPrefix(msg, "err:") {
			p.logger.Warn("push server reported error", "message", msg)
			continue
		}
		if msg == "authenticated" {
			continue
		}

		p.logger.Debug("push frame received", "message", msg)
		if p.onSignal != nil {
			p.onSignal()
		}
	}
}
