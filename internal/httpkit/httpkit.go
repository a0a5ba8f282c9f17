// Package httpkit builds the outbound HTTP clients used across the
// app. Every client shares one transport configuration and stamps the
// app's User-Agent, so per-package construction only chooses a timeout
// and, where it makes sense, a retry budget.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/stewardhq/steward/internal/buildinfo"
)

// Option configures a client built by [NewClient].
type Option func(*options)

type options struct {
	timeout time.Duration
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// WithTimeout sets the whole-request timeout. Zero disables it, which
// long-poll callers rely on.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetry retries requests that fail before reaching the server
// (refused, unreachable), up to n attempts with a fixed pause between
// them. Requests with a non-rewindable body are never retried.
func WithRetry(n int, pause time.Duration) Option {
	return func(o *options) {
		o.retries = n
		o.backoff = pause
	}
}

// WithLogger enables debug logging of retry attempts.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewClient returns an *http.Client with the shared transport settings,
// a 30s default timeout, and the app User-Agent applied to every
// request that does not set its own.
func NewClient(opts ...Option) *http.Client {
	o := &options{timeout: 30 * time.Second}
	for _, apply := range opts {
		apply(o)
	}

	var rt http.RoundTripper = &headerRT{next: baseTransport()}
	if o.retries > 0 {
		rt = &retryRT{next: rt, attempts: o.retries, pause: o.backoff, logger: o.logger}
	}

	return &http.Client{Timeout: o.timeout, Transport: rt}
}

func baseTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		ForceAttemptHTTP2:     true,
	}
}

// headerRT stamps the app User-Agent. The request is cloned first;
// RoundTrippers must not mutate the caller's request.
type headerRT struct {
	next http.RoundTripper
}

func (t *headerRT) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", buildinfo.UserAgent())
	}
	return t.next.RoundTrip(req)
}

// retryRT re-issues requests that died at the connect stage. Failures
// after bytes reached the server (including ECONNRESET) are not
// retried: the server may already have acted on the request.
type retryRT struct {
	next     http.RoundTripper
	attempts int
	pause    time.Duration
	logger   *slog.Logger
}

func (t *retryRT) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err == nil || !retryable(err) {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, err
	}

	for attempt := 1; attempt <= t.attempts; attempt++ {
		if t.logger != nil {
			t.logger.Debug("retrying request",
				"method", req.Method, "url", req.URL.String(),
				"attempt", attempt, "error", err)
		}

		timer := time.NewTimer(t.pause)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		next := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("rewind request body: %w", bodyErr)
			}
			next.Body = body
		}

		resp, err = t.next.RoundTrip(next)
		if err == nil || !retryable(err) {
			return resp, err
		}
	}
	return resp, err
}

func retryable(err error) bool {
	// net.OpError and os.SyscallError both unwrap down to the errno.
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.ECONNREFUSED, syscall.EHOSTUNREACH, syscall.ENETUNREACH:
		return true
	}
	return false
}

// DrainAndClose consumes up to limit bytes of rc and closes it, keeping
// the connection eligible for reuse.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody returns up to limit bytes of rc as a string for error
// reporting, then drains and closes it. Nil rc yields "".
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
