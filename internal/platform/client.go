// Package platform is the client for the host collaboration platform.
// It speaks the platform's OCS HTTP API with external-app
// authentication, exposes the task-processing endpoints the agent
// depends on, and derives authenticated DAV access for tool providers.
package platform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/httpkit"
)

// Log levels understood by the platform's log endpoint.
const (
	LogDebug   = 0
	LogInfo    = 1
	LogWarning = 2
	LogError   = 3
)

// Client talks to the platform on behalf of the app, optionally bound
// to one user. The zero user binding authenticates app-level calls
// (task polling, provider registration); WithUser produces a binding
// for user-scoped calls (tool execution, DAV).
type Client struct {
	baseURL    string
	appID      string
	appVersion string
	secret     string
	userID     string

	http   *http.Client
	logger *slog.Logger
}

// NewClient creates an app-scoped platform client.
func NewClient(cfg config.PlatformConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		appID:      cfg.AppID,
		appVersion: cfg.AppVersion,
		secret:     cfg.Secret,
		http: httpkit.NewClient(
			httpkit.WithTimeout(60*time.Second),
			httpkit.WithRetry(3, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// WithUser returns a copy of the client bound to the given user
// identity. The underlying HTTP client is shared.
func (c *Client) WithUser(userID string) *Client {
	bound := *c
	bound.userID = userID
	return &bound
}

// UserID returns the bound user, or "" for app-level binding.
func (c *Client) UserID() string {
	return c.userID
}

// BaseURL returns the platform base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StatusError is returned for non-2xx platform responses. The status
// code is preserved so callers can distinguish rate limiting from
// permanent failures.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform returned HTTP %d: %s", e.Code, e.Body)
}

// IsRateLimited reports whether err is an HTTP 429 from the platform.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusTooManyRequests
}

// IsNotFound reports whether err is an HTTP 404 from the platform.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// setAuthHeaders attaches external-app authentication. The platform
// validates the shared secret and impersonates the named user (empty
// for app-level calls).
func (c *Client) setAuthHeaders(h http.Header) {
	token := base64.StdEncoding.EncodeToString([]byte(c.userID + ":" + c.secret))
	h.Set("AUTHORIZATION-APP-API", token)
	h.Set("EX-APP-ID", c.appID)
	h.Set("EX-APP-VERSION", c.appVersion)
	h.Set("OCS-APIRequest", "true")
	h.Set("Accept", "application/json")
}

// ocsEnvelope is the standard OCS response wrapper.
type ocsEnvelope struct {
	OCS struct {
		Meta struct {
			Status     string `json:"status"`
			StatusCode int    `json:"statuscode"`
			Message    string `json:"message"`
		} `json:"meta"`
		Data json.RawMessage `json:"data"`
	} `json:"ocs"`
}

// OCS performs an OCS API call. body (if non-nil) is sent as JSON; the
// envelope's data element is decoded into out (if non-nil).
func (c *Client) OCS(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ocs %s %s: marshal body: %w", method, path, err)
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("ocs %s %s: %w", method, path, err)
	}
	c.setAuthHeaders(req.Header)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ocs %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{
			Code: resp.StatusCode,
			Body: httpkit.ReadErrorBody(resp.Body, 2048),
		}
	}

	var envelope ocsEnvelope
	err = json.NewDecoder(resp.Body).Decode(&envelope)
	httpkit.DrainAndClose(resp.Body, 4096)
	if err != nil {
		return fmt.Errorf("ocs %s %s: decode envelope: %w", method, path, err)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.OCS.Data, out); err != nil {
			return fmt.Errorf("ocs %s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

// Log mirrors a log line to the platform's app log, best-effort.
// Failures are swallowed after a local debug record; losing a remote
// log line must never affect the task being processed.
func (c *Client) Log(ctx context.Context, level int, message string) {
	err := c.OCS(ctx, http.MethodPost, "/ocs/v1.php/apps/app_api/api/v1/log", map[string]any{
		"level":   level,
		"message": message,
	}, nil)
	if err != nil {
		c.logger.Debug("platform log mirror failed", "error", err)
	}
}

// davRoundTripper implements the DAV HTTP client contract, injecting
// external-app authentication on every request.
type davRoundTripper struct {
	client *Client
}

func (d *davRoundTripper) Do(req *http.Request) (*http.Response, error) {
	d.client.setAuthHeaders(req.Header)
	return d.client.http.Do(req)
}

// DAVHTTPClient returns an HTTP client suitable for the go-webdav
// client constructors, authenticated as the bound user.
func (c *Client) DAVHTTPClient() interface {
	Do(req *http.Request) (*http.Response, error)
} {
	return &davRoundTripper{client: c}
}

// DAVEndpoint returns the DAV service root.
func (c *Client) DAVEndpoint() string {
	return c.baseURL + "/remote.php/dav"
}

// CalendarHomeSet returns the bound user's calendar collection path.
func (c *Client) CalendarHomeSet() string {
	return "/remote.php/dav/calendars/" + c.userID + "/"
}

// AddressBookHomeSet returns the bound user's address book collection path.
func (c *Client) AddressBookHomeSet() string {
	return "/remote.php/dav/addressbooks/users/" + c.userID + "/"
}

// FilesRoot returns the bound user's file storage root path.
func (c *Client) FilesRoot() string {
	return "/remote.php/dav/files/" + c.userID + "/"
}

// PutFile uploads content to the bound user's storage at the given
// path relative to the files root.
func (c *Client) PutFile(ctx context.Context, relPath string, content []byte) error {
	url := c.baseURL + c.FilesRoot() + strings.TrimLeft(relPath, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("put file: %w", err)
	}
	c.setAuthHeaders(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("put file: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 1024)}
	}
	httpkit.DrainAndClose(resp.Body, 1024)
	return nil
}
