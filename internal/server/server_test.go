package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/intake"
	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/tools"
)

const testSecret = "lifecycle-secret"

type nullSource struct{}

func (nullSource) NextTask(ctx context.Context, providerID, taskType string) (*platform.QueuedTask, error) {
	return nil, nil
}
func (nullSource) ReportResult(ctx context.Context, taskID int64, output map[string]any) error {
	return nil
}
func (nullSource) ReportError(ctx context.Context, taskID int64, message string) error {
	return nil
}

func newTestServer(t *testing.T, unregistered *atomic.Int32) *Server {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && unregistered != nil {
			unregistered.Add(1)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ocs": map[string]any{
				"meta": map[string]any{"status": "ok", "statuscode": 200},
				"data": map[string]any{},
			},
		})
	}))
	t.Cleanup(backend.Close)

	pc := platform.NewClient(config.PlatformConfig{
		URL: backend.URL, AppID: "steward", AppVersion: "1.0.0", Secret: testSecret,
	}, slog.Default())

	loop := intake.NewLoop(nullSource{}, func(ctx context.Context, task *platform.QueuedTask) (map[string]any, error) {
		return map[string]any{}, nil
	}, platform.ProviderID, platform.ProviderTaskType, slog.Default())

	registry := tools.NewRegistry(pc, nil, time.Minute, slog.Default())

	return New(config.ListenConfig{Port: 0}, testSecret, pc, loop, registry, slog.Default())
}

func authHeader(secret string) string {
	return base64.StdEncoding.EncodeToString([]byte("admin:" + secret))
}

func doRequest(t *testing.T, h http.Handler, method, path, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if secret != "" {
		req.Header.Set("AUTHORIZATION-APP-API", authHeader(secret))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHeartbeatNeedsNoAuth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/heartbeat", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestAuthRejectsBadSecret(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	if rec := doRequest(t, h, http.MethodPost, "/trigger", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: status = %d", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodPost, "/trigger", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	req.Header.Set("AUTHORIZATION-APP-API", "not base64!!")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("malformed header: status = %d", rec.Code)
	}
}

func TestEnabledTogglesLoop(t *testing.T) {
	var unregistered atomic.Int32
	s := newTestServer(t, &unregistered)
	h := s.Handler()

	rec := doRequest(t, h, http.MethodPut, "/enabled?enabled=1", testSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable: status = %d", rec.Code)
	}
	if !s.loop.Enabled() {
		t.Error("loop not enabled")
	}
	if unregistered.Load() != 0 {
		t.Error("provider unregistered on enable")
	}

	rec = doRequest(t, h, http.MethodPut, "/enabled?enabled=0", testSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable: status = %d", rec.Code)
	}
	if s.loop.Enabled() {
		t.Error("loop still enabled")
	}
	if unregistered.Load() != 1 {
		t.Errorf("unregister calls = %d, want 1", unregistered.Load())
	}
}

func TestTrigger(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(t, s.Handler(), http.MethodPost, "/trigger", testSecret)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, nil)
	s.loop.SetEnabled(true)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/status", testSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["enabled"] != true {
		t.Errorf("enabled = %v", body["enabled"])
	}
	if _, ok := body["version"]; !ok {
		t.Error("version missing")
	}
}
