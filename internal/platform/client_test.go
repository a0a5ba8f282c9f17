package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stewardhq/steward/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.PlatformConfig{
		URL:        srv.URL,
		AppID:      "steward",
		AppVersion: "1.0.0",
		Secret:     "test-secret",
	}, nil)
	return c, srv
}

func ocsReply(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"ocs": map[string]any{
			"meta": map[string]any{"status": "ok", "statuscode": 100},
			"data": data,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func TestOCSAuthHeaders(t *testing.T) {
	var gotAuth, gotAppID string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("AUTHORIZATION-APP-API")
		gotAppID = r.Header.Get("EX-APP-ID")
		ocsReply(t, w, map[string]any{})
	}))

	bound := c.WithUser("alice")
	if err := bound.OCS(context.Background(), http.MethodGet, "/ocs/v1.php/anything", nil, nil); err != nil {
		t.Fatal(err)
	}

	want := base64.StdEncoding.EncodeToString([]byte("alice:test-secret"))
	if gotAuth != want {
		t.Errorf("auth header = %q, want %q", gotAuth, want)
	}
	if gotAppID != "steward" {
		t.Errorf("app id header = %q", gotAppID)
	}

	// The original client must remain unbound.
	if c.UserID() != "" {
		t.Errorf("WithUser mutated the base client: %q", c.UserID())
	}
}

func TestOCSDecodesEnvelopeData(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ocsReply(t, w, map[string]any{"greeting": "hello"})
	}))

	var out struct {
		Greeting string `json:"greeting"`
	}
	if err := c.OCS(context.Background(), http.MethodGet, "/ocs/v1.php/test", nil, &out); err != nil {
		t.Fatal(err)
	}
	if out.Greeting != "hello" {
		t.Errorf("data = %+v", out)
	}
}

func TestOCSStatusError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))

	err := c.OCS(context.Background(), http.MethodGet, "/ocs/v1.php/test", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRateLimited(err) {
		t.Errorf("IsRateLimited = false for %v", err)
	}
}

func TestNextTaskEmptyQueue(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no task", http.StatusNotFound)
	}))

	task, err := c.NextTask(context.Background(), ProviderID, ProviderTaskType)
	if err != nil {
		t.Fatalf("empty queue must not error: %v", err)
	}
	if task != nil {
		t.Errorf("task = %+v, want nil", task)
	}
}

func TestNextTaskDecodesTask(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		ocsReply(t, w, map[string]any{
			"task": map[string]any{
				"id":     42,
				"type":   ProviderTaskType,
				"userId": "alice",
				"input": map[string]any{
					"input":              "hello",
					"confirmation":       0,
					"conversation_token": "",
				},
			},
		})
	}))

	task, err := c.NextTask(context.Background(), ProviderID, ProviderTaskType)
	if err != nil {
		t.Fatal(err)
	}
	if task == nil || task.ID != 42 || task.UserID != "alice" || task.Input.Input != "hello" {
		t.Errorf("task = %+v", task)
	}
}

func TestRunTaskImmediateSuccess(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/taskprocessing/schedule") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		ocsReply(t, w, map[string]any{
			"task": map[string]any{
				"id":     7,
				"status": StatusSuccessful,
				"output": map[string]any{"output": "fin"},
			},
		})
	}))

	out, err := c.RunTask(context.Background(), "core:text2text:chatwithtools", map[string]any{"input": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if out["output"] != "fin" {
		t.Errorf("output = %v", out)
	}
}

func TestToolStatusParsesConfig(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ocsReply(t, w, map[string]any{
			"configkey":   "tool_status",
			"configvalue": `{"calendar":true,"mail":false}`,
		})
	}))

	status, err := c.ToolStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !status["calendar"] || status["mail"] {
		t.Errorf("status = %v", status)
	}
}
