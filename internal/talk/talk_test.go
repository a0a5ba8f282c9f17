package talk

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/platform"
)

func talkServer(t *testing.T, posted *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/ocs/v2.php/apps/spreed/api/v4/room" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"ocs": map[string]any{
					"meta": map[string]any{"status": "ok", "statuscode": 200},
					"data": []map[string]any{
						{"token": "abc123", "displayName": "Project Phoenix", "type": 2},
						{"token": "def456", "displayName": "Lunch group", "type": 3},
					},
				},
			})
		case strings.HasPrefix(r.URL.Path, "/ocs/v2.php/apps/spreed/api/v1/chat/"):
			if posted != nil {
				body := map[string]any{}
				json.NewDecoder(r.Body).Decode(&body)
				body["_token"] = strings.TrimPrefix(r.URL.Path, "/ocs/v2.php/apps/spreed/api/v1/chat/")
				*posted = body
			}
			json.NewEncoder(w).Encode(map[string]any{
				"ocs": map[string]any{
					"meta": map[string]any{"status": "ok", "statuscode": 201},
					"data": map[string]any{},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func client(url string) *platform.Client {
	return platform.NewClient(config.PlatformConfig{
		URL: url, AppID: "steward", AppVersion: "1.0.0", Secret: "s",
	}, slog.Default()).WithUser("alice")
}

func TestListConversations(t *testing.T) {
	srv := talkServer(t, nil)
	defer srv.Close()

	ut := &userTools{pc: client(srv.URL), logger: slog.Default()}
	out, err := ut.listConversations(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Project Phoenix") || !strings.Contains(out, "Lunch group") {
		t.Errorf("unexpected list:\n%s", out)
	}
}

func TestSendMessageResolvesConversationByName(t *testing.T) {
	var posted map[string]any
	srv := talkServer(t, &posted)
	defer srv.Close()

	ut := &userTools{pc: client(srv.URL), logger: slog.Default()}
	out, err := ut.sendMessage(context.Background(), map[string]any{
		"conversation_name": "project phoenix",
		"message":           "Standup moved to 10am.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Project Phoenix") {
		t.Errorf("unexpected result: %s", out)
	}
	if posted["_token"] != "abc123" {
		t.Errorf("posted to token %v, want abc123", posted["_token"])
	}
	if posted["message"] != "Standup moved to 10am." {
		t.Errorf("message = %v", posted["message"])
	}
}

func TestSendMessageUnknownConversation(t *testing.T) {
	srv := talkServer(t, nil)
	defer srv.Close()

	ut := &userTools{pc: client(srv.URL), logger: slog.Default()}
	_, err := ut.sendMessage(context.Background(), map[string]any{
		"conversation_name": "nonexistent",
		"message":           "hello",
	})
	if err == nil || !strings.Contains(err.Error(), "nonexistent") {
		t.Errorf("err = %v", err)
	}
}
