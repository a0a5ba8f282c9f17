package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stewardhq/steward/internal/audit"
	"github.com/stewardhq/steward/internal/checkpoint"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/graph"
	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/signer"
	"github.com/stewardhq/steward/internal/tools"
)

// scriptedModel replays a fixed sequence of assistant replies.
type scriptedModel struct {
	replies []graph.Message
	calls   int
}

func (m *scriptedModel) Chat(ctx context.Context, systemPrompt string, messages []graph.Message, specs []llm.ToolSpec) (*graph.Message, error) {
	if m.calls >= len(m.replies) {
		return &graph.Message{Role: graph.RoleAssistant, Content: "out of script"}, nil
	}
	reply := m.replies[m.calls]
	m.calls++
	return &reply, nil
}

// stubProvider serves a fixed tool list.
type stubProvider struct {
	category string
	tools    []*tools.Tool
}

func (p *stubProvider) CategoryName() string { return p.category }
func (p *stubProvider) IsAvailable(ctx context.Context, pc *platform.Client) bool {
	return true
}
func (p *stubProvider) Tools(ctx context.Context, pc *platform.Client) ([]*tools.Tool, error) {
	return p.tools, nil
}

// emptyConfigServer answers the tool toggle lookup with no overrides.
func emptyConfigServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ocs": map[string]any{
				"meta": map[string]any{"status": "ok", "statuscode": 200},
				"data": map[string]any{"configkey": "tool_status", "configvalue": "{}"},
			},
		})
	}))
}

type testEnv struct {
	engine *Engine
	pc     *platform.Client
	audit  *audit.Store
	email  *int // counts send_email executions
}

func newTestEnv(t *testing.T, model *scriptedModel) *testEnv {
	t.Helper()

	srv := emptyConfigServer(t)
	t.Cleanup(srv.Close)
	pc := platform.NewClient(config.PlatformConfig{
		URL: srv.URL, AppID: "steward", AppVersion: "1.0.0", Secret: "s",
	}, slog.Default())

	emailCount := 0
	provider := &stubProvider{category: "test", tools: []*tools.Tool{
		{
			Name:        "list_calendar_events",
			Description: "List events.",
			Parameters:  map[string]any{"type": "object"},
			Safety:      tools.SafetySafe,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return "Found 1 event(s):\n- Dentist: 2026-08-30T09:00:00Z", nil
			},
		},
		{
			Name:        "send_email",
			Description: "Send an email.",
			Parameters:  map[string]any{"type": "object"},
			Safety:      tools.SafetyDangerous,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				emailCount++
				return "Email sent.", nil
			},
		},
	}}
	registry := tools.NewRegistry(pc, []tools.Provider{provider}, time.Minute, slog.Default())

	sig, err := signer.New([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	codec := checkpoint.NewCodec(sig)

	auditStore, err := audit.NewStore(filepath.Join(t.TempDir(), "audit.db"), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { auditStore.Close() })

	engine := NewEngine(codec, registry,
		func(pc *platform.Client) llm.Client { return model },
		auditStore, slog.Default())

	return &testEnv{engine: engine, pc: pc.WithUser("alice"), audit: auditStore, email: &emailCount}
}

func userTask(input, token string, confirmation int) *platform.QueuedTask {
	return &platform.QueuedTask{
		ID:     1,
		Type:   platform.ProviderTaskType,
		UserID: "alice",
		Input: platform.TaskInput{
			Input:             input,
			Confirmation:      confirmation,
			ConversationToken: token,
		},
	}
}

func TestHandleTaskSafeToolFlow(t *testing.T) {
	model := &scriptedModel{replies: []graph.Message{
		{Role: graph.RoleAssistant, ToolCalls: []graph.ToolCall{
			{ID: "c1", Name: "list_calendar_events", Args: map[string]any{}},
		}},
		{Role: graph.RoleAssistant, Content: "You have a dentist appointment tomorrow at 9am."},
	}}
	env := newTestEnv(t, model)

	resp, err := env.engine.HandleTask(context.Background(), env.pc, userTask("What is on my calendar?", "", 0))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Output, "dentist appointment") {
		t.Errorf("output = %q", resp.Output)
	}
	if resp.Actions != "" {
		t.Errorf("actions = %q, want empty", resp.Actions)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != "list_calendar_events" {
		t.Errorf("sources = %v", resp.Sources)
	}
	if resp.ConversationToken == "" {
		t.Error("conversation token missing")
	}
	if model.calls != 2 {
		t.Errorf("model called %d times, want 2", model.calls)
	}

	entries, err := env.audit.List(context.Background(), "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Decision != audit.DecisionAutoSafe || entries[0].Tool != "list_calendar_events" {
		t.Errorf("audit entries = %+v", entries)
	}
}

func TestHandleTaskDangerousInterruptAndConfirm(t *testing.T) {
	model := &scriptedModel{replies: []graph.Message{
		{Role: graph.RoleAssistant, Content: "I will send that email once you confirm.",
			ToolCalls: []graph.ToolCall{
				{ID: "c1", Name: "send_email", Args: map[string]any{"to": "bob@example.com"}},
			}},
		{Role: graph.RoleAssistant, Content: "Done, the email is on its way."},
	}}
	env := newTestEnv(t, model)
	ctx := context.Background()

	// Turn one: the dangerous call is held, not executed.
	resp, err := env.engine.HandleTask(ctx, env.pc, userTask("Email bob about lunch", "", ConfirmationNone))
	if err != nil {
		t.Fatal(err)
	}
	if *env.email != 0 {
		t.Fatal("dangerous tool executed without confirmation")
	}
	var held []graph.ToolCall
	if err := json.Unmarshal([]byte(resp.Actions), &held); err != nil {
		t.Fatalf("actions not valid JSON: %v", err)
	}
	if len(held) != 1 || held[0].Name != "send_email" {
		t.Fatalf("held actions = %+v", held)
	}
	if held[0].Args["to"] != "bob@example.com" {
		t.Errorf("held args = %v", held[0].Args)
	}

	// Turn two: confirmation resumes into the held node.
	resp2, err := env.engine.HandleTask(ctx, env.pc, userTask("", resp.ConversationToken, ConfirmationApproved))
	if err != nil {
		t.Fatal(err)
	}
	if *env.email != 1 {
		t.Errorf("dangerous tool executed %d times after confirmation, want 1", *env.email)
	}
	if !strings.Contains(resp2.Output, "on its way") {
		t.Errorf("output = %q", resp2.Output)
	}
	if resp2.Actions != "" {
		t.Errorf("actions = %q after completion", resp2.Actions)
	}
	if len(resp2.Sources) != 1 || resp2.Sources[0] != "send_email" {
		t.Errorf("sources = %v", resp2.Sources)
	}

	// Audit trail: proposed on hold, confirmed on resume.
	entries, err := env.audit.List(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	decisions := make([]string, len(entries))
	for i, e := range entries {
		decisions[i] = e.Decision
	}
	if len(entries) != 2 || entries[0].Decision != audit.DecisionConfirmed || entries[1].Decision != audit.DecisionProposed {
		t.Errorf("audit decisions = %v", decisions)
	}
}

func TestHandleTaskDenialSkipsToolAndPassesReasoning(t *testing.T) {
	model := &scriptedModel{replies: []graph.Message{
		{Role: graph.RoleAssistant, ToolCalls: []graph.ToolCall{
			{ID: "c1", Name: "send_email", Args: map[string]any{"to": "bob@example.com"}},
		}},
		{Role: graph.RoleAssistant, Content: "Understood, I won't send it."},
	}}
	env := newTestEnv(t, model)
	ctx := context.Background()

	resp, err := env.engine.HandleTask(ctx, env.pc, userTask("Email bob", "", ConfirmationNone))
	if err != nil {
		t.Fatal(err)
	}

	resp2, err := env.engine.HandleTask(ctx, env.pc,
		userTask("wrong recipient, it should go to carol", resp.ConversationToken, ConfirmationNone))
	if err != nil {
		t.Fatal(err)
	}
	if *env.email != 0 {
		t.Error("denied tool was executed")
	}
	if !strings.Contains(resp2.Output, "won't send it") {
		t.Errorf("output = %q", resp2.Output)
	}

	// The denial reached the model as a synthesized tool result.
	token := resp2.ConversationToken
	store, err := checkpointStoreFromToken(t, token)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	st, _, _ := store.LatestCheckpoint(checkpoint.DefaultThreadID)
	for _, m := range st.Messages {
		if m.Role == graph.RoleTool &&
			strings.Contains(m.Content, "API call denied by user") &&
			strings.Contains(m.Content, "wrong recipient, it should go to carol") {
			found = true
		}
	}
	if !found {
		t.Error("denial result not recorded in conversation")
	}

	entries, err := env.audit.List(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Decision != audit.DecisionDenied {
		t.Errorf("audit entries = %+v", entries)
	}
	if entries[0].Detail != "wrong recipient, it should go to carol" {
		t.Errorf("denial detail = %q", entries[0].Detail)
	}
}

func TestHandleTaskRejectsTamperedToken(t *testing.T) {
	model := &scriptedModel{}
	env := newTestEnv(t, model)

	_, err := env.engine.HandleTask(context.Background(), env.pc,
		userTask("hello", "not-a-valid-token", 0))
	if err == nil {
		t.Fatal("expected error for invalid token")
	}
	if !strings.Contains(err.Error(), "conversation token") {
		t.Errorf("err = %v", err)
	}
	if model.calls != 0 {
		t.Error("model consulted despite invalid token")
	}
}

// checkpointStoreFromToken re-imports a token with the test key.
func checkpointStoreFromToken(t *testing.T, token string) (*checkpoint.Store, error) {
	t.Helper()
	sig, err := signer.New([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	return checkpoint.NewCodec(sig).Import(token)
}
