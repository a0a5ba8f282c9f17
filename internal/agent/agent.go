// Package agent runs one conversational interaction end to end: token
// import, tool discovery, graph execution, and token export.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stewardhq/steward/internal/audit"
	"github.com/stewardhq/steward/internal/checkpoint"
	"github.com/stewardhq/steward/internal/graph"
	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/tools"
)

// Confirmation values carried by a queued task.
const (
	ConfirmationNone     = 0
	ConfirmationApproved = 1
)

// deniedResult is the tool result substituted for a dangerous call the
// user rejected. The user's reasoning is passed through verbatim.
const deniedResult = "API call denied by user. Reasoning: '%s'. Continue assisting, accounting for the user's input."

// LLMFactory builds the model client for one interaction, bound to a
// user-scoped platform client.
type LLMFactory func(pc *platform.Client) llm.Client

// Engine processes queued interactions. It holds no per-conversation
// state; everything a conversation needs travels in its token.
type Engine struct {
	codec    *checkpoint.Codec
	registry *tools.Registry
	newLLM   LLMFactory
	audit    *audit.Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an engine. auditStore may be nil to disable
// decision recording.
func NewEngine(codec *checkpoint.Codec, registry *tools.Registry, newLLM LLMFactory, auditStore *audit.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if newLLM == nil {
		newLLM = func(pc *platform.Client) llm.Client {
			return llm.NewChatTask(pc, logger)
		}
	}
	return &Engine{
		codec:    codec,
		registry: registry,
		newLLM:   newLLM,
		audit:    auditStore,
		logger:   logger,
		now:      time.Now,
	}
}

// Response is the output envelope of one interaction.
type Response struct {
	// Output is the assistant's reply text.
	Output string
	// Actions is a JSON array of the tool calls held for confirmation,
	// empty when nothing is pending.
	Actions string
	// ConversationToken carries the complete conversation state for the
	// next request.
	ConversationToken string
	// Sources names the tools consulted while producing this reply.
	Sources []string
}

// Map renders the response for the task-processing result report.
func (r *Response) Map() map[string]any {
	sources := r.Sources
	if sources == nil {
		sources = []string{}
	}
	return map[string]any{
		"output":             r.Output,
		"actions":            r.Actions,
		"conversation_token": r.ConversationToken,
		"sources":            sources,
	}
}

// HandleTask runs one queued interaction to its next stopping point:
// either a final reply or an interrupt awaiting confirmation of
// dangerous tool calls.
func (e *Engine) HandleTask(ctx context.Context, pc *platform.Client, task *platform.QueuedTask) (*Response, error) {
	store, err := e.codec.Import(task.Input.ConversationToken)
	if err != nil {
		return nil, fmt.Errorf("conversation token: %w", err)
	}

	set, err := e.registry.BuildFor(ctx, pc, task.UserID)
	if err != nil {
		return nil, fmt.Errorf("build tool set: %w", err)
	}

	g := e.buildGraph(store, set, pc, task.Input.Memories)

	input, pendingBefore := e.turnInput(g, task)

	// Remember where the transcript ended so the audit pass can tell
	// this run's tool results apart from earlier turns'.
	baseLen := 0
	if prev, _, ok := g.Snapshot(); ok {
		baseLen = len(prev.Messages)
	}

	st, next, err := g.Run(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("run conversation: %w", err)
	}

	e.recordDecisions(ctx, task, set, st, next, pendingBefore, baseLen)

	token, err := e.codec.Export(store)
	if err != nil {
		return nil, fmt.Errorf("export conversation token: %w", err)
	}

	resp := &Response{
		ConversationToken: token,
		Sources:           toolsSinceLastUserMessage(st),
	}
	if last := lastAssistantMessage(st); last != nil {
		resp.Output = last.Content
	}
	if next == graph.NodeDangerousTools {
		actions, err := json.Marshal(st.PendingToolCalls())
		if err != nil {
			return nil, fmt.Errorf("encode pending actions: %w", err)
		}
		resp.Actions = string(actions)
	}
	return resp, nil
}

// buildGraph wires the conversation state machine: the reasoning node,
// the two tool nodes, and the interrupt gate in front of the dangerous
// one.
func (e *Engine) buildGraph(store *checkpoint.Store, set *tools.Set, pc *platform.Client, memories []string) *graph.Graph {
	model := e.newLLM(pc)
	systemPrompt := BuildSystemPrompt(e.now(), set, memories)

	g := graph.New(store, checkpoint.DefaultThreadID, e.logger)

	g.AddNode(graph.NodeAgent, func(ctx context.Context, st *graph.State) ([]graph.Message, error) {
		reply, err := model.Chat(ctx, systemPrompt, st.Messages, set.Specs())
		if err != nil {
			return nil, err
		}
		return []graph.Message{*reply}, nil
	})

	safe, dangerous := set.Handlers()
	g.AddNode(graph.NodeSafeTools, graph.ToolNode(safe))
	g.AddNode(graph.NodeDangerousTools, graph.ToolNode(dangerous))

	gated := make(map[string]bool, len(dangerous))
	for name := range dangerous {
		gated[name] = true
	}

	g.SetEntryPoint(graph.NodeAgent)
	g.AddConditionalEdge(graph.NodeAgent, graph.RouteAfterAgent(gated))
	g.AddEdge(graph.NodeSafeTools, graph.NodeAgent)
	g.AddEdge(graph.NodeDangerousTools, graph.NodeAgent)
	g.InterruptBefore(graph.NodeDangerousTools)

	return g
}

// turnInput derives the graph input from the task, distinguishing a
// fresh user turn from the two resume paths of an interrupted
// conversation. It also returns the calls that were pending before
// this turn, for decision recording.
func (e *Engine) turnInput(g *graph.Graph, task *platform.QueuedTask) ([]graph.Message, []graph.ToolCall) {
	st, next, ok := g.Snapshot()
	if !ok || next != graph.NodeDangerousTools {
		return []graph.Message{{Role: graph.RoleUser, Content: task.Input.Input}}, nil
	}

	pending := st.PendingToolCalls()
	if task.Input.Confirmation == ConfirmationApproved {
		// Resume into the held node with the original arguments.
		return nil, pending
	}

	// Denied: substitute a synthesized result for every held call so
	// the model can account for the user's reasoning.
	results := make([]graph.Message, 0, len(pending))
	for _, call := range pending {
		results = append(results, graph.Message{
			Role:       graph.RoleTool,
			Content:    fmt.Sprintf(deniedResult, task.Input.Input),
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}
	return results, pending
}

// recordDecisions writes the audit trail for this turn: proposals when
// the run pauses, confirmations or denials when it resumes, and one
// auto_safe row per safe tool execution. Failures are logged, never
// fatal.
func (e *Engine) recordDecisions(ctx context.Context, task *platform.QueuedTask, set *tools.Set, st *graph.State, next string, pendingBefore []graph.ToolCall, baseLen int) {
	if e.audit == nil {
		return
	}

	record := func(tool, decision, detail string) {
		if err := e.audit.Record(ctx, task.UserID, tool, decision, detail); err != nil {
			e.logger.Warn("could not record tool decision",
				"user", task.UserID, "tool", tool, "decision", decision, "error", err)
		}
	}

	for _, call := range pendingBefore {
		if task.Input.Confirmation == ConfirmationApproved {
			record(call.Name, audit.DecisionConfirmed, "")
		} else {
			record(call.Name, audit.DecisionDenied, task.Input.Input)
		}
	}

	if next == graph.NodeDangerousTools {
		for _, call := range st.PendingToolCalls() {
			args, _ := json.Marshal(call.Args)
			record(call.Name, audit.DecisionProposed, string(args))
		}
	}

	// Safe tools ran without confirmation; denial results and confirmed
	// dangerous executions carry dangerous tool names and are skipped.
	if baseLen > len(st.Messages) {
		baseLen = len(st.Messages)
	}
	for _, m := range st.Messages[baseLen:] {
		if m.Role != graph.RoleTool {
			continue
		}
		if t := set.Lookup(m.Name); t != nil && t.Safety != tools.SafetyDangerous {
			record(m.Name, audit.DecisionAutoSafe, "")
		}
	}
}

// lastAssistantMessage returns the newest assistant message, or nil.
func lastAssistantMessage(st *graph.State) *graph.Message {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == graph.RoleAssistant {
			return &st.Messages[i]
		}
	}
	return nil
}

// toolsSinceLastUserMessage names the tools whose results arrived after
// the user last spoke, deduplicated in first-use order.
func toolsSinceLastUserMessage(st *graph.State) []string {
	start := 0
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == graph.RoleUser {
			start = i + 1
			break
		}
	}

	var sources []string
	seen := make(map[string]bool)
	for _, m := range st.Messages[start:] {
		if m.Role != graph.RoleTool || m.Name == "" {
			continue
		}
		name := strings.TrimSpace(m.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		sources = append(sources, name)
	}
	return sources
}
