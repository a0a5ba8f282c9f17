package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stewardhq/steward/internal/graph"
	"github.com/stewardhq/steward/internal/platform"
)

// ChatTaskType is the platform task type that provides chat-with-tools
// inference.
const ChatTaskType = "core:text2text:chatwithtools"

// ChatTask implements Client on top of the platform's task-processing
// service: the chat request is scheduled as a job and polled until it
// reaches a terminal status.
type ChatTask struct {
	client *platform.Client
	logger *slog.Logger
}

// NewChatTask creates a ChatTask bound to a user-scoped platform client.
func NewChatTask(client *platform.Client, logger *slog.Logger) *ChatTask {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatTask{client: client, logger: logger}
}

// historyEntry is one prior message in the inference job's history
// field. Each entry travels as an individually JSON-encoded string.
type historyEntry struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []graph.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// Chat schedules one inference job and converts its output back into an
// assistant message.
//
// The job input splits the conversation into dedicated fields: the most
// recent user message becomes "input", the most recent tool result
// becomes "tool_message", and everything before them lands in
// "history" as encoded entries. Tool declarations travel pre-encoded in
// "tools".
func (c *ChatTask) Chat(ctx context.Context, systemPrompt string, messages []graph.Message, tools []ToolSpec) (*graph.Message, error) {
	input, err := buildTaskInput(systemPrompt, messages, tools)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("scheduling chat inference job", "messages", len(messages), "tools", len(tools))

	output, err := c.client.RunTask(ctx, ChatTaskType, input)
	if err != nil {
		return nil, fmt.Errorf("chat inference: %w", err)
	}

	content, ok := output["output"].(string)
	if !ok {
		return nil, fmt.Errorf("chat inference: %q key missing from job output", "output")
	}

	msg := &graph.Message{Role: graph.RoleAssistant, Content: content}

	if rawCalls, ok := output["tool_calls"].(string); ok && rawCalls != "" {
		if err := json.Unmarshal([]byte(rawCalls), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("chat inference: decode tool calls: %w", err)
		}
	}
	return msg, nil
}

// buildTaskInput shapes the conversation into the job's input schema.
func buildTaskInput(systemPrompt string, messages []graph.Message, tools []ToolSpec) (map[string]any, error) {
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return nil, fmt.Errorf("marshal tools: %w", err)
	}

	input := map[string]any{
		"system_prompt": systemPrompt,
		"tools":         string(toolsJSON),
		"tool_message":  "",
		"input":         "",
	}

	history := make([]string, 0, len(messages))
	lastUserIdx := -1
	lastToolIdx := -1

	for i, m := range messages {
		// The chat task's wire format names the user role "human".
		role := m.Role
		if role == graph.RoleUser {
			role = "human"
		}
		entry := historyEntry{
			Role:       role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("marshal history entry: %w", err)
		}
		history = append(history, string(raw))

		switch m.Role {
		case graph.RoleUser:
			input["input"] = m.Content
			lastUserIdx = i
		case graph.RoleTool:
			toolMsg, err := json.Marshal(map[string]any{
				"name":         m.Name,
				"content":      m.Content,
				"tool_call_id": m.ToolCallID,
			})
			if err != nil {
				return nil, fmt.Errorf("marshal tool message: %w", err)
			}
			input["tool_message"] = string(toolMsg)
			lastToolIdx = i
		}
	}

	// Messages that populated "input" or "tool_message" must not be
	// duplicated into history when they sit at the conversation's tail.
	for len(history) > 0 {
		i := len(history) - 1
		if i != lastUserIdx && i != lastToolIdx {
			break
		}
		history = history[:i]
	}

	input["history"] = history
	return input, nil
}
