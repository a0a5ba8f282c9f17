// Package graph implements the agent execution state machine: a
// reasoning node that calls the model, tool-execution nodes reached via
// conditional routing, and interrupt-before semantics that externalize
// side-effecting tool calls for user confirmation.
package graph

// Message roles. Tool results reference the call they answer via
// ToolCallID.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a structured function invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Message is one unit of conversation. Messages are append-only: once
// added to a State they are never mutated or removed.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool results
	Name       string     `json:"name,omitempty"`         // tool name, for tool results
}

// State is the conversation state threaded through the graph. The
// message sequence is monotonically non-decreasing in length across a
// run; merges append, never overwrite.
type State struct {
	Messages []Message `json:"messages"`
}

// Clone returns a copy sharing no slice headers with the original, so
// appends on the copy cannot disturb a checkpointed snapshot. Message
// values themselves are immutable by convention and are not deep-copied.
func (s *State) Clone() *State {
	out := &State{Messages: make([]Message, len(s.Messages))}
	copy(out.Messages, s.Messages)
	return out
}

// Append adds messages to the state.
func (s *State) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
}

// Last returns the most recent message, or nil for an empty state.
func (s *State) Last() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// PendingToolCalls returns the tool calls of the latest message if it
// is an assistant message carrying any, else nil. These are the calls a
// tool node would execute next.
func (s *State) PendingToolCalls() []ToolCall {
	last := s.Last()
	if last == nil || last.Role != RoleAssistant {
		return nil
	}
	return last.ToolCalls
}
