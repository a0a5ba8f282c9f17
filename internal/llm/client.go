// Package llm provides the reasoning backend client used by the agent
// node. The production implementation delegates to the platform's own
// task-processing service rather than calling a model API directly.
package llm

import (
	"context"

	"github.com/stewardhq/steward/internal/graph"
)

// ToolSpec is a model-facing tool declaration in the OpenAI function
// format: {"type": "function", "function": {name, description, parameters}}.
type ToolSpec map[string]any

// Client is the interface the agent node drives.
type Client interface {
	// Chat sends the system prompt and message history and returns the
	// model's next assistant message, which may carry tool calls.
	Chat(ctx context.Context, systemPrompt string, messages []graph.Message, tools []ToolSpec) (*graph.Message, error)
}

// Spec converts a tool's metadata to the wire declaration.
func Spec(name, description string, parameters map[string]any) ToolSpec {
	return ToolSpec{
		"type": "function",
		"function": map[string]any{
			"name":        name,
			"description": description,
			"parameters":  parameters,
		},
	}
}
