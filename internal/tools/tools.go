// Package tools defines the tools available to the agent and the
// registry that assembles them per user.
package tools

import (
	"context"

	"github.com/stewardhq/steward/internal/llm"
)

// Safety classifies how a tool may be invoked. Safe tools run
// automatically; dangerous tools are held until the user confirms them.
type Safety int

const (
	// SafetyUnspecified means the provider never classified the tool.
	// The registry treats it as safe but logs the omission.
	SafetyUnspecified Safety = iota
	SafetySafe
	SafetyDangerous
)

func (s Safety) String() string {
	switch s {
	case SafetySafe:
		return "safe"
	case SafetyDangerous:
		return "dangerous"
	default:
		return "unspecified"
	}
}

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Safety      Safety
	Handler     func(ctx context.Context, args map[string]any) (string, error)
}

// Spec returns the tool's declaration in the shape the model expects.
func (t *Tool) Spec() llm.ToolSpec {
	return llm.Spec(t.Name, t.Description, t.Parameters)
}
