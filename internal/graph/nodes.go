package graph

import (
	"context"
	"fmt"
)

// Handler executes one tool call and returns its textual result.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// ToolNode returns a NodeFunc that executes every tool call in the
// latest assistant message whose name resolves in handlers, appending
// one tool-result message per call, in call order.
//
// Failures stay local to the call that raised them: an error (or panic)
// from a handler becomes a tool-result message carrying the error text
// and a self-correction instruction, so the loop returns to the agent
// node instead of aborting the run.
func ToolNode(handlers map[string]Handler) NodeFunc {
	return func(ctx context.Context, st *State) ([]Message, error) {
		calls := st.PendingToolCalls()
		if len(calls) == 0 {
			return nil, fmt.Errorf("tool node reached with no pending tool calls")
		}

		results := make([]Message, 0, len(calls))
		for _, call := range calls {
			handler, ok := handlers[call.Name]
			if !ok {
				results = append(results, errorResult(call, fmt.Errorf("tool %q is not available in this context", call.Name)))
				continue
			}

			content, err := safeInvoke(ctx, handler, call.Args)
			if err != nil {
				results = append(results, errorResult(call, err))
				continue
			}

			results = append(results, Message{
				Role:       RoleTool,
				Content:    content,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
		return results, nil
	}
}

// safeInvoke shields the graph from panicking tool handlers.
func safeInvoke(ctx context.Context, handler Handler, args map[string]any) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return handler(ctx, args)
}

// errorResult converts a tool failure into a corrective tool message.
func errorResult(call ToolCall, err error) Message {
	return Message{
		Role:       RoleTool,
		Content:    fmt.Sprintf("Error: %v\n please fix your mistakes.", err),
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}

// RouteAfterAgent builds the routing function used after the agent node.
// No tool calls routes to End. A turn containing any dangerous call
// routes whole-turn to the dangerous node, so a turn mixing safe and
// dangerous calls is never partially auto-executed.
func RouteAfterAgent(dangerousNames map[string]bool) RouteFunc {
	return func(st *State) string {
		calls := st.PendingToolCalls()
		if len(calls) == 0 {
			return End
		}
		for _, call := range calls {
			if dangerousNames[call.Name] {
				return NodeDangerousTools
			}
		}
		return NodeSafeTools
	}
}
