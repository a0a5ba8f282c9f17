package graph

import (
	"context"
	"fmt"
	"log/slog"
)

// Node names. End is the implicit terminal state.
const (
	NodeAgent          = "agent"
	NodeSafeTools      = "safe_tools"
	NodeDangerousTools = "dangerous_tools"
	End                = "__end__"
)

// NodeFunc executes one node against the current state and returns the
// messages to append. It must not mutate the state it receives.
type NodeFunc func(ctx context.Context, st *State) ([]Message, error)

// RouteFunc inspects the state after a node ran and names the next node.
type RouteFunc func(st *State) string

// Saver persists a checkpoint after every node execution and yields the
// most recent one on resume. Implemented by the checkpoint store.
type Saver interface {
	// SaveCheckpoint records the state and the node that executes next.
	SaveCheckpoint(threadID string, st *State, next string) error
	// LatestCheckpoint returns the most recently saved state and next
	// node for the thread, or ok=false if none exists.
	LatestCheckpoint(threadID string) (st *State, next string, ok bool)
}

// Graph is the compiled state machine. Build one with New and the Add*
// methods, then drive it with Run. A Graph executes one thread; it is
// not safe for concurrent Runs on the same thread.
type Graph struct {
	threadID string
	saver    Saver
	logger   *slog.Logger

	nodes           map[string]NodeFunc
	edges           map[string]string
	conditional     map[string]RouteFunc
	entry           string
	interruptBefore map[string]bool
}

// New creates an empty graph bound to a checkpoint saver and thread.
func New(saver Saver, threadID string, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		threadID:        threadID,
		saver:           saver,
		logger:          logger,
		nodes:           make(map[string]NodeFunc),
		edges:           make(map[string]string),
		conditional:     make(map[string]RouteFunc),
		interruptBefore: make(map[string]bool),
	}
}

// AddNode registers a node.
func (g *Graph) AddNode(name string, fn NodeFunc) {
	g.nodes[name] = fn
}

// AddEdge registers an unconditional transition from one node to the next.
func (g *Graph) AddEdge(from, to string) {
	g.edges[from] = to
}

// AddConditionalEdge registers a routing function consulted after from
// executes. It takes precedence over an unconditional edge.
func (g *Graph) AddConditionalEdge(from string, route RouteFunc) {
	g.conditional[from] = route
}

// SetEntryPoint names the node a fresh turn starts at.
func (g *Graph) SetEntryPoint(name string) {
	g.entry = name
}

// InterruptBefore marks nodes that must not execute automatically.
// Whenever routing selects one of these nodes mid-run, Run checkpoints
// and returns instead of executing it, externalizing control.
func (g *Graph) InterruptBefore(names ...string) {
	for _, n := range names {
		g.interruptBefore[n] = true
	}
}

// Snapshot returns the checkpointed state and pending next node for the
// thread. ok is false when no checkpoint exists (fresh conversation).
func (g *Graph) Snapshot() (st *State, next string, ok bool) {
	return g.saver.LatestCheckpoint(g.threadID)
}

// next resolves the transition out of cur given the post-execution state.
func (g *Graph) next(cur string, st *State) string {
	if route, ok := g.conditional[cur]; ok {
		return route(st)
	}
	if to, ok := g.edges[cur]; ok {
		return to
	}
	return End
}

// Run advances the graph until it reaches End or pauses before an
// interrupt node. It returns the final state and the node that would
// execute next (End on normal completion).
//
// The input messages are interpreted against the stored checkpoint:
//
//   - no checkpoint, or the previous run completed: input starts a fresh
//     turn at the entry point;
//   - paused before a node and input is nil: execution resumes directly
//     into the pending node, with the exact state captured at the pause;
//   - paused before a node and input is non-nil: the input stands in for
//     the pending node's output (e.g. synthesized denial results); the
//     node is skipped and execution continues at its successor.
func (g *Graph) Run(ctx context.Context, input []Message) (*State, string, error) {
	stored, next, ok := g.Snapshot()

	var st *State
	resumed := false
	switch {
	case !ok || next == End || next == "":
		if g.entry == "" {
			return nil, "", fmt.Errorf("graph: no entry point set")
		}
		st = &State{}
		if ok {
			st = stored.Clone()
		}
		st.Append(input...)
		next = g.entry
		if err := g.saver.SaveCheckpoint(g.threadID, st, next); err != nil {
			return st, next, fmt.Errorf("graph: checkpoint input: %w", err)
		}
	case len(input) > 0:
		// Injected results replace the pending node's execution.
		st = stored.Clone()
		st.Append(input...)
		next = g.next(next, st)
		if err := g.saver.SaveCheckpoint(g.threadID, st, next); err != nil {
			return st, next, fmt.Errorf("graph: checkpoint input: %w", err)
		}
	default:
		// Resume into the pending node as checkpointed.
		st = stored.Clone()
		resumed = true
	}

	// arrived is false only for the node we resume into directly: an
	// interrupt must not re-fire for a node the caller explicitly
	// confirmed.
	arrived := !resumed
	for next != End {
		if arrived && g.interruptBefore[next] {
			g.logger.Debug("graph interrupted", "thread", g.threadID, "next", next)
			return st, next, nil
		}
		arrived = true

		node, found := g.nodes[next]
		if !found {
			return st, next, fmt.Errorf("graph: unknown node %q", next)
		}

		g.logger.Debug("graph executing node", "thread", g.threadID, "node", next)
		msgs, err := node(ctx, st)
		if err != nil {
			return st, next, fmt.Errorf("graph: node %s: %w", next, err)
		}

		st = st.Clone()
		st.Append(msgs...)
		next = g.next(next, st)

		if err := g.saver.SaveCheckpoint(g.threadID, st, next); err != nil {
			return st, next, fmt.Errorf("graph: checkpoint: %w", err)
		}
	}

	return st, End, nil
}
