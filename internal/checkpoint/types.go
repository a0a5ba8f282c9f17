// Package checkpoint provides the in-memory checkpoint store the graph
// runtime persists into, and the codec that round-trips the store
// through a signed conversation token across stateless requests.
package checkpoint

import (
	"time"

	"github.com/stewardhq/steward/internal/graph"
)

// Coordinates locate one checkpoint within a store. The JSON field
// names are part of the token wire format.
type Coordinates struct {
	ThreadID     string `json:"thread_id"`
	Namespace    string `json:"checkpoint_ns"`
	CheckpointID string `json:"checkpoint_id"`
}

// Checkpoint is an immutable snapshot of conversation state plus the
// routing metadata needed to resume: the node that executes next.
type Checkpoint struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	State     *graph.State `json:"state"`
	Next      string       `json:"next"`
}
