package checkpoint

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/graph"
)

// DefaultThreadID is the fixed thread identifier used per request.
// Full conversation state is round-tripped through the token, so a
// store only ever holds one thread's checkpoints.
const DefaultThreadID = "thread-1"

// Store is an in-memory checkpoint store keyed by
// (thread, namespace, checkpoint id). The most recently written
// coordinates are tracked explicitly so export never searches the
// nested maps. A Store lives for one task invocation and is discarded
// after the token is exported.
type Store struct {
	mu          sync.RWMutex
	threads     map[string]map[string]map[string]*Checkpoint
	lastWritten *Coordinates
}

// NewStore creates an empty store (a fresh conversation).
func NewStore() *Store {
	return &Store{
		threads: make(map[string]map[string]map[string]*Checkpoint),
	}
}

// Put stores a checkpoint at the given coordinates and marks them as
// last written. Checkpoints are never overwritten in place: each write
// uses a fresh checkpoint id, and existing entries stay until the store
// is discarded.
func (s *Store) Put(c Coordinates, cp *Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.threads[c.ThreadID]
	if !ok {
		ns = make(map[string]map[string]*Checkpoint)
		s.threads[c.ThreadID] = ns
	}
	ids, ok := ns[c.Namespace]
	if !ok {
		ids = make(map[string]*Checkpoint)
		ns[c.Namespace] = ids
	}
	ids[c.CheckpointID] = cp

	coords := c
	s.lastWritten = &coords
}

// Get returns the checkpoint at the given coordinates.
func (s *Store) Get(c Coordinates) (*Checkpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.threads[c.ThreadID][c.Namespace][c.CheckpointID]
	return cp, ok
}

// Last returns the most recently written checkpoint and its
// coordinates, or ok=false for an empty store.
func (s *Store) Last() (*Checkpoint, Coordinates, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastWritten == nil {
		return nil, Coordinates{}, false
	}
	cp, ok := s.threads[s.lastWritten.ThreadID][s.lastWritten.Namespace][s.lastWritten.CheckpointID]
	if !ok {
		return nil, Coordinates{}, false
	}
	return cp, *s.lastWritten, true
}

// SaveCheckpoint implements [graph.Saver]. Each node execution lands
// here with a fresh UUIDv7 checkpoint id under the empty namespace.
func (s *Store) SaveCheckpoint(threadID string, st *graph.State, next string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate checkpoint id: %w", err)
	}

	cp := &Checkpoint{
		ID:        id.String(),
		CreatedAt: time.Now().UTC(),
		State:     st.Clone(),
		Next:      next,
	}
	s.Put(Coordinates{ThreadID: threadID, CheckpointID: cp.ID}, cp)
	return nil
}

// LatestCheckpoint implements [graph.Saver].
func (s *Store) LatestCheckpoint(threadID string) (*graph.State, string, bool) {
	cp, coords, ok := s.Last()
	if !ok || coords.ThreadID != threadID {
		return nil, "", false
	}
	return cp.State, cp.Next, true
}
