package checkpoint

import (
	"encoding/json"
	"fmt"

	"github.com/stewardhq/steward/internal/signer"
)

// Codec converts between a Store and the signed conversation token that
// crosses the stateless request boundary.
//
// The current wire format ships only the last checkpoint, keeping token
// size bounded regardless of conversation length:
//
//	hex_sha512(128) ‖ json({"last_config": {"configurable": {...}}, "last_checkpoint": {...}})
//
// The legacy format, accepted read-only, is a signed dump of the whole
// nested store.
type Codec struct {
	signer *signer.Signer
}

// NewCodec creates a codec signing with the given signer.
func NewCodec(s *signer.Signer) *Codec {
	return &Codec{signer: s}
}

// configurable mirrors the coordinate envelope used on the wire.
type configurable struct {
	Configurable Coordinates `json:"configurable"`
}

// tokenPayload is the current compact wire payload.
type tokenPayload struct {
	LastConfig     *configurable `json:"last_config"`
	LastCheckpoint *Checkpoint   `json:"last_checkpoint"`
}

// Export serializes the store's most recent checkpoint into a signed
// token. All earlier checkpoints are deliberately dropped; the single
// retained snapshot is enough for the graph runtime to resume.
func (c *Codec) Export(s *Store) (string, error) {
	cp, coords, ok := s.Last()
	if !ok {
		return "", fmt.Errorf("export: store holds no checkpoint")
	}

	payload, err := json.Marshal(tokenPayload{
		LastConfig:     &configurable{Configurable: coords},
		LastCheckpoint: cp,
	})
	if err != nil {
		return "", fmt.Errorf("export: marshal: %w", err)
	}

	return string(c.signer.Sign(payload)), nil
}

// Import reconstructs a store from a token. An empty token or the
// literal "{}" yields a fresh empty store. Any other token must verify
// and parse in the current format; on failure the legacy format is
// tried, and if both legs fail the error from each is reported — a
// non-empty token that decodes in neither format fails the task rather
// than silently starting a fresh conversation.
func (c *Codec) Import(token string) (*Store, error) {
	if token == "" || token == "{}" {
		return NewStore(), nil
	}

	store, currentErr := c.importCurrent(token)
	if currentErr == nil {
		return store, nil
	}

	store, legacyErr := c.importLegacy(token)
	if legacyErr == nil {
		return store, nil
	}

	return nil, fmt.Errorf("import: current format: %v; legacy format: %w", currentErr, legacyErr)
}

// importCurrent decodes the compact {last_config, last_checkpoint}
// payload and splices the checkpoint into an empty store at exactly the
// coordinates given.
func (c *Codec) importCurrent(token string) (*Store, error) {
	payload, err := c.signer.Verify([]byte(token))
	if err != nil {
		return nil, err
	}

	var tp tokenPayload
	if err := json.Unmarshal(payload, &tp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if tp.LastConfig == nil || tp.LastCheckpoint == nil {
		return nil, fmt.Errorf("payload missing last_config or last_checkpoint")
	}

	store := NewStore()
	store.Put(tp.LastConfig.Configurable, tp.LastCheckpoint)
	return store, nil
}

// importLegacy decodes a full nested store dump. The most recently
// created checkpoint becomes the resume point.
func (c *Codec) importLegacy(token string) (*Store, error) {
	payload, err := c.signer.Verify([]byte(token))
	if err != nil {
		return nil, err
	}

	var dump map[string]map[string]map[string]*Checkpoint
	if err := json.Unmarshal(payload, &dump); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if len(dump) == 0 {
		return nil, fmt.Errorf("legacy dump holds no threads")
	}

	store := NewStore()
	var lastCoords Coordinates
	var newest *Checkpoint
	for thread, namespaces := range dump {
		for ns, ids := range namespaces {
			for id, cp := range ids {
				if cp == nil || cp.State == nil {
					return nil, fmt.Errorf("legacy checkpoint %s/%s/%s is malformed", thread, ns, id)
				}
				coords := Coordinates{ThreadID: thread, Namespace: ns, CheckpointID: id}
				store.Put(coords, cp)

				// Newest CreatedAt wins; equal timestamps fall back to
				// the lexically larger id (v7 ids order by time).
				switch {
				case newest == nil,
					cp.CreatedAt.After(newest.CreatedAt),
					cp.CreatedAt.Equal(newest.CreatedAt) && id > lastCoords.CheckpointID:
					lastCoords = coords
					newest = cp
				}
			}
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("legacy dump holds no checkpoints")
	}

	// Re-point lastWritten at the newest checkpoint, not merely the
	// last map iteration order.
	store.mu.Lock()
	store.lastWritten = &lastCoords
	store.mu.Unlock()

	return store, nil
}
