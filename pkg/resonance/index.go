package resonance

import (
	"context"
	"fmt"
	"sync"

	"github.com/kadirpekel/accord/pkg/vector"
)

// IndexEntry is a single agent registered in a resonance index.
type IndexEntry struct {
	// AgentID uniquely identifies the agent.
	AgentID string

	// DisplayName is the human-readable agent name.
	DisplayName string

	// Vector is the agent's profile embedding.
	Vector vector.Vector

	// Scenes the agent participates in. An entry with no scenes is only
	// visible to unscoped searches.
	Scenes []string
}

// Index is a searchable store of agent vectors.
//
// Search returns at most topK activations for the demand vector,
// restricted to agents in the given scene when scene is non-empty.
// Results are ordered by score descending with agent ID ascending as
// the tie-break. A topK <= 0 or a zero-norm demand vector yields an
// empty result, never an error.
type Index interface {
	Upsert(ctx context.Context, entry IndexEntry) error
	Search(ctx context.Context, demand vector.Vector, topK int, scene string) ([]Activation, error)
	Delete(ctx context.Context, agentID string) error
	Close() error
}

// MemoryIndex keeps all entries in process memory. Search delegates to
// Detect, so ranking and tie ordering are exact.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]IndexEntry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]IndexEntry)}
}

// Upsert adds or replaces the entry for its agent ID.
func (idx *MemoryIndex) Upsert(ctx context.Context, entry IndexEntry) error {
	if entry.AgentID == "" {
		return fmt.Errorf("agent id is required")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[entry.AgentID] = entry
	return nil
}

// Search snapshots the scene-filtered candidate set and runs Detect
// over it.
func (idx *MemoryIndex) Search(ctx context.Context, demand vector.Vector, topK int, scene string) ([]Activation, error) {
	idx.mu.RLock()
	candidates := make(map[string]vector.Vector, len(idx.entries))
	for agentID, entry := range idx.entries {
		if scene != "" && !hasScene(entry.Scenes, scene) {
			continue
		}
		candidates[agentID] = entry.Vector
	}
	idx.mu.RUnlock()

	return Detect(demand, candidates, topK), nil
}

// Delete removes the entry for agentID. Deleting an unknown agent is a
// no-op.
func (idx *MemoryIndex) Delete(ctx context.Context, agentID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, agentID)
	return nil
}

// Close releases nothing; the index lives entirely in memory.
func (idx *MemoryIndex) Close() error { return nil }

// Entry returns the registered entry for agentID.
func (idx *MemoryIndex) Entry(agentID string) (IndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	entry, ok := idx.entries[agentID]
	return entry, ok
}

// Len reports the number of registered entries.
func (idx *MemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

func hasScene(scenes []string, scene string) bool {
	for _, s := range scenes {
		if s == scene {
			return true
		}
	}
	return false
}

var _ Index = (*MemoryIndex)(nil)
