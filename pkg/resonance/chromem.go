// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resonance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kadirpekel/accord/pkg/vector"
)

// ChromemIndex stores agent vectors in an embedded chromem-go
// collection, optionally persisted to disk.
//
// This backend needs no external services, which makes it the default
// choice when the exact in-memory index is not enough (e.g. the agent
// set must survive restarts).
//
// Limitations:
//   - Single-process only (no distributed search)
//   - Memory-bound (all vectors in RAM)
//
// For larger deployments use the qdrant or pinecone backends.
type ChromemIndex struct {
	db          *chromem.DB
	collection  *chromem.Collection
	persistPath string
}

// ChromemOptions configures a ChromemIndex.
type ChromemOptions struct {
	// Collection name inside the database. Defaults to "agents".
	Collection string

	// PersistPath enables file persistence when non-empty. The
	// directory is created if it does not exist.
	PersistPath string
}

// NewChromemIndex opens (or creates) the chromem database and its
// collection. A persisted database is reloaded when present.
func NewChromemIndex(opts ChromemOptions) (*ChromemIndex, error) {
	if opts.Collection == "" {
		opts.Collection = "agents"
	}

	var db *chromem.DB
	if opts.PersistPath != "" {
		if err := os.MkdirAll(opts.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}

		dbPath := opts.PersistPath + "/vectors.gob"
		if _, statErr := os.Stat(dbPath); statErr == nil {
			loaded, err := chromem.NewPersistentDB(dbPath, false)
			if err != nil {
				slog.Warn("Failed to load existing vector database, creating new",
					"path", dbPath,
					"error", err)
				db = chromem.NewDB()
			} else {
				db = loaded
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	// Vectors arrive pre-computed from the encoder, so the collection's
	// embedding function must never run.
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
	}

	col, err := db.GetOrCreateCollection(opts.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", opts.Collection, err)
	}

	return &ChromemIndex{
		db:          db,
		collection:  col,
		persistPath: opts.PersistPath,
	}, nil
}

// Upsert adds or updates the agent's document with its pre-computed
// embedding. Scenes become boolean metadata keys so Search can filter
// on them.
func (idx *ChromemIndex) Upsert(ctx context.Context, entry IndexEntry) error {
	if entry.AgentID == "" {
		return fmt.Errorf("agent id is required")
	}

	metadata := map[string]string{
		"agent_id": entry.AgentID,
	}
	if entry.DisplayName != "" {
		metadata["display_name"] = entry.DisplayName
	}
	for _, scene := range entry.Scenes {
		metadata[sceneKey(scene)] = "true"
	}

	doc := chromem.Document{
		ID:        entry.AgentID,
		Content:   entry.DisplayName,
		Metadata:  metadata,
		Embedding: entry.Vector,
	}

	if err := idx.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if err := idx.persist(); err != nil {
		slog.Warn("Failed to persist after upsert", "error", err)
	}

	return nil
}

// Search queries the collection with the pre-computed demand vector and
// re-sorts the results for deterministic tie ordering.
func (idx *ChromemIndex) Search(ctx context.Context, demand vector.Vector, topK int, scene string) ([]Activation, error) {
	if topK <= 0 || vector.Norm(demand) < vector.Epsilon {
		return []Activation{}, nil
	}

	// chromem rejects nResults above the collection size.
	if n := idx.collection.Count(); topK > n {
		topK = n
	}
	if topK == 0 {
		return []Activation{}, nil
	}

	var whereFilter map[string]string
	if scene != "" {
		whereFilter = map[string]string{sceneKey(scene): "true"}
	}

	results, err := idx.collection.QueryEmbedding(ctx, demand, topK, whereFilter, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	activations := make([]Activation, 0, len(results))
	for _, r := range results {
		agentID := r.ID
		if id, ok := r.Metadata["agent_id"]; ok {
			agentID = id
		}
		activations = append(activations, Activation{
			AgentID: agentID,
			Score:   float64(r.Similarity),
		})
	}
	sortActivations(activations)

	return activations, nil
}

// Delete removes the agent's document from the collection.
func (idx *ChromemIndex) Delete(ctx context.Context, agentID string) error {
	if err := idx.collection.Delete(ctx, nil, nil, agentID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	if err := idx.persist(); err != nil {
		slog.Warn("Failed to persist after delete", "error", err)
	}

	return nil
}

// Close persists the database if persistence is enabled.
func (idx *ChromemIndex) Close() error {
	return idx.persist()
}

func (idx *ChromemIndex) persist() error {
	if idx.persistPath == "" {
		return nil
	}

	dbPath := idx.persistPath + "/vectors.gob"

	//nolint:staticcheck // Using deprecated function for compatibility
	if err := idx.db.Export(dbPath, false, ""); err != nil {
		return fmt.Errorf("failed to persist database: %w", err)
	}

	return nil
}

// sceneKey maps a scene ID onto a metadata key. chromem filters are
// exact string matches, so each scene gets its own boolean key.
func sceneKey(scene string) string {
	return "scene:" + scene
}

var _ Index = (*ChromemIndex)(nil)
