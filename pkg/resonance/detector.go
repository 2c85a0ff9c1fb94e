// Package resonance ranks candidate agents against a demand vector.
//
// The core contract is Detect: given a demand vector and a candidate
// set, return the top-k agents by cosine similarity in deterministic
// order. Detect is pure and needs no infrastructure; the Index
// implementations layer persistence and scene filtering on top of it
// (in memory) or delegate the ranking to an external vector store
// (chromem, qdrant, pinecone).
package resonance

import (
	"sort"

	"github.com/kadirpekel/accord/pkg/vector"
)

// Activation is a single detector result: an agent and its cosine
// score against the demand vector.
type Activation struct {
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
}

// Detect ranks candidates against the demand vector by cosine
// similarity and returns the top kStar entries.
//
// Rules:
//   - kStar <= 0 or an empty candidate set returns an empty slice.
//   - A demand vector with norm below vector.Epsilon returns an empty
//     slice.
//   - A candidate with norm below vector.Epsilon scores 0 instead of
//     producing NaN.
//   - Results are ordered by score descending; equal scores are ordered
//     by agent ID ascending.
//
// Detect never mutates its inputs, and identical inputs always produce
// identical output.
func Detect(demand vector.Vector, candidates map[string]vector.Vector, kStar int) []Activation {
	if kStar <= 0 || len(candidates) == 0 {
		return []Activation{}
	}
	if vector.Norm(demand) < vector.Epsilon {
		return []Activation{}
	}

	activations := make([]Activation, 0, len(candidates))
	for agentID, v := range candidates {
		activations = append(activations, Activation{
			AgentID: agentID,
			Score:   vector.Cosine(demand, v),
		})
	}

	sortActivations(activations)

	if kStar < len(activations) {
		activations = activations[:kStar]
	}
	return activations
}

// sortActivations orders activations by score descending, breaking ties
// by agent ID ascending. Every Index implementation funnels its results
// through this so ordering stays deterministic across backends.
func sortActivations(activations []Activation) {
	sort.Slice(activations, func(i, j int) bool {
		if activations[i].Score != activations[j].Score {
			return activations[i].Score > activations[j].Score
		}
		return activations[i].AgentID < activations[j].AgentID
	})
}
