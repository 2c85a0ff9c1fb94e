package engine

import (
	"context"

	"github.com/kadirpekel/accord/pkg/resonance"
	"github.com/kadirpekel/accord/pkg/vector"
)

// Detector ranks the candidate agents of one matching phase against the
// demand vector and returns at most kStar activations, score descending
// with agent id as the tie-break.
//
// The engine snapshots the candidate set from the agent directory before
// calling Detect, so implementations never see agents outside the run's
// scope.
type Detector interface {
	Detect(ctx context.Context, demand vector.Vector, candidates map[string]vector.Vector, kStar int) ([]resonance.Activation, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, demand vector.Vector, candidates map[string]vector.Vector, kStar int) ([]resonance.Activation, error)

func (f DetectorFunc) Detect(ctx context.Context, demand vector.Vector, candidates map[string]vector.Vector, kStar int) ([]resonance.Activation, error) {
	return f(ctx, demand, candidates, kStar)
}

// DefaultDetector ranks candidates in process with resonance.Detect.
func DefaultDetector() Detector {
	return DetectorFunc(func(_ context.Context, demand vector.Vector, candidates map[string]vector.Vector, kStar int) ([]resonance.Activation, error) {
		return resonance.Detect(demand, candidates, kStar), nil
	})
}

// IndexDetector delegates ranking to a resonance index. Candidates are
// upserted before the search so the index always covers the run's
// snapshot; results are filtered back to that snapshot, because the
// index may hold agents registered outside the current scope.
type IndexDetector struct {
	Index resonance.Index
}

// NewIndexDetector wraps an index as a Detector.
func NewIndexDetector(index resonance.Index) *IndexDetector {
	return &IndexDetector{Index: index}
}

func (d *IndexDetector) Detect(ctx context.Context, demand vector.Vector, candidates map[string]vector.Vector, kStar int) ([]resonance.Activation, error) {
	if kStar <= 0 || len(candidates) == 0 {
		return []resonance.Activation{}, nil
	}

	for agentID, v := range candidates {
		if err := d.Index.Upsert(ctx, resonance.IndexEntry{AgentID: agentID, Vector: v}); err != nil {
			return nil, err
		}
	}

	// Over-fetch so snapshot filtering can still fill kStar slots.
	topK := kStar + len(candidates)
	activations, err := d.Index.Search(ctx, demand, topK, "")
	if err != nil {
		return nil, err
	}

	out := make([]resonance.Activation, 0, kStar)
	for _, act := range activations {
		if _, ok := candidates[act.AgentID]; !ok {
			continue
		}
		out = append(out, act)
		if len(out) == kStar {
			break
		}
	}
	return out, nil
}

var (
	_ Detector = DetectorFunc(nil)
	_ Detector = (*IndexDetector)(nil)
)
