package tools

import (
	"context"
	"testing"

	"github.com/kadirpekel/accord/pkg/session"
)

func TestSpawnSubNegotiation_Delegates(t *testing.T) {
	sess := newSynthesizingSession(t, "agent-a")
	h := NewSpawnSubNegotiation()

	var gotDemand, gotScope string
	ec := EngineContext{
		MaxDepth: 1,
		Spawn: func(ctx context.Context, parent *session.Session, subDemand, scope string) (map[string]any, error) {
			gotDemand, gotScope = subDemand, scope
			return map[string]any{"sub_negotiation_id": "neg-child", "status": "COMPLETED"}, nil
		},
	}

	artifact, err := h.Handle(context.Background(), sess, map[string]any{
		"sub_demand": "Find a devops engineer",
		"scope":      "scene:hiring",
	}, ec)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if gotDemand != "Find a devops engineer" || gotScope != "scene:hiring" {
		t.Errorf("spawn called with (%q, %q)", gotDemand, gotScope)
	}
	if artifact["sub_negotiation_id"] != "neg-child" {
		t.Errorf("artifact = %v", artifact)
	}
}

func TestSpawnSubNegotiation_MaxDepth(t *testing.T) {
	parent := newSynthesizingSession(t, "agent-a")
	child := session.NewChild(parent, "nested demand")
	h := NewSpawnSubNegotiation()

	spawned := false
	ec := EngineContext{
		MaxDepth: 1,
		Spawn: func(ctx context.Context, parent *session.Session, subDemand, scope string) (map[string]any, error) {
			spawned = true
			return map[string]any{}, nil
		},
	}

	// The child sits at the depth bound; recursion from it is a no-op.
	artifact, err := h.Handle(context.Background(), child, map[string]any{
		"sub_demand": "go deeper",
	}, ec)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if artifact["skipped"] != true || artifact["reason"] != "max_depth" {
		t.Errorf("artifact = %v, want skipped=true reason=max_depth", artifact)
	}
	if spawned {
		t.Error("spawn invoked past the depth bound")
	}
}

func TestSpawnSubNegotiation_DepthZeroDisables(t *testing.T) {
	sess := newSynthesizingSession(t)
	h := NewSpawnSubNegotiation()

	artifact, err := h.Handle(context.Background(), sess, map[string]any{
		"sub_demand": "anything",
	}, EngineContext{MaxDepth: 0})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if artifact["skipped"] != true {
		t.Errorf("artifact = %v, want skipped=true", artifact)
	}
}

func TestSpawnSubNegotiation_MissingDemand(t *testing.T) {
	sess := newSynthesizingSession(t)
	h := NewSpawnSubNegotiation()

	for _, args := range []map[string]any{nil, {}, {"sub_demand": "  "}} {
		if _, err := h.Handle(context.Background(), sess, args, EngineContext{MaxDepth: 1}); err == nil {
			t.Errorf("Handle(%v) expected error", args)
		}
	}
}

func TestSpawnSubNegotiation_NoSpawnFunc(t *testing.T) {
	sess := newSynthesizingSession(t)
	h := NewSpawnSubNegotiation()

	if _, err := h.Handle(context.Background(), sess, map[string]any{
		"sub_demand": "anything",
	}, EngineContext{MaxDepth: 1}); err == nil {
		t.Error("expected error without a spawn path")
	}
}
