package adapter

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kadirpekel/accord/pkg/vector"
)

func TestAgentRegistry_RegisterAndQuery(t *testing.T) {
	registry := NewAgentRegistry(NewMockAdapter())

	regs := []Registration{
		{AgentID: "beta", Scenes: []string{"supply"}},
		{AgentID: "alpha", Scenes: []string{"supply", "transport"}},
		{AgentID: "gamma"},
	}
	for _, reg := range regs {
		if err := registry.RegisterAgent(reg); err != nil {
			t.Fatalf("RegisterAgent(%s) error = %v", reg.AgentID, err)
		}
	}

	if err := registry.RegisterAgent(Registration{AgentID: "alpha"}); err == nil {
		t.Error("duplicate registration should be rejected")
	}
	if err := registry.RegisterAgent(Registration{}); err == nil {
		t.Error("empty agent id should be rejected")
	}
	if registry.Count() != 3 {
		t.Errorf("Count = %d, want 3", registry.Count())
	}
}

func TestAgentRegistry_Scopes(t *testing.T) {
	registry := NewAgentRegistry(nil)
	seed := []Registration{
		{AgentID: "b-supply", Scenes: []string{"supply"}},
		{AgentID: "a-transport", Scenes: []string{"transport"}},
		{AgentID: "c-everywhere"}, // untagged: participates in every scene
	}
	for _, reg := range seed {
		if err := registry.RegisterAgent(reg); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		scope string
		want  []string
	}{
		{"all", ScopeAll, []string{"a-transport", "b-supply", "c-everywhere"}},
		{"network is a synonym for all", ScopeNetwork, []string{"a-transport", "b-supply", "c-everywhere"}},
		{"empty defaults to all", "", []string{"a-transport", "b-supply", "c-everywhere"}},
		{"scene filter", "scene:supply", []string{"b-supply", "c-everywhere"}},
		{"scene without members", "scene:finance", []string{"c-everywhere"}},
		{"unrecognized scope matches nothing", "bogus", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := registry.AgentIDs(tt.scope)
			if len(got) == 0 {
				got = nil
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AgentIDs(%q) = %v, want %v", tt.scope, got, tt.want)
			}
		})
	}
}

func TestAgentRegistry_GetProfile(t *testing.T) {
	mock := NewMockAdapter()
	mock.SetProfile("live", map[string]any{"specialty": "from adapter"})
	registry := NewAgentRegistry(mock)

	if err := registry.RegisterAgent(Registration{
		AgentID:     "static",
		DisplayName: "Static Agent",
		Profile:     map[string]any{"specialty": "freight"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := registry.RegisterAgent(Registration{AgentID: "live"}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	// Registered payloads win over the adapter.
	static := registry.GetProfile(ctx, "static")
	if static["specialty"] != "freight" {
		t.Errorf("static profile = %v", static)
	}
	if static["agent_id"] != "static" || static["display_name"] != "Static Agent" {
		t.Errorf("static profile missing identity keys: %v", static)
	}

	// Agents without a payload route to the adapter.
	live := registry.GetProfile(ctx, "live")
	if live["specialty"] != "from adapter" {
		t.Errorf("live profile = %v", live)
	}

	// Unknown agents never fail.
	unknown := registry.GetProfile(ctx, "ghost")
	if !reflect.DeepEqual(unknown, map[string]any{"agent_id": "ghost"}) {
		t.Errorf("unknown profile = %v", unknown)
	}
}

func TestAgentRegistry_AdapterFor(t *testing.T) {
	own := NewMockAdapter()
	def := NewMockAdapter()
	registry := NewAgentRegistry(def)

	if err := registry.RegisterAgent(Registration{AgentID: "routed", Adapter: own}); err != nil {
		t.Fatal(err)
	}
	if err := registry.RegisterAgent(Registration{AgentID: "defaulted"}); err != nil {
		t.Fatal(err)
	}

	got, err := registry.AdapterFor("routed")
	if err != nil || got != Adapter(own) {
		t.Errorf("AdapterFor(routed) = %v, %v", got, err)
	}
	got, err = registry.AdapterFor("defaulted")
	if err != nil || got != Adapter(def) {
		t.Errorf("AdapterFor(defaulted) = %v, %v", got, err)
	}

	bare := NewAgentRegistry(nil)
	if _, err := bare.AdapterFor("anyone"); !errors.Is(err, ErrNoAdapter) {
		t.Errorf("AdapterFor without default error = %v, want ErrNoAdapter", err)
	}
}

func TestAgentRegistry_RegisterSource(t *testing.T) {
	registry := NewAgentRegistry(nil)
	source := NewMockAdapter()

	err := registry.RegisterSource("secondme", source,
		Registration{AgentID: "a1"},
		Registration{AgentID: "a2"},
	)
	if err != nil {
		t.Fatalf("RegisterSource() error = %v", err)
	}

	entry, ok := registry.Entry("a1")
	if !ok {
		t.Fatal("a1 not registered")
	}
	if entry.Source != "secondme" {
		t.Errorf("Source = %q, want secondme", entry.Source)
	}
	if ad, err := registry.AdapterFor("a1"); err != nil || ad != Adapter(source) {
		t.Error("source adapter should be bound to its agents")
	}
}

func TestAgentRegistry_Unregister(t *testing.T) {
	registry := NewAgentRegistry(nil)
	if err := registry.RegisterAgent(Registration{AgentID: "a1"}); err != nil {
		t.Fatal(err)
	}
	if err := registry.UnregisterAgent("a1"); err != nil {
		t.Fatalf("UnregisterAgent() error = %v", err)
	}
	if err := registry.UnregisterAgent("a1"); err == nil {
		t.Error("second unregister should fail")
	}
	if registry.Count() != 0 {
		t.Errorf("Count = %d, want 0", registry.Count())
	}
}

func TestAgentRegistry_Vector(t *testing.T) {
	registry := NewAgentRegistry(nil)
	if err := registry.RegisterAgent(Registration{
		AgentID: "a1",
		Vector:  vector.Vector{1, 0, 0},
	}); err != nil {
		t.Fatal(err)
	}
	if err := registry.RegisterAgent(Registration{AgentID: "a2"}); err != nil {
		t.Fatal(err)
	}

	v, ok := registry.Vector("a1")
	if !ok || len(v) != 3 {
		t.Fatalf("Vector(a1) = %v, %v", v, ok)
	}

	// Returned vectors are copies.
	v[0] = 42
	again, _ := registry.Vector("a1")
	if again[0] != 1 {
		t.Error("Vector should return a copy")
	}

	if _, ok := registry.Vector("a2"); ok {
		t.Error("agent without vector should report none")
	}
}

func TestProfileText(t *testing.T) {
	profile := map[string]any{
		"specialty": "freight",
		"agent_id":  "a1",
		"capacity":  12,
	}
	got := ProfileText(profile)
	want := "capacity: 12\nspecialty: freight"
	if got != want {
		t.Errorf("ProfileText() = %q, want %q", got, want)
	}

	if got := ProfileText(map[string]any{"agent_id": "a1"}); got != "" {
		t.Errorf("identity-only profile should render empty, got %q", got)
	}
}
