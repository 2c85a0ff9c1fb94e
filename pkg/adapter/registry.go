package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kadirpekel/accord/pkg/vector"
)

// Scope selectors. "all" and "network" are synonyms; "scene:<id>"
// restricts to agents tagged with that scene.
const (
	ScopeAll     = "all"
	ScopeNetwork = "network"

	scopeScenePrefix = "scene:"
)

// Registration declares one agent in the registry.
type Registration struct {
	// AgentID uniquely identifies the agent.
	AgentID string

	// DisplayName for events and plans; defaults to the agent id.
	DisplayName string

	// Source labels which provider owns the agent.
	Source string

	// Scenes this agent participates in. Empty means every scene.
	Scenes []string

	// Profile is an opaque capability payload. When present it is the
	// source of truth for profiles and for encoding text.
	Profile map[string]any

	// Vector is an optional precomputed capability vector; when set the
	// matching phase skips the encoder for this agent.
	Vector vector.Vector

	// Adapter bound to this agent. Nil falls back to the registry's
	// default adapter.
	Adapter Adapter
}

// AgentRegistry maps agent ids to their channels and matching inputs.
// Writes take the mutex; readers sample a consistent snapshot, so one
// engine invocation sees one directory state.
type AgentRegistry struct {
	mu             sync.RWMutex
	defaultAdapter Adapter
	entries        map[string]Registration
}

// NewAgentRegistry creates a registry with a default adapter for
// agents registered without their own. The default may be nil.
func NewAgentRegistry(defaultAdapter Adapter) *AgentRegistry {
	return &AgentRegistry{
		defaultAdapter: defaultAdapter,
		entries:        make(map[string]Registration),
	}
}

// RegisterAgent adds one agent. Duplicate agent ids are rejected.
func (r *AgentRegistry) RegisterAgent(reg Registration) error {
	if reg.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if reg.DisplayName == "" {
		reg.DisplayName = reg.AgentID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[reg.AgentID]; exists {
		return fmt.Errorf("agent '%s' already registered", reg.AgentID)
	}
	r.entries[reg.AgentID] = reg
	return nil
}

// RegisterSource adds a batch of agents owned by one source, all bound
// to the given adapter. Registration stops at the first failure.
func (r *AgentRegistry) RegisterSource(source string, adapter Adapter, regs ...Registration) error {
	for _, reg := range regs {
		reg.Source = source
		reg.Adapter = adapter
		if err := r.RegisterAgent(reg); err != nil {
			return fmt.Errorf("source %s: %w", source, err)
		}
	}
	return nil
}

// UnregisterAgent removes one agent.
func (r *AgentRegistry) UnregisterAgent(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[agentID]; !exists {
		return fmt.Errorf("agent '%s' not found", agentID)
	}
	delete(r.entries, agentID)
	return nil
}

// Count returns the number of registered agents.
func (r *AgentRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// AgentIDs returns the ids matching the scope in lexicographic order.
// Empty scope means all; unrecognized scopes match nothing.
func (r *AgentRegistry) AgentIDs(scope string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id, reg := range r.entries {
		if matchesScope(reg.Scenes, scope) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Entry returns a copy of one registration.
func (r *AgentRegistry) Entry(agentID string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[agentID]
	if !ok {
		return Registration{}, false
	}
	return cloneRegistration(reg), true
}

// DisplayName returns the agent's display name, falling back to the id.
func (r *AgentRegistry) DisplayName(agentID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.entries[agentID]; ok && reg.DisplayName != "" {
		return reg.DisplayName
	}
	return agentID
}

// Vector returns the precomputed capability vector, if any.
func (r *AgentRegistry) Vector(agentID string) (vector.Vector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[agentID]
	if !ok || len(reg.Vector) == 0 {
		return nil, false
	}
	out := make(vector.Vector, len(reg.Vector))
	copy(out, reg.Vector)
	return out, true
}

// AdapterFor returns the channel bound to the agent: its own adapter,
// or the registry default.
func (r *AgentRegistry) AdapterFor(agentID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.entries[agentID]; ok && reg.Adapter != nil {
		return reg.Adapter, nil
	}
	if r.defaultAdapter != nil {
		return r.defaultAdapter, nil
	}
	return nil, &AdapterError{AgentID: agentID, Message: "no channel available", Err: ErrNoAdapter}
}

// Router returns an Adapter view over the registry that routes each
// call to the channel bound for the target agent.
func (r *AgentRegistry) Router() Adapter {
	return &routingAdapter{registry: r}
}

type routingAdapter struct {
	registry *AgentRegistry
}

func (a *routingAdapter) GetProfile(ctx context.Context, agentID string) map[string]any {
	return a.registry.GetProfile(ctx, agentID)
}

func (a *routingAdapter) Chat(ctx context.Context, agentID string, messages []Message, systemPrompt string) (string, error) {
	bound, err := a.registry.AdapterFor(agentID)
	if err != nil {
		return "", err
	}
	return bound.Chat(ctx, agentID, messages, systemPrompt)
}

func (a *routingAdapter) ChatStream(ctx context.Context, agentID string, messages []Message, systemPrompt string) (<-chan StreamChunk, error) {
	bound, err := a.registry.AdapterFor(agentID)
	if err != nil {
		return nil, err
	}
	return bound.ChatStream(ctx, agentID, messages, systemPrompt)
}

// GetProfile resolves the agent's profile. A registered payload is the
// source of truth; otherwise the bound adapter is consulted. Unknown
// agents get the minimal profile. Never fails.
func (r *AgentRegistry) GetProfile(ctx context.Context, agentID string) map[string]any {
	r.mu.RLock()
	reg, registered := r.entries[agentID]
	def := r.defaultAdapter
	r.mu.RUnlock()

	if !registered {
		return MinimalProfile(agentID)
	}

	if len(reg.Profile) > 0 {
		out := make(map[string]any, len(reg.Profile)+2)
		for k, v := range reg.Profile {
			out[k] = v
		}
		out["agent_id"] = agentID
		if reg.DisplayName != "" {
			out["display_name"] = reg.DisplayName
		}
		return out
	}

	adapter := reg.Adapter
	if adapter == nil {
		adapter = def
	}
	if adapter != nil {
		return adapter.GetProfile(ctx, agentID)
	}
	return MinimalProfile(agentID)
}

// ProfileText renders a profile into deterministic text for encoding:
// sorted "key: value" lines, identity keys excluded.
func ProfileText(profile map[string]any) string {
	keys := make([]string, 0, len(profile))
	for k := range profile {
		if k == "agent_id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, profile[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func matchesScope(scenes []string, scope string) bool {
	switch {
	case scope == "" || scope == ScopeAll || scope == ScopeNetwork:
		return true
	case strings.HasPrefix(scope, scopeScenePrefix):
		// Untagged agents participate in every scene.
		if len(scenes) == 0 {
			return true
		}
		want := strings.TrimPrefix(scope, scopeScenePrefix)
		for _, scene := range scenes {
			if scene == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func cloneRegistration(reg Registration) Registration {
	out := reg
	if reg.Scenes != nil {
		out.Scenes = append([]string(nil), reg.Scenes...)
	}
	if reg.Vector != nil {
		out.Vector = append(vector.Vector(nil), reg.Vector...)
	}
	if reg.Profile != nil {
		out.Profile = make(map[string]any, len(reg.Profile))
		for k, v := range reg.Profile {
			out.Profile[k] = v
		}
	}
	return out
}
