package tools

import (
	"sync/atomic"

	"github.com/kadirpekel/accord/pkg/llm"
	"github.com/kadirpekel/accord/pkg/registry"
)

// Registry holds the tool handlers visible to the center skill. The
// built-in handlers are installed at construction; Register adds
// extensions until Freeze.
type Registry struct {
	base   *registry.BaseRegistry[Handler]
	frozen atomic.Bool
}

// NewRegistry creates a registry pre-loaded with the built-in handlers.
func NewRegistry() *Registry {
	r := &Registry{base: registry.NewBaseRegistry[Handler]()}
	// Built-ins bypass the reserved-name check; all their dependencies
	// arrive through EngineContext at dispatch time.
	for _, h := range []Handler{NewOutputPlan(), NewAskAgent(), NewSpawnSubNegotiation()} {
		if err := r.base.Register(h.Name(), h); err != nil {
			panic(err)
		}
	}
	return r
}

// NewEmptyRegistry creates a registry without the built-ins. Used by
// tests that need full control over the tool surface.
func NewEmptyRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[Handler]()}
}

// Register adds an extension handler. The reserved plan tool name and
// duplicates are rejected, as is any registration after Freeze.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return &RegistryError{Name: "", Message: "nil handler"}
	}
	name := h.Name()
	if name == "" {
		return &RegistryError{Name: name, Message: "empty name"}
	}
	if r.frozen.Load() {
		return &RegistryError{Name: name, Message: "registration after the first negotiation", Err: ErrRegistryFrozen}
	}
	if name == ReservedPlanTool {
		return &RegistryError{Name: name, Message: "cannot be registered by an extension", Err: ErrReservedName}
	}
	if _, exists := r.base.Get(name); exists {
		return &RegistryError{Name: name, Message: "duplicate registration", Err: ErrDuplicateHandler}
	}
	return r.base.Register(name, h)
}

// Freeze seals the registry. The engine freezes it when the first
// negotiation starts so the tool surface cannot change under a running
// negotiation.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether the registry is sealed.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Get returns the handler for a tool name.
func (r *Registry) Get(name string) (Handler, bool) {
	return r.base.Get(name)
}

// Names returns the registered tool names in lexicographic order.
func (r *Registry) Names() []string {
	return r.base.Names()
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	return r.base.Count()
}

// Definitions renders the registry as tool definitions for the center
// skill, ordered by name so prompts are stable across rounds.
func (r *Registry) Definitions() []llm.ToolDefinition {
	names := r.base.Names()
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		h, ok := r.base.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        h.Name(),
			Description: h.Description(),
			Parameters:  h.InputSchema(),
		})
	}
	return defs
}
