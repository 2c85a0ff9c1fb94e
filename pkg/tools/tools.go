// Package tools provides the center tool registry and the built-in
// tool handlers.
//
// Key components:
//   - Handler: one named tool the center skill may call
//   - Registry: duplicate-rejecting handler registry, frozen at run time
//   - EngineContext: the engine capabilities handed to handlers
//   - OutputPlan, AskAgent, SpawnSubNegotiation: the built-in handlers
//
// The registry is assembled during construction and frozen before the
// first negotiation runs; handlers observe a stable tool surface for
// the whole process lifetime.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/kadirpekel/accord/pkg/adapter"
	"github.com/kadirpekel/accord/pkg/session"
)

// ReservedPlanTool is the handler name reserved for the built-in plan
// finalizer. Extensions cannot register it.
const ReservedPlanTool = "output_plan"

// Built-in handler names.
const (
	AskAgentTool            = "ask_agent"
	SpawnSubNegotiationTool = "spawn_sub_negotiation"
)

// Registration errors.
var (
	ErrReservedName     = errors.New("tool name is reserved")
	ErrDuplicateHandler = errors.New("tool already registered")
	ErrRegistryFrozen   = errors.New("tool registry is frozen")
)

// RegistryError reports a rejected handler registration.
type RegistryError struct {
	Name    string
	Message string
	Err     error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %q: %s: %v", e.Name, e.Message, e.Err)
	}
	return fmt.Sprintf("tool %q: %s", e.Name, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// SpawnFunc runs a child negotiation to its terminal state and reports
// the outcome artifact. The engine supplies it; handlers never build
// sessions themselves.
type SpawnFunc func(ctx context.Context, parent *session.Session, subDemand, scope string) (map[string]any, error)

// EngineContext carries the engine capabilities a handler may use
// during one dispatch. The engine builds one per center round.
type EngineContext struct {
	// Adapter routes one-shot questions to participant agents.
	Adapter adapter.Adapter

	// Round is the 1-based center round dispatching the call.
	Round int

	// MaxDepth bounds sub-negotiation recursion. A session whose depth
	// has reached MaxDepth cannot spawn children.
	MaxDepth int

	// Spawn runs a child negotiation. Nil when the engine was built
	// without a sub-negotiation path.
	Spawn SpawnFunc
}

// Handler is one tool the center skill can call. Handle returns the
// artifact recorded on the trace and fed back to the transcript; soft
// failures (unknown agent, over-depth recursion) are artifacts with an
// "error" or "skipped" field, hard failures are errors. Handler errors
// never finalize a session.
type Handler interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Handle(ctx context.Context, sess *session.Session, args map[string]any, ec EngineContext) (map[string]any, error)
}
