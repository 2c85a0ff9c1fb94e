// Package skill defines the pluggable strategy seam of the negotiation
// engine.
//
// Key components:
//   - Five skill interfaces consumed by the engine: FormulationSkill,
//     OfferSkill, CenterSkill, SubNegotiationSkill, GapRecursionSkill
//   - Typed context/result pairs per skill
//   - LLM-backed default implementations for all five
//   - Set: the bundle the builder hands to the engine
//
// Skills never touch shared engine state. Each receives a context value
// assembled by the engine and returns a result; the engine applies the
// result to the session.
package skill

import (
	"context"
	"errors"
	"fmt"

	"github.com/kadirpekel/accord/pkg/llm"
	"github.com/kadirpekel/accord/pkg/session"
)

// SkillError reports a skill that produced structurally invalid output.
type SkillError struct {
	Skill   string
	Message string
	Err     error
}

func (e *SkillError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("skill %s: %s: %v", e.Skill, e.Message, e.Err)
	}
	return fmt.Sprintf("skill %s: %s", e.Skill, e.Message)
}

func (e *SkillError) Unwrap() error {
	return e.Err
}

// NewSkillError builds a SkillError for the named skill.
func NewSkillError(skill, message string, err error) *SkillError {
	return &SkillError{Skill: skill, Message: message, Err: err}
}

// IsSkillError reports whether err is or wraps a SkillError.
func IsSkillError(err error) bool {
	var e *SkillError
	return errors.As(err, &e)
}

// FormulationContext carries the raw demand into the formulation skill.
type FormulationContext struct {
	RawIntent string
	UserID    string
	SceneID   string
}

// FormulationResult is the rewritten demand. Degraded marks a fallback
// to the raw intent with the reason attached.
type FormulationResult struct {
	FormulatedText string
	Degraded       bool
	DegradedReason string
}

// FormulationSkill rewrites a raw intent into a precise demand text.
type FormulationSkill interface {
	Execute(ctx context.Context, fc FormulationContext) (*FormulationResult, error)
}

// ChatFunc is a single-turn conversation channel bound to one agent.
// The engine binds it to the participant's adapter before invoking the
// offer skill.
type ChatFunc func(ctx context.Context, prompt, systemPrompt string) (string, error)

// OfferContext carries one participant's identity and the formulated
// demand into the offer skill.
type OfferContext struct {
	AgentID        string
	DisplayName    string
	Profile        map[string]any
	FormulatedText string

	// Chat is the participant's own channel. Skills that compute offers
	// locally may ignore it.
	Chat ChatFunc
}

// OfferResult is the participant's offer content.
type OfferResult struct {
	Content string
}

// OfferSkill produces one participant's offer for the formulated demand.
type OfferSkill interface {
	Execute(ctx context.Context, oc OfferContext) (*OfferResult, error)
}

// CenterContext carries the center loop state for one round.
type CenterContext struct {
	// Transcript is the running conversation, including prior tool
	// exchanges.
	Transcript []llm.Message

	// Profiles maps participant agent ids to their profile payloads.
	Profiles map[string]map[string]any

	// Offers maps participant agent ids to their offer content.
	Offers map[string]string

	// Tools are the registered tool descriptors for this negotiation.
	Tools []llm.ToolDefinition

	// Round is the 1-based round number; MaxRounds is the cap.
	Round     int
	MaxRounds int
}

// CenterResult is one center round's output: the tool calls to dispatch
// in order plus any commentary text.
type CenterResult struct {
	ToolCalls []llm.ToolCall
	Content   string
}

// CenterSkill runs one coordination round.
type CenterSkill interface {
	Execute(ctx context.Context, cc CenterContext) (*CenterResult, error)
}

// SubNegotiationContext carries the parent session state and the gap
// that seeded the sub-negotiation.
type SubNegotiationContext struct {
	Parent session.Snapshot
	Gap    map[string]any
}

// SubNegotiationResult seeds a child negotiation. A nil result from the
// skill means no sub-negotiation should run.
type SubNegotiationResult struct {
	SubDemandText string
	AgentIDs      []string
}

// SubNegotiationSkill turns a gap into a child demand, or declines.
type SubNegotiationSkill interface {
	Execute(ctx context.Context, sc SubNegotiationContext) (*SubNegotiationResult, error)
}

// Gap is one unmet need identified in a plan, in the shape the
// sub-negotiation skill consumes.
type Gap map[string]any

// GapRecursionContext carries the finished plan for gap analysis.
type GapRecursionContext struct {
	Plan           string
	Participants   []session.Participant
	RecursionDepth int
}

// GapRecursionSkill lists the gaps a plan leaves open. An empty slice
// means the plan is complete.
type GapRecursionSkill interface {
	Execute(ctx context.Context, gc GapRecursionContext) ([]Gap, error)
}

// Set bundles the five skills the engine consumes. Nil fields disable
// the corresponding phase where the engine allows it.
type Set struct {
	Formulation    FormulationSkill
	Offer          OfferSkill
	Center         CenterSkill
	SubNegotiation SubNegotiationSkill
	GapRecursion   GapRecursionSkill
}
