// Package event defines the negotiation event stream and its delivery
// contract.
//
// Key components:
//   - Event: the wire shape consumed by external subscribers
//   - Pusher: the delivery seam (at-most-once, per-negotiation order)
//   - NopPusher, LogPusher, ChannelPusher: supplied implementations
//
// Events are produced only by the engine coordinator, which serializes
// emission per negotiation; pushers never reorder what they are handed.
package event

import "time"

// Event types emitted over a negotiation's lifetime.
const (
	TypeFormulationReady      = "formulation.ready"
	TypeResonanceActivated    = "resonance.activated"
	TypeOfferReceived         = "offer.received"
	TypeBarrierComplete       = "barrier.complete"
	TypeCenterToolCall        = "center.tool_call"
	TypePlanReady             = "plan.ready"
	TypeSubNegotiationStarted = "sub_negotiation.started"
)

// Event is one observable negotiation occurrence. Field names are part
// of the external contract; consumers parse them as-is.
type Event struct {
	// EventType is one of the Type* constants.
	EventType string `json:"event_type"`

	// NegotiationID identifies the session the event belongs to.
	NegotiationID string `json:"negotiation_id"`

	// Timestamp is seconds since the Unix epoch, fractional.
	Timestamp float64 `json:"timestamp"`

	// Data is the type-specific payload.
	Data map[string]any `json:"data"`
}

// New creates an event stamped with the current time.
func New(eventType, negotiationID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		EventType:     eventType,
		NegotiationID: negotiationID,
		Timestamp:     float64(time.Now().UnixNano()) / 1e9,
		Data:          data,
	}
}

// ActivatedAgent is one entry of the resonance.activated ranking.
type ActivatedAgent struct {
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
}

// NewFormulationReady reports a formulated (or degraded) demand.
func NewFormulationReady(negotiationID, rawIntent, formulatedText string, degraded bool, degradedReason string) Event {
	return New(TypeFormulationReady, negotiationID, map[string]any{
		"raw_intent":      rawIntent,
		"formulated_text": formulatedText,
		"degraded":        degraded,
		"degraded_reason": degradedReason,
	})
}

// NewResonanceActivated reports the ranked activation set.
func NewResonanceActivated(negotiationID string, agents []ActivatedAgent) Event {
	ranked := make([]map[string]any, len(agents))
	for i, a := range agents {
		ranked[i] = map[string]any{
			"agent_id": a.AgentID,
			"score":    a.Score,
		}
	}
	return New(TypeResonanceActivated, negotiationID, map[string]any{
		"activated_count": len(agents),
		"agents":          ranked,
	})
}

// NewOfferReceived reports one participant's offer.
func NewOfferReceived(negotiationID, agentID, displayName, content string) Event {
	return New(TypeOfferReceived, negotiationID, map[string]any{
		"agent_id":     agentID,
		"display_name": displayName,
		"content":      content,
	})
}

// NewBarrierComplete reports the resolved offer barrier. exitedCount
// counts participants that exited or failed.
func NewBarrierComplete(negotiationID string, totalParticipants, offersReceived, exitedCount int) Event {
	return New(TypeBarrierComplete, negotiationID, map[string]any{
		"total_participants": totalParticipants,
		"offers_received":    offersReceived,
		"exited_count":       exitedCount,
	})
}

// NewCenterToolCall reports one dispatched center tool call.
func NewCenterToolCall(negotiationID, toolName string, arguments map[string]any, roundNumber int) Event {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return New(TypeCenterToolCall, negotiationID, map[string]any{
		"tool_name":    toolName,
		"arguments":    arguments,
		"round_number": roundNumber,
	})
}

// NewPlanReady reports the terminal plan. Every terminal state emits
// exactly one of these, possibly with an empty plan text.
func NewPlanReady(negotiationID, planText string, centerRounds int, participantIDs []string) Event {
	if participantIDs == nil {
		participantIDs = []string{}
	}
	return New(TypePlanReady, negotiationID, map[string]any{
		"plan_text":       planText,
		"center_rounds":   centerRounds,
		"participant_ids": participantIDs,
	})
}

// NewSubNegotiationStarted reports a spawned child negotiation.
func NewSubNegotiationStarted(negotiationID, subNegotiationID, subDemandText string) Event {
	return New(TypeSubNegotiationStarted, negotiationID, map[string]any{
		"sub_negotiation_id": subNegotiationID,
		"sub_demand_text":    subDemandText,
	})
}
