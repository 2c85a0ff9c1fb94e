package engine

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/kadirpekel/accord/pkg/adapter"
	"github.com/kadirpekel/accord/pkg/config"
	"github.com/kadirpekel/accord/pkg/encoder"
	"github.com/kadirpekel/accord/pkg/event"
	"github.com/kadirpekel/accord/pkg/llm"
	"github.com/kadirpekel/accord/pkg/session"
	"github.com/kadirpekel/accord/pkg/skill"
	"github.com/kadirpekel/accord/pkg/tools"
)

func threeAgents() []adapter.Registration {
	return []adapter.Registration{
		agentReg("agent-a", "A"),
		agentReg("agent-b", "B"),
		agentReg("agent-c", "C"),
	}
}

func cofounderScores() map[string]float64 {
	return map[string]float64{"agent-a": 0.9, "agent-b": 0.85, "agent-c": 0.2}
}

// A demand resolved in a single center round: two activations, two
// offers, one output_plan.
func TestNegotiation_DirectPlan(t *testing.T) {
	skills := skill.Set{Offer: echoOffer(), Center: planCenter("Partner with A and B.")}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(2)})

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", sess.Status())
	}
	plan, ok := sess.Plan()
	if !ok || plan != "Partner with A and B." {
		t.Errorf("plan = %q (set=%v), want the center's plan", plan, ok)
	}
	if got := sess.CenterRounds(); got != 1 {
		t.Errorf("center rounds = %d, want 1", got)
	}

	for _, id := range []string{"agent-a", "agent-b"} {
		p, ok := sess.Participant(id)
		if !ok {
			t.Fatalf("participant %s missing", id)
		}
		if p.State != session.ParticipantReplied {
			t.Errorf("%s state = %s, want REPLIED", id, p.State)
		}
	}
	if _, ok := sess.Participant("agent-c"); ok {
		t.Error("agent-c activated despite scoring below the cut")
	}

	want := []string{
		event.TypeFormulationReady,
		event.TypeResonanceActivated,
		event.TypeOfferReceived,
		event.TypeOfferReceived,
		event.TypeBarrierComplete,
		event.TypeCenterToolCall,
		event.TypePlanReady,
	}
	if got := pusher.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("event stream = %v, want %v", got, want)
	}

	activated := pusher.ofType(event.TypeResonanceActivated)[0]
	if got := activated.Data["activated_count"]; got != 2 {
		t.Errorf("activated_count = %v, want 2", got)
	}
	ranked := activated.Data["agents"].([]map[string]any)
	if ranked[0]["agent_id"] != "agent-a" || ranked[1]["agent_id"] != "agent-b" {
		t.Errorf("activation ranking = %v, want [agent-a agent-b]", ranked)
	}

	ready := pusher.ofType(event.TypePlanReady)[0]
	if got := planText(t, ready); got != "Partner with A and B." {
		t.Errorf("plan.ready plan_text = %q", got)
	}
	if got := ready.Data["center_rounds"]; got != 1 {
		t.Errorf("plan.ready center_rounds = %v, want 1", got)
	}
}

// One participant's channel fails mid-offer; the barrier still
// completes and the session proceeds on the surviving offer.
func TestNegotiation_ParticipantFailure(t *testing.T) {
	offer := offerFunc(func(ctx context.Context, oc skill.OfferContext) (*skill.OfferResult, error) {
		if oc.AgentID == "agent-b" {
			return nil, errors.New("stream failed after 0 chunks")
		}
		return &skill.OfferResult{Content: "I'll help: " + oc.AgentID}, nil
	})
	skills := skill.Set{Offer: offer, Center: planCenter("Go with A.")}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(2)})

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", sess.Status())
	}

	b, ok := sess.Participant("agent-b")
	if !ok {
		t.Fatal("agent-b missing from participants")
	}
	if b.State != session.ParticipantFailed {
		t.Errorf("agent-b state = %s, want FAILED", b.State)
	}

	received := pusher.ofType(event.TypeOfferReceived)
	if len(received) != 1 {
		t.Fatalf("offer.received count = %d, want 1", len(received))
	}
	if got := received[0].Data["agent_id"]; got != "agent-a" {
		t.Errorf("offer.received agent = %v, want agent-a", got)
	}

	barrier := pusher.ofType(event.TypeBarrierComplete)[0]
	if got := barrier.Data["offers_received"]; got != 1 {
		t.Errorf("offers_received = %v, want 1", got)
	}
	if got := barrier.Data["exited_count"]; got != 1 {
		t.Errorf("exited_count = %v, want 1", got)
	}
}

// Two tool calls in one round count as one round; both are visible on
// the stream and the ask lands on the trace.
func TestNegotiation_MultiToolRound(t *testing.T) {
	center := &scriptCenter{script: []func(cc skill.CenterContext) (*skill.CenterResult, error){
		func(cc skill.CenterContext) (*skill.CenterResult, error) {
			return &skill.CenterResult{ToolCalls: []llm.ToolCall{
				{ID: "call-1", Name: tools.AskAgentTool, Arguments: map[string]any{
					"agent_id": "agent-a", "question": "availability?",
				}},
				{ID: "call-2", Name: tools.ReservedPlanTool, Arguments: map[string]any{
					"plan_text": "Go.",
				}},
			}}, nil
		},
	}}
	skills := skill.Set{Offer: echoOffer(), Center: center}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(2)})

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", sess.Status())
	}
	if plan, _ := sess.Plan(); plan != "Go." {
		t.Errorf("plan = %q, want %q", plan, "Go.")
	}
	if got := sess.CenterRounds(); got != 1 {
		t.Errorf("center rounds = %d, want 1", got)
	}

	calls := pusher.ofType(event.TypeCenterToolCall)
	if len(calls) != 2 {
		t.Fatalf("center.tool_call count = %d, want 2", len(calls))
	}
	if calls[0].Data["tool_name"] != tools.AskAgentTool || calls[1].Data["tool_name"] != tools.ReservedPlanTool {
		t.Errorf("tool order = [%v %v]", calls[0].Data["tool_name"], calls[1].Data["tool_name"])
	}

	if !hasTraceStep(sess, "ask_agent") {
		t.Error("ask_agent exchange missing from the trace")
	}
	if got := traceOutput(sess, "ask_agent"); !strings.Contains(got, "Mock reply from agent-a") {
		t.Errorf("ask_agent trace = %q, want the adapter's answer", got)
	}
}

// The center never finalizes; the round cap folds the offers into a
// degenerate plan.
func TestNegotiation_RoundCapFallback(t *testing.T) {
	ask := centerFunc(func(ctx context.Context, cc skill.CenterContext) (*skill.CenterResult, error) {
		return &skill.CenterResult{ToolCalls: []llm.ToolCall{
			{ID: "call-ask", Name: tools.AskAgentTool, Arguments: map[string]any{
				"agent_id": "agent-a", "question": "still there?",
			}},
		}}, nil
	})
	skills := skill.Set{Offer: echoOffer(), Center: ask}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills,
		config.EngineConfig{MaxCenterRounds: 1})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(2)})

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", sess.Status())
	}
	plan, ok := sess.Plan()
	if !ok || !strings.HasPrefix(plan, MaxRoundsMarker) {
		t.Errorf("plan = %q, want %q prefix", plan, MaxRoundsMarker)
	}
	if !strings.Contains(plan, "A: I'll help: agent-a") {
		t.Errorf("plan = %q, want the folded offers", plan)
	}
	if got := sess.CenterRounds(); got != 1 {
		t.Errorf("center rounds = %d, want the cap", got)
	}
	if !hasTraceStep(sess, "center.degenerate") {
		t.Error("degenerate fold missing from the trace")
	}

	ready := pusher.ofType(event.TypePlanReady)
	if len(ready) != 1 {
		t.Fatalf("plan.ready count = %d, want 1", len(ready))
	}
	if got := planText(t, ready[0]); !strings.HasPrefix(got, MaxRoundsMarker) {
		t.Errorf("plan.ready plan_text = %q", got)
	}
}

// An unconfirmed negotiation expires quietly: no plan, no matching, no
// events past the formulation.
func TestNegotiation_ConfirmationTimeout(t *testing.T) {
	skills := skill.Set{Offer: echoOffer(), Center: planCenter("never")}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills,
		config.EngineConfig{ConfirmationTimeoutSeconds: 1})

	sess := session.New(session.DemandSnapshot{RawIntent: "I need a technical co-founder"})
	got, err := eng.StartNegotiation(context.Background(), sess, RunOptions{KStar: intPtr(2)})
	if err != nil {
		t.Fatalf("StartNegotiation() error = %v", err)
	}

	if got.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status())
	}
	if _, ok := got.Plan(); ok {
		t.Error("expired negotiation should have no plan")
	}
	if !hasTraceStep(got, "confirmation.timeout") {
		t.Error("timeout missing from the trace")
	}

	want := []string{event.TypeFormulationReady}
	if types := pusher.Types(); !reflect.DeepEqual(types, want) {
		t.Errorf("event stream = %v, want %v", types, want)
	}
}

// A spawn attempt at the depth bound is skipped without a child.
func TestNegotiation_SpawnAtDepthCap(t *testing.T) {
	center := &scriptCenter{script: []func(cc skill.CenterContext) (*skill.CenterResult, error){
		func(cc skill.CenterContext) (*skill.CenterResult, error) {
			return &skill.CenterResult{ToolCalls: []llm.ToolCall{
				{ID: "call-1", Name: tools.SpawnSubNegotiationTool, Arguments: map[string]any{
					"sub_demand": "Find a designer",
				}},
				{ID: "call-2", Name: tools.ReservedPlanTool, Arguments: map[string]any{
					"plan_text": "Proceed without a designer.",
				}},
			}}, nil
		},
	}}
	skills := skill.Set{Offer: echoOffer(), Center: center}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills,
		config.EngineConfig{MaxRecursionDepth: intPtr(0)})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(2)})

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", sess.Status())
	}
	if got := traceOutput(sess, "spawn_sub_negotiation"); !strings.Contains(got, "max_depth") {
		t.Errorf("spawn trace = %q, want the max_depth skip", got)
	}
	if started := pusher.ofType(event.TypeSubNegotiationStarted); len(started) != 0 {
		t.Errorf("sub_negotiation.started count = %d, want 0", len(started))
	}
	if got := len(eng.Sessions().Snapshots()); got != 1 {
		t.Errorf("stored sessions = %d, want the parent only", got)
	}
}

func TestBoundary_NoRegisteredAgents(t *testing.T) {
	skills := skill.Set{Offer: echoOffer(), Center: planCenter("never")}
	eng, pusher, _ := newTestEngine(t, nil, nil, skills, config.EngineConfig{})

	sess := startAuto(t, eng, "anyone out there?", RunOptions{})

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", sess.Status())
	}
	if _, ok := sess.Plan(); ok {
		t.Error("no-offer run should carry only the diagnostic marker")
	}

	want := []string{
		event.TypeFormulationReady,
		event.TypeResonanceActivated,
		event.TypePlanReady,
	}
	if types := pusher.Types(); !reflect.DeepEqual(types, want) {
		t.Errorf("event stream = %v, want %v", types, want)
	}
	if got := planText(t, pusher.ofType(event.TypePlanReady)[0]); got != NoOffersMarker {
		t.Errorf("plan_text = %q, want %q", got, NoOffersMarker)
	}
}

func TestBoundary_KStarZero(t *testing.T) {
	skills := skill.Set{Offer: echoOffer(), Center: planCenter("never")}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(0)})

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", sess.Status())
	}
	if len(sess.Participants()) != 0 {
		t.Errorf("participants = %d, want 0", len(sess.Participants()))
	}
	if got := planText(t, pusher.ofType(event.TypePlanReady)[0]); got != NoOffersMarker {
		t.Errorf("plan_text = %q, want %q", got, NoOffersMarker)
	}
	if got := pusher.ofType(event.TypeResonanceActivated)[0].Data["activated_count"]; got != 0 {
		t.Errorf("activated_count = %v, want 0", got)
	}
}

func TestBoundary_AllOffersTimeOut(t *testing.T) {
	blocking := offerFunc(func(ctx context.Context, oc skill.OfferContext) (*skill.OfferResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	skills := skill.Set{Offer: blocking, Center: planCenter("never")}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills,
		config.EngineConfig{OfferTimeoutSeconds: 1})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(2)})

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", sess.Status())
	}
	for _, p := range sess.Participants() {
		if p.State != session.ParticipantExited {
			t.Errorf("%s state = %s, want EXITED", p.AgentID, p.State)
		}
	}
	if !hasTraceStep(sess, "offer.timeout") {
		t.Error("timeouts missing from the trace")
	}

	barrier := pusher.ofType(event.TypeBarrierComplete)[0]
	if got := barrier.Data["offers_received"]; got != 0 {
		t.Errorf("offers_received = %v, want 0", got)
	}
	if got := planText(t, pusher.ofType(event.TypePlanReady)[0]); got != NoOffersMarker {
		t.Errorf("plan_text = %q, want %q", got, NoOffersMarker)
	}
}

func TestBoundary_RoundCapZero(t *testing.T) {
	center := &scriptCenter{script: []func(cc skill.CenterContext) (*skill.CenterResult, error){
		func(cc skill.CenterContext) (*skill.CenterResult, error) {
			t.Error("center consulted despite a zero round cap")
			return &skill.CenterResult{}, nil
		},
	}}
	skills := skill.Set{Offer: echoOffer(), Center: center}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	sess := session.New(session.DemandSnapshot{RawIntent: "I need a technical co-founder"})
	if err := sess.SetMaxCenterRounds(0); err != nil {
		t.Fatalf("SetMaxCenterRounds(0) error = %v", err)
	}
	got, err := eng.StartNegotiation(context.Background(), sess, RunOptions{KStar: intPtr(1), AutoConfirm: true})
	if err != nil {
		t.Fatalf("StartNegotiation() error = %v", err)
	}

	if got.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status())
	}
	plan, ok := got.Plan()
	if !ok || !strings.HasPrefix(plan, MaxRoundsMarker) {
		t.Errorf("plan = %q, want %q prefix", plan, MaxRoundsMarker)
	}
	if rounds := got.CenterRounds(); rounds != 0 {
		t.Errorf("center rounds = %d, want 0", rounds)
	}
	if center.Calls() != 0 {
		t.Errorf("center invocations = %d, want 0", center.Calls())
	}
	ready := pusher.ofType(event.TypePlanReady)[0]
	if got := ready.Data["center_rounds"]; got != 0 {
		t.Errorf("plan.ready center_rounds = %v, want 0", got)
	}
}

func TestBoundary_CancelDuringOffering(t *testing.T) {
	started := make(chan struct{}, 4)
	blocking := offerFunc(func(ctx context.Context, oc skill.OfferContext) (*skill.OfferResult, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	skills := skill.Set{Offer: blocking, Center: planCenter("never")}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	sess := session.New(session.DemandSnapshot{RawIntent: "I need a technical co-founder"})
	done := make(chan error, 1)
	go func() {
		_, err := eng.StartNegotiation(context.Background(), sess, RunOptions{KStar: intPtr(2), AutoConfirm: true})
		done <- err
	}()

	// Both workers are inside the barrier.
	<-started
	<-started

	if err := eng.Cancel(sess.ID()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("cancelled run error = %v, want nil", err)
	}

	if sess.Status() != session.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", sess.Status())
	}
	if !hasTraceStep(sess, "negotiation.cancelled") {
		t.Error("cancellation missing from the trace")
	}
	types := pusher.Types()
	if containsString(types, event.TypePlanReady) {
		t.Error("cancelled run emitted plan.ready")
	}
	if containsString(types, event.TypeBarrierComplete) {
		t.Error("cancelled run emitted barrier.complete")
	}
}

// A hard center failure fails the session and still closes the stream
// with a single empty plan.ready.
func TestNegotiation_CenterFailureFailsSession(t *testing.T) {
	broken := centerFunc(func(ctx context.Context, cc skill.CenterContext) (*skill.CenterResult, error) {
		return nil, errors.New("malformed synthesis output")
	})
	skills := skill.Set{Offer: echoOffer(), Center: broken}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	sess := session.New(session.DemandSnapshot{RawIntent: "I need a technical co-founder"})
	_, err := eng.StartNegotiation(context.Background(), sess, RunOptions{KStar: intPtr(2), AutoConfirm: true})
	if err == nil {
		t.Fatal("StartNegotiation() expected error")
	}

	if sess.Status() != session.StatusFailed {
		t.Errorf("status = %s, want FAILED", sess.Status())
	}
	if !hasTraceStep(sess, "negotiation.failed") {
		t.Error("failure missing from the trace")
	}

	ready := pusher.ofType(event.TypePlanReady)
	if len(ready) != 1 {
		t.Fatalf("plan.ready count = %d, want exactly 1", len(ready))
	}
	if got := planText(t, ready[0]); got != "" {
		t.Errorf("plan_text = %q, want empty", got)
	}
	if _, ok := ready[0].Data["error"]; !ok {
		t.Error("failed run's plan.ready should carry the error")
	}
}

// A transient provider failure is retried once with the same inputs.
func TestNegotiation_CenterRetriesOnLLMError(t *testing.T) {
	center := &scriptCenter{script: []func(cc skill.CenterContext) (*skill.CenterResult, error){
		func(cc skill.CenterContext) (*skill.CenterResult, error) {
			return nil, llm.NewLLMError("mock", "rate limited", nil)
		},
		func(cc skill.CenterContext) (*skill.CenterResult, error) {
			return &skill.CenterResult{ToolCalls: []llm.ToolCall{
				{ID: "call-plan", Name: tools.ReservedPlanTool, Arguments: map[string]any{"plan_text": "Recovered."}},
			}}, nil
		},
	}}
	skills := skill.Set{Offer: echoOffer(), Center: center}
	eng, _, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(1)})

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", sess.Status())
	}
	if plan, _ := sess.Plan(); plan != "Recovered." {
		t.Errorf("plan = %q, want %q", plan, "Recovered.")
	}
	if got := sess.CenterRounds(); got != 1 {
		t.Errorf("center rounds = %d, want 1; the retry shares the round", got)
	}
	if center.Calls() != 2 {
		t.Errorf("center invocations = %d, want 2", center.Calls())
	}
}

func TestNegotiation_FormulationDegradesToRaw(t *testing.T) {
	failing := formulationFunc(func(ctx context.Context, fc skill.FormulationContext) (*skill.FormulationResult, error) {
		return nil, errors.New("provider unreachable")
	})
	skills := skill.Set{Formulation: failing, Offer: echoOffer(), Center: planCenter("done")}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(1)})

	if got := sess.FormulatedText(); got != "I need a technical co-founder" {
		t.Errorf("FormulatedText = %q, want the raw intent", got)
	}
	ready := pusher.ofType(event.TypeFormulationReady)[0]
	if ready.Data["degraded"] != true {
		t.Error("formulation.ready not marked degraded")
	}
	if reason, _ := ready.Data["degraded_reason"].(string); !strings.Contains(reason, "provider unreachable") {
		t.Errorf("degraded_reason = %q", reason)
	}
	if sess.Status() != session.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED despite degraded formulation", sess.Status())
	}
}

func TestNegotiation_FormulationRewritesDemand(t *testing.T) {
	rewriting := formulationFunc(func(ctx context.Context, fc skill.FormulationContext) (*skill.FormulationResult, error) {
		return &skill.FormulationResult{FormulatedText: "Seeking a CTO-level engineering partner."}, nil
	})
	skills := skill.Set{Formulation: rewriting, Offer: echoOffer(), Center: planCenter("done")}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(1)})

	if got := sess.FormulatedText(); got != "Seeking a CTO-level engineering partner." {
		t.Errorf("FormulatedText = %q", got)
	}
	ready := pusher.ofType(event.TypeFormulationReady)[0]
	if ready.Data["degraded"] != false {
		t.Error("clean formulation marked degraded")
	}
	if got := ready.Data["formulated_text"]; got != "Seeking a CTO-level engineering partner." {
		t.Errorf("formulation.ready formulated_text = %v", got)
	}
}

func TestNegotiation_EmptyOfferExitsParticipant(t *testing.T) {
	offer := offerFunc(func(ctx context.Context, oc skill.OfferContext) (*skill.OfferResult, error) {
		if oc.AgentID == "agent-b" {
			return &skill.OfferResult{Content: "   "}, nil
		}
		return &skill.OfferResult{Content: "I'll help: " + oc.AgentID}, nil
	})
	skills := skill.Set{Offer: offer, Center: planCenter("done")}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(2)})

	b, _ := sess.Participant("agent-b")
	if b.State != session.ParticipantExited {
		t.Errorf("agent-b state = %s, want EXITED", b.State)
	}
	if !hasTraceStep(sess, "offer.empty") {
		t.Error("empty offer missing from the trace")
	}
	if got := len(pusher.ofType(event.TypeOfferReceived)); got != 1 {
		t.Errorf("offer.received count = %d, want 1", got)
	}
}

// A spawned sub-negotiation runs to completion inside the parent's
// center round and reports back through the stream.
func TestNegotiation_SpawnRunsChild(t *testing.T) {
	center := centerFunc(func(ctx context.Context, cc skill.CenterContext) (*skill.CenterResult, error) {
		if strings.Contains(cc.Transcript[0].Content, "designer") {
			return &skill.CenterResult{ToolCalls: []llm.ToolCall{
				{ID: "child-plan", Name: tools.ReservedPlanTool, Arguments: map[string]any{"plan_text": "Child plan."}},
			}}, nil
		}
		return &skill.CenterResult{ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: tools.SpawnSubNegotiationTool, Arguments: map[string]any{"sub_demand": "Find a designer"}},
			{ID: "call-2", Name: tools.ReservedPlanTool, Arguments: map[string]any{"plan_text": "Parent plan."}},
		}}, nil
	})
	skills := skill.Set{Offer: echoOffer(), Center: center}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills,
		config.EngineConfig{MaxRecursionDepth: intPtr(1)})

	parent := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(1)})

	if plan, _ := parent.Plan(); plan != "Parent plan." {
		t.Errorf("parent plan = %q", plan)
	}

	started := pusher.ofType(event.TypeSubNegotiationStarted)
	if len(started) != 1 {
		t.Fatalf("sub_negotiation.started count = %d, want 1", len(started))
	}
	if started[0].NegotiationID != parent.ID() {
		t.Error("sub_negotiation.started not on the parent stream")
	}
	if got := started[0].Data["sub_demand_text"]; got != "Find a designer" {
		t.Errorf("sub_demand_text = %v", got)
	}

	childID, _ := started[0].Data["sub_negotiation_id"].(string)
	child, ok := eng.Sessions().Get(childID)
	if !ok {
		t.Fatal("child session missing from the store")
	}
	if child.ParentID() != parent.ID() {
		t.Errorf("child parent = %s, want %s", child.ParentID(), parent.ID())
	}
	if child.RecursionDepth() != 1 {
		t.Errorf("child depth = %d, want 1", child.RecursionDepth())
	}
	if child.Status() != session.StatusCompleted {
		t.Errorf("child status = %s, want COMPLETED", child.Status())
	}
	if plan, _ := child.Plan(); plan != "Child plan." {
		t.Errorf("child plan = %q", plan)
	}
}

// Gap recursion fires after output_plan and before the parent's
// plan.ready.
func TestNegotiation_GapRecursionSpawnsChild(t *testing.T) {
	center := centerFunc(func(ctx context.Context, cc skill.CenterContext) (*skill.CenterResult, error) {
		if strings.Contains(cc.Transcript[0].Content, "writer") {
			return &skill.CenterResult{ToolCalls: []llm.ToolCall{
				{ID: "child-plan", Name: tools.ReservedPlanTool, Arguments: map[string]any{"plan_text": "Child plan."}},
			}}, nil
		}
		return &skill.CenterResult{ToolCalls: []llm.ToolCall{
			{ID: "call-plan", Name: tools.ReservedPlanTool, Arguments: map[string]any{"plan_text": "Parent plan."}},
		}}, nil
	})
	skills := skill.Set{
		Offer:  echoOffer(),
		Center: center,
		GapRecursion: gapRecursionFunc(func(ctx context.Context, gc skill.GapRecursionContext) ([]skill.Gap, error) {
			return []skill.Gap{{"sub_demand": "Hire a writer"}}, nil
		}),
		SubNegotiation: subNegotiationFunc(func(ctx context.Context, sc skill.SubNegotiationContext) (*skill.SubNegotiationResult, error) {
			return &skill.SubNegotiationResult{SubDemandText: "Hire a technical writer"}, nil
		}),
	}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills,
		config.EngineConfig{MaxRecursionDepth: intPtr(1)})

	parent := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(1)})

	started := pusher.ofType(event.TypeSubNegotiationStarted)
	if len(started) != 1 {
		t.Fatalf("sub_negotiation.started count = %d, want 1", len(started))
	}
	if got := started[0].Data["sub_demand_text"]; got != "Hire a technical writer" {
		t.Errorf("sub_demand_text = %v, want the refined demand", got)
	}

	// On the parent stream the child starts before the terminal plan.
	var parentTypes []string
	for _, ev := range pusher.Events() {
		if ev.NegotiationID == parent.ID() {
			parentTypes = append(parentTypes, ev.EventType)
		}
	}
	idxStarted, idxReady := -1, -1
	for i, typ := range parentTypes {
		switch typ {
		case event.TypeSubNegotiationStarted:
			idxStarted = i
		case event.TypePlanReady:
			idxReady = i
		}
	}
	if idxStarted == -1 || idxReady == -1 || idxStarted > idxReady {
		t.Errorf("parent stream = %v, want sub_negotiation.started before plan.ready", parentTypes)
	}
	if plan, _ := parent.Plan(); plan != "Parent plan." {
		t.Errorf("parent plan = %q", plan)
	}
}

// Unknown tools are traced and answered in the transcript but never
// reach the stream.
func TestNegotiation_UnknownToolTraced(t *testing.T) {
	center := &scriptCenter{script: []func(cc skill.CenterContext) (*skill.CenterResult, error){
		func(cc skill.CenterContext) (*skill.CenterResult, error) {
			return &skill.CenterResult{ToolCalls: []llm.ToolCall{
				{ID: "call-1", Name: "charter_a_bus", Arguments: map[string]any{}},
				{ID: "call-2", Name: tools.ReservedPlanTool, Arguments: map[string]any{"plan_text": "Done."}},
			}}, nil
		},
	}}
	skills := skill.Set{Offer: echoOffer(), Center: center}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(1)})

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", sess.Status())
	}
	if got := traceOutput(sess, "center.tool_call"); !strings.Contains(got, "unknown tool") {
		t.Errorf("trace = %q, want the unknown-tool record", got)
	}

	calls := pusher.ofType(event.TypeCenterToolCall)
	if len(calls) != 1 {
		t.Fatalf("center.tool_call count = %d, want only the known tool", len(calls))
	}
	if got := calls[0].Data["tool_name"]; got != tools.ReservedPlanTool {
		t.Errorf("tool_name = %v", got)
	}
}

// A caller context death mid-run surfaces as an error with the session
// cancelled.
func TestNegotiation_CallerContextCancelled(t *testing.T) {
	started := make(chan struct{}, 4)
	blocking := offerFunc(func(ctx context.Context, oc skill.OfferContext) (*skill.OfferResult, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	skills := skill.Set{Offer: blocking, Center: planCenter("never")}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	sess := session.New(session.DemandSnapshot{RawIntent: "I need a technical co-founder"})
	done := make(chan error, 1)
	go func() {
		_, err := eng.StartNegotiation(ctx, sess, RunOptions{KStar: intPtr(1), AutoConfirm: true})
		done <- err
	}()

	<-started
	cancel()

	err := <-done
	if err == nil {
		t.Fatal("caller-cancelled run should report an error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in the chain", err)
	}
	if sess.Status() != session.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", sess.Status())
	}
	if containsString(pusher.Types(), event.TypePlanReady) {
		t.Error("cancelled run emitted plan.ready")
	}
}

// The offer task deadline applies per participant: one slow agent times
// out while the fast one's offer still lands.
func TestNegotiation_SlowOfferTimesOutAlone(t *testing.T) {
	offer := offerFunc(func(ctx context.Context, oc skill.OfferContext) (*skill.OfferResult, error) {
		if oc.AgentID == "agent-b" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &skill.OfferResult{Content: "I'll help: " + oc.AgentID}, nil
	})
	skills := skill.Set{Offer: offer, Center: planCenter("Go with A.")}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills,
		config.EngineConfig{OfferTimeoutSeconds: 1})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(2)})

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", sess.Status())
	}
	a, _ := sess.Participant("agent-a")
	if a.State != session.ParticipantReplied {
		t.Errorf("agent-a state = %s, want REPLIED", a.State)
	}
	b, _ := sess.Participant("agent-b")
	if b.State != session.ParticipantExited {
		t.Errorf("agent-b state = %s, want EXITED", b.State)
	}
	if plan, _ := sess.Plan(); plan != "Go with A." {
		t.Errorf("plan = %q", plan)
	}

	barrier := pusher.ofType(event.TypeBarrierComplete)[0]
	if got := barrier.Data["offers_received"]; got != 1 {
		t.Errorf("offers_received = %v, want 1", got)
	}
}

// Stream timestamps are monotonic and the terminal plan.ready is
// unique.
func TestNegotiation_StreamOrdering(t *testing.T) {
	skills := skill.Set{Offer: echoOffer(), Center: planCenter("done")}
	eng, pusher, _ := newTestEngine(t, threeAgents(), cofounderScores(), skills, config.EngineConfig{})

	startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(2)})

	events := pusher.Events()
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp < events[i-1].Timestamp {
			t.Errorf("timestamp regressed at %d: %f < %f", i, events[i].Timestamp, events[i-1].Timestamp)
		}
	}
	if got := len(pusher.ofType(event.TypePlanReady)); got != 1 {
		t.Errorf("plan.ready count = %d, want exactly 1", got)
	}
	if last := events[len(events)-1]; last.EventType != event.TypePlanReady {
		t.Errorf("last event = %s, want plan.ready", last.EventType)
	}
}

// The scene scope restricts the candidate snapshot before detection.
func TestNegotiation_SceneScopedMatching(t *testing.T) {
	agents := []adapter.Registration{
		agentReg("agent-a", "A"),
		agentReg("agent-b", "B"),
	}
	agents[0].Scenes = []string{"hiring"}
	agents[1].Scenes = []string{"procurement"}

	skills := skill.Set{Offer: echoOffer(), Center: planCenter("done")}
	eng, _, _ := newTestEngine(t, agents, map[string]float64{"agent-a": 0.9, "agent-b": 0.9}, skills, config.EngineConfig{})

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{
		Scope: "scene:hiring",
		KStar: intPtr(5),
	})

	if _, ok := sess.Participant("agent-a"); !ok {
		t.Error("in-scene agent not activated")
	}
	if _, ok := sess.Participant("agent-b"); ok {
		t.Error("out-of-scene agent activated")
	}
}

func TestNegotiation_ArchivesTerminalSession(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	archive, err := session.NewArchive(db, "sqlite")
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}

	mock := adapter.NewMockAdapter()
	registry := adapter.NewAgentRegistry(mock)
	if err := registry.RegisterAgent(agentReg("agent-a", "A")); err != nil {
		t.Fatalf("RegisterAgent() error = %v", err)
	}
	enc, err := encoder.NewSimHashEncoder(64, 42)
	if err != nil {
		t.Fatalf("NewSimHashEncoder() error = %v", err)
	}
	eng, err := New(Dependencies{
		Agents:   registry,
		Encoder:  enc,
		Detector: scoreDetector(map[string]float64{"agent-a": 0.9}),
		Skills:   skill.Set{Offer: echoOffer(), Center: planCenter("done")},
		Archive:  archive,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sess := startAuto(t, eng, "I need a technical co-founder", RunOptions{KStar: intPtr(1)})

	snap, err := archive.Get(context.Background(), sess.ID())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Status != session.StatusCompleted {
		t.Errorf("archived status = %s, want COMPLETED", snap.Status)
	}
	if snap.PlanOutput == nil || *snap.PlanOutput != "done" {
		t.Errorf("archived plan = %v, want %q", snap.PlanOutput, "done")
	}
}
