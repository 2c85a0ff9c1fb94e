package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/accord/pkg/adapter"
	"github.com/kadirpekel/accord/pkg/event"
	"github.com/kadirpekel/accord/pkg/llm"
	"github.com/kadirpekel/accord/pkg/observability"
	"github.com/kadirpekel/accord/pkg/session"
	"github.com/kadirpekel/accord/pkg/skill"
	"github.com/kadirpekel/accord/pkg/tools"
	"github.com/kadirpekel/accord/pkg/vector"
)

// run is the live state of one negotiation between StartNegotiation and
// its terminal transition. Only the coordinator goroutine touches the
// session and the plan-ready flag; confirmCh and the atomics are the
// cross-goroutine surface.
type run struct {
	sess      *session.Session
	opts      runOptions
	confirmCh chan string
	cancelFn  context.CancelFunc
	cancelled atomic.Bool
	awaiting  atomic.Bool
	startedAt time.Time

	planReadySent bool
}

// execute drives the phases in order. Each phase reports done=true when
// the session reached a terminal state and the run must stop.
func (e *Engine) execute(ctx context.Context, r *run) (*session.Session, error) {
	sess := r.sess

	ctx, span := e.startSpan(ctx, observability.SpanNegotiationRun,
		attribute.String(observability.AttrNegotiationID, sess.ID()),
		attribute.Int(observability.AttrRecursionDepth, sess.RecursionDepth()),
		attribute.String(observability.AttrScope, r.opts.scope),
	)
	defer span.End()

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordNegotiationStarted(ctx)
	}
	defer e.finishRun(ctx, r, span)

	slog.Info("Negotiation started",
		"negotiation_id", sess.ID(),
		"recursion_depth", sess.RecursionDepth(),
		"scope", r.opts.scope)

	if done, err := e.runFormulation(ctx, r); done || err != nil {
		return sess, err
	}
	if done, err := e.runConfirmationGate(ctx, r); done || err != nil {
		return sess, err
	}
	if done, err := e.runMatching(ctx, r); done || err != nil {
		return sess, err
	}
	if done, err := e.runOfferBarrier(ctx, r); done || err != nil {
		return sess, err
	}
	return sess, e.runCenterLoop(ctx, r)
}

// finishRun records the terminal outcome and archives it best-effort.
// Archival uses a fresh context: the run context is usually dead here.
func (e *Engine) finishRun(ctx context.Context, r *run, span trace.Span) {
	status := r.sess.Status()
	span.SetAttributes(attribute.String(observability.AttrNegotiationStatus, string(status)))

	if !status.Terminal() {
		return
	}

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordNegotiationEnded(ctx, string(status), time.Since(r.startedAt))
	}

	slog.Info("Negotiation finished",
		"negotiation_id", r.sess.ID(),
		"status", string(status),
		"center_rounds", r.sess.CenterRounds(),
		"duration", time.Since(r.startedAt))

	if e.archive != nil {
		actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.archive.Save(actx, r.sess.Snapshot()); err != nil {
			slog.Warn("Failed to archive negotiation",
				"negotiation_id", r.sess.ID(), "error", err)
		}
	}
}

// haltIfInterrupted checks the run context. Once it is dead the session
// transitions to CANCELLED and the stream stays silent; a user-issued
// Cancel halts with a nil error, an expired caller context propagates.
func (e *Engine) haltIfInterrupted(ctx context.Context, r *run) (bool, error) {
	if ctx.Err() == nil {
		return false, nil
	}
	if !r.sess.Status().Terminal() {
		_ = r.sess.TransitionTo(session.StatusCancelled)
		r.sess.AppendTrace("negotiation.cancelled", "", ctx.Err().Error())
	}
	if r.cancelled.Load() {
		return true, nil
	}
	return true, NewEngineError(r.sess.ID(), "run", "caller context ended", ctx.Err())
}

// failSession converts the run to FAILED, emits the terminal plan.ready
// with an error marker, and returns the propagating error.
func (e *Engine) failSession(ctx context.Context, r *run, op string, cause error) error {
	sess := r.sess
	if !sess.Status().Terminal() {
		_ = sess.TransitionTo(session.StatusFailed)
	}
	sess.AppendTrace("negotiation.failed", op, cause.Error())
	e.emitPlanReady(r, "", cause.Error())

	slog.Error("Negotiation failed",
		"negotiation_id", sess.ID(), "op", op, "error", cause)

	return NewEngineError(sess.ID(), op, "negotiation failed", cause)
}

// emit delivers one event unless the run was cancelled.
func (e *Engine) emit(r *run, ev event.Event) {
	if r.cancelled.Load() {
		return
	}
	e.pusher.Push(ev)
}

// emitPlanReady emits the single terminal plan.ready for this run.
func (e *Engine) emitPlanReady(r *run, planText, errMarker string) {
	if r.planReadySent {
		return
	}
	r.planReadySent = true

	ev := event.NewPlanReady(r.sess.ID(), planText, r.sess.CenterRounds(), r.sess.ParticipantIDs())
	if errMarker != "" {
		ev.Data["error"] = errMarker
	}
	e.emit(r, ev)
}

func (e *Engine) recordPhase(ctx context.Context, phase string, start time.Time) {
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordPhase(ctx, phase, time.Since(start))
	}
}

// runFormulation rewrites the raw intent through the formulation skill
// under its timeout. Skill failure degrades to the raw intent instead of
// failing the run. Without a skill the raw intent carries straight to
// the confirmation gate; formulation.ready is emitted either way.
func (e *Engine) runFormulation(ctx context.Context, r *run) (bool, error) {
	sess := r.sess
	start := time.Now()
	defer e.recordPhase(ctx, observability.PhaseFormulation, start)

	raw := sess.Demand().RawIntent

	if r.opts.skills.Formulation == nil {
		if err := sess.TransitionTo(session.StatusAwaitingConfirmation); err != nil {
			return true, e.failSession(ctx, r, "formulation", err)
		}
		if err := sess.SetFormulatedText(raw); err != nil {
			return true, e.failSession(ctx, r, "formulation", err)
		}
		e.emit(r, event.NewFormulationReady(sess.ID(), raw, raw, false, ""))
		return false, nil
	}

	if err := sess.TransitionTo(session.StatusFormulating); err != nil {
		return true, e.failSession(ctx, r, "formulation", err)
	}

	fctx, span := e.startSpan(ctx, observability.SpanFormulation,
		attribute.String(observability.AttrNegotiationID, sess.ID()))
	fctx, cancel := context.WithTimeout(fctx, e.cfg.FormulationTimeout())
	result, err := r.opts.skills.Formulation.Execute(fctx, skill.FormulationContext{
		RawIntent: raw,
		UserID:    sess.Demand().UserID,
		SceneID:   sess.Demand().SceneID,
	})
	cancel()
	span.End()

	if halted, herr := e.haltIfInterrupted(ctx, r); halted {
		return true, herr
	}

	formulated := raw
	degraded := false
	reason := ""
	switch {
	case err != nil:
		degraded = true
		reason = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "formulation timeout"
		}
		slog.Warn("Formulation degraded to raw intent",
			"negotiation_id", sess.ID(), "reason", reason)
	case result == nil || strings.TrimSpace(result.FormulatedText) == "":
		degraded = true
		reason = "empty formulation"
	case result.Degraded:
		formulated = result.FormulatedText
		degraded = true
		reason = result.DegradedReason
	default:
		formulated = result.FormulatedText
	}

	if err := sess.SetFormulatedText(formulated); err != nil {
		return true, e.failSession(ctx, r, "formulation", err)
	}
	if degraded {
		// FORMULATED marks clean formulations only.
		if err := sess.TransitionTo(session.StatusAwaitingConfirmation); err != nil {
			return true, e.failSession(ctx, r, "formulation", err)
		}
	} else {
		if err := sess.TransitionTo(session.StatusFormulated); err != nil {
			return true, e.failSession(ctx, r, "formulation", err)
		}
		if err := sess.TransitionTo(session.StatusAwaitingConfirmation); err != nil {
			return true, e.failSession(ctx, r, "formulation", err)
		}
	}

	e.emit(r, event.NewFormulationReady(sess.ID(), raw, formulated, degraded, reason))
	return false, nil
}

// runConfirmationGate blocks until ConfirmFormulation delivers, the
// configured timeout expires, or the run is cancelled. A timeout ends
// the negotiation COMPLETED with no plan and no further events.
func (e *Engine) runConfirmationGate(ctx context.Context, r *run) (bool, error) {
	sess := r.sess
	start := time.Now()
	defer e.recordPhase(ctx, observability.PhaseConfirmation, start)

	if r.opts.autoConfirm {
		if err := sess.TransitionTo(session.StatusMatching); err != nil {
			return true, e.failSession(ctx, r, "confirmation", err)
		}
		return false, nil
	}

	r.awaiting.Store(true)
	defer r.awaiting.Store(false)

	timer := time.NewTimer(e.cfg.ConfirmationTimeout())
	defer timer.Stop()

	select {
	case text := <-r.confirmCh:
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			if err := sess.SetFormulatedText(trimmed); err != nil {
				return true, e.failSession(ctx, r, "confirmation", err)
			}
		}
		if err := sess.TransitionTo(session.StatusMatching); err != nil {
			return true, e.failSession(ctx, r, "confirmation", err)
		}
		return false, nil

	case <-timer.C:
		if err := sess.TransitionTo(session.StatusCompleted); err != nil {
			return true, e.failSession(ctx, r, "confirmation", err)
		}
		sess.AppendTrace("confirmation.timeout", "",
			fmt.Sprintf("no confirmation within %s", e.cfg.ConfirmationTimeout()))
		slog.Info("Negotiation expired at the confirmation gate",
			"negotiation_id", sess.ID())
		return true, nil

	case <-ctx.Done():
		_, herr := e.haltIfInterrupted(ctx, r)
		return true, herr
	}
}

// runMatching encodes the formulated demand, assembles the candidate
// vector set for the run's scope, and activates the detector's ranking
// as INVITED participants. An empty activation set completes the
// negotiation with the no-offers diagnostic.
func (e *Engine) runMatching(ctx context.Context, r *run) (bool, error) {
	sess := r.sess
	start := time.Now()
	defer e.recordPhase(ctx, observability.PhaseMatching, start)

	mctx, span := e.startSpan(ctx, observability.SpanMatching,
		attribute.String(observability.AttrNegotiationID, sess.ID()))
	defer span.End()

	demandVec, err := e.encoder.Encode(mctx, sess.FormulatedText())
	if err != nil {
		return true, e.failSession(ctx, r, "matching", err)
	}

	candidates, err := e.collectCandidates(mctx, r)
	if err != nil {
		return true, e.failSession(ctx, r, "matching", err)
	}

	activations, err := e.detector.Detect(mctx, demandVec, candidates, r.opts.kStar)
	if err != nil {
		return true, e.failSession(ctx, r, "matching", err)
	}

	if halted, herr := e.haltIfInterrupted(ctx, r); halted {
		return true, herr
	}

	ranked := make([]event.ActivatedAgent, 0, len(activations))
	for _, act := range activations {
		reg, _ := e.agents.Entry(act.AgentID)
		if err := sess.AddParticipant(session.Participant{
			AgentID:        act.AgentID,
			DisplayName:    e.agents.DisplayName(act.AgentID),
			Source:         reg.Source,
			Scenes:         reg.Scenes,
			State:          session.ParticipantInvited,
			ResonanceScore: act.Score,
		}); err != nil {
			return true, e.failSession(ctx, r, "matching", err)
		}
		ranked = append(ranked, event.ActivatedAgent{AgentID: act.AgentID, Score: act.Score})
	}

	e.emit(r, event.NewResonanceActivated(sess.ID(), ranked))

	if len(activations) == 0 {
		if err := sess.TransitionTo(session.StatusCompleted); err != nil {
			return true, e.failSession(ctx, r, "matching", err)
		}
		sess.AppendTrace("matching.empty", sess.FormulatedText(), "no agents activated")
		e.emitPlanReady(r, NoOffersMarker, "")
		return true, nil
	}
	return false, nil
}

// collectCandidates builds {agent id → vector} for the run's scope.
// Precedence per agent: run-supplied vector, registry vector, then a
// batch encoding of the profile text. Agents with nothing to encode are
// skipped rather than failing the run.
func (e *Engine) collectCandidates(ctx context.Context, r *run) (map[string]vector.Vector, error) {
	ids := e.agents.AgentIDs(r.opts.scope)
	candidates := make(map[string]vector.Vector, len(ids))

	var missingIDs []string
	var missingTexts []string
	for _, id := range ids {
		if v, ok := r.opts.vectors[id]; ok {
			candidates[id] = v
			continue
		}
		if v, ok := e.agents.Vector(id); ok {
			candidates[id] = v
			continue
		}
		text := adapter.ProfileText(e.agents.GetProfile(ctx, id))
		if strings.TrimSpace(text) == "" {
			slog.Warn("Agent has no encodable profile, skipping",
				"agent_id", id, "negotiation_id", r.sess.ID())
			continue
		}
		missingIDs = append(missingIDs, id)
		missingTexts = append(missingTexts, text)
	}

	if len(missingIDs) > 0 {
		vecs, err := e.encoder.EncodeBatch(ctx, missingTexts)
		if err != nil {
			return nil, err
		}
		for i, id := range missingIDs {
			candidates[id] = vecs[i]
		}
	}
	return candidates, nil
}

// offerOutcome is one worker's report back to the coordinator.
type offerOutcome struct {
	agentID     string
	displayName string
	content     string
	err         error
	timedOut    bool
}

// runOfferBarrier fans one offer task out per participant and blocks
// until every task reports. Workers only talk to adapters; the
// coordinator applies all participant transitions and emits the events,
// in arrival order.
func (e *Engine) runOfferBarrier(ctx context.Context, r *run) (bool, error) {
	sess := r.sess
	start := time.Now()
	defer e.recordPhase(ctx, observability.PhaseOfferBarrier, start)

	if err := sess.TransitionTo(session.StatusOffering); err != nil {
		return true, e.failSession(ctx, r, "offer_barrier", err)
	}

	bctx, span := e.startSpan(ctx, observability.SpanOfferBarrier,
		attribute.String(observability.AttrNegotiationID, sess.ID()))
	defer span.End()

	participants := sess.Participants()
	results := make(chan offerOutcome, len(participants))

	g, gctx := errgroup.WithContext(bctx)
	for _, p := range participants {
		if err := sess.MarkParticipantActive(p.AgentID); err != nil {
			results <- offerOutcome{agentID: p.AgentID, displayName: p.DisplayName, err: err}
			continue
		}
		p := p
		g.Go(func() error {
			results <- e.collectOffer(gctx, r, p)
			return nil
		})
	}

	for range participants {
		out := <-results

		if r.cancelled.Load() || ctx.Err() != nil {
			sess.AppendTrace("offer.cancelled", out.agentID, "negotiation cancelled")
			continue
		}

		switch {
		case out.err != nil:
			if err := sess.MarkParticipantFailed(out.agentID, out.err.Error()); err == nil {
				sess.AppendTrace("offer.failed", out.agentID, out.err.Error())
			}
		case out.timedOut:
			if err := sess.MarkParticipantExited(out.agentID, "offer timeout"); err == nil {
				sess.AppendTrace("offer.timeout", out.agentID,
					fmt.Sprintf("no offer within %s", e.cfg.OfferTimeout()))
			}
		case strings.TrimSpace(out.content) == "":
			if err := sess.MarkParticipantExited(out.agentID, "empty offer"); err == nil {
				sess.AppendTrace("offer.empty", out.agentID, "agent returned no content")
			}
		default:
			if err := sess.ApplyOffer(out.agentID, out.content); err != nil {
				_ = sess.MarkParticipantFailed(out.agentID, err.Error())
				sess.AppendTrace("offer.failed", out.agentID, err.Error())
				continue
			}
			e.emit(r, event.NewOfferReceived(sess.ID(), out.agentID, out.displayName, out.content))
			if m := observability.GetGlobalMetrics(); m != nil {
				m.RecordOfferReceived(ctx)
			}
		}
	}
	_ = g.Wait()

	if halted, herr := e.haltIfInterrupted(ctx, r); halted {
		return true, herr
	}

	total, offers, exited := sess.BarrierStats()
	e.emit(r, event.NewBarrierComplete(sess.ID(), total, offers, exited))

	if offers == 0 {
		if err := sess.TransitionTo(session.StatusCompleted); err != nil {
			return true, e.failSession(ctx, r, "offer_barrier", err)
		}
		sess.AppendTrace("barrier.empty", "", "no offers received")
		e.emitPlanReady(r, NoOffersMarker, "")
		return true, nil
	}

	if err := sess.TransitionTo(session.StatusSynthesizing); err != nil {
		return true, e.failSession(ctx, r, "offer_barrier", err)
	}
	return false, nil
}

// collectOffer runs one participant's offer task under the per-task
// timeout. It never touches the session.
func (e *Engine) collectOffer(ctx context.Context, r *run, p session.Participant) offerOutcome {
	out := offerOutcome{agentID: p.AgentID, displayName: p.DisplayName}

	tctx, span := e.startSpan(ctx, observability.SpanOfferTask,
		attribute.String(observability.AttrNegotiationID, r.sess.ID()),
		attribute.String(observability.AttrAgentID, p.AgentID))
	defer span.End()

	tctx, cancel := context.WithTimeout(tctx, e.cfg.OfferTimeout())
	defer cancel()

	chat := func(cctx context.Context, prompt, systemPrompt string) (string, error) {
		bound, err := e.agents.AdapterFor(p.AgentID)
		if err != nil {
			return "", err
		}
		return bound.Chat(cctx, p.AgentID,
			[]adapter.Message{{Role: adapter.RoleUser, Content: prompt}}, systemPrompt)
	}

	result, err := r.opts.skills.Offer.Execute(tctx, skill.OfferContext{
		AgentID:        p.AgentID,
		DisplayName:    p.DisplayName,
		Profile:        e.agents.GetProfile(tctx, p.AgentID),
		FormulatedText: r.sess.FormulatedText(),
		Chat:           chat,
	})
	if err != nil {
		if ctx.Err() == nil &&
			(errors.Is(err, context.DeadlineExceeded) || errors.Is(tctx.Err(), context.DeadlineExceeded)) {
			out.timedOut = true
			return out
		}
		out.err = err
		return out
	}
	if result != nil {
		out.content = result.Content
	}
	return out
}

// runCenterLoop consults the center skill once per round and dispatches
// its tool calls in order until a handler finalizes the session, the
// skill stops calling tools, or the round cap is reached.
func (e *Engine) runCenterLoop(ctx context.Context, r *run) error {
	sess := r.sess
	start := time.Now()
	defer e.recordPhase(ctx, observability.PhaseCenter, start)

	profiles := make(map[string]map[string]any)
	offers := make(map[string]string)
	for _, p := range sess.Participants() {
		profiles[p.AgentID] = e.agents.GetProfile(ctx, p.AgentID)
	}
	for _, o := range sess.Offers() {
		offers[o.AgentID] = o.Content
	}

	transcript := []llm.Message{{Role: llm.RoleUser, Content: sess.FormulatedText()}}

	ec := tools.EngineContext{
		Adapter:  e.agents.Router(),
		MaxDepth: e.cfg.RecursionDepth(),
		Spawn:    e.spawnFunc(r),
	}

	for {
		if halted, herr := e.haltIfInterrupted(ctx, r); halted {
			return herr
		}

		round := sess.CenterRounds() + 1
		if round > sess.MaxCenterRounds() {
			return e.finishDegenerate(ctx, r, MaxRoundsMarker)
		}

		rctx, span := e.startSpan(ctx, observability.SpanCenterRound,
			attribute.String(observability.AttrNegotiationID, sess.ID()),
			attribute.Int(observability.AttrCenterRound, round))

		cc := skill.CenterContext{
			Transcript: append([]llm.Message(nil), transcript...),
			Profiles:   profiles,
			Offers:     offers,
			Tools:      e.tools.Definitions(),
			Round:      round,
			MaxRounds:  sess.MaxCenterRounds(),
		}

		result, err := r.opts.skills.Center.Execute(rctx, cc)
		if err != nil && llm.IsLLMError(err) && ctx.Err() == nil {
			slog.Warn("Center round hit an LLM failure, retrying once",
				"negotiation_id", sess.ID(), "round", round, "error", err)
			result, err = r.opts.skills.Center.Execute(rctx, cc)
		}
		span.End()
		if err != nil {
			if halted, herr := e.haltIfInterrupted(ctx, r); halted {
				return herr
			}
			return e.failSession(ctx, r, "center", err)
		}

		// A consumed skill invocation is a round, wherever it leads.
		if err := sess.IncrementCenterRounds(); err != nil {
			return e.failSession(ctx, r, "center", err)
		}
		if m := observability.GetGlobalMetrics(); m != nil {
			m.RecordCenterRound(ctx)
		}
		ec.Round = round

		if result == nil || len(result.ToolCalls) == 0 {
			if result != nil {
				if plan := strings.TrimSpace(result.Content); plan != "" {
					return e.finishWithPlan(ctx, r, plan)
				}
			}
			return e.finishDegenerate(ctx, r, MaxRoundsMarker)
		}

		transcript = append(transcript, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		for _, call := range result.ToolCalls {
			if halted, herr := e.haltIfInterrupted(ctx, r); halted {
				return herr
			}

			handler, ok := e.tools.Get(call.Name)
			if !ok {
				sess.AppendTrace("center.tool_call", call.Name, "error: unknown tool")
				transcript = append(transcript, toolResultMessage(call, map[string]any{"error": "unknown tool"}))
				continue
			}

			e.emit(r, event.NewCenterToolCall(sess.ID(), call.Name, call.Arguments, round))

			artifact, err := e.dispatch(ctx, r, handler, call, ec)
			if err != nil {
				// Handler errors never finalize the session.
				sess.AppendTrace("center.tool_call", call.Name, "error: "+err.Error())
				transcript = append(transcript, toolResultMessage(call, map[string]any{"error": err.Error()}))
				continue
			}
			transcript = append(transcript, toolResultMessage(call, artifact))

			if sess.Status() == session.StatusCompleted {
				return e.finalizePlanned(ctx, r)
			}
		}
	}
}

// dispatch invokes one handler under its own timeout. Sub-negotiation
// spawns run on the run context instead, since the child carries its
// own phase deadlines.
func (e *Engine) dispatch(ctx context.Context, r *run, handler tools.Handler, call llm.ToolCall, ec tools.EngineContext) (map[string]any, error) {
	dctx := ctx
	if call.Name != tools.SpawnSubNegotiationTool {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, e.cfg.OfferTimeout())
		defer cancel()
	}

	dctx, span := e.startSpan(dctx, observability.SpanToolExecution,
		attribute.String(observability.AttrNegotiationID, r.sess.ID()),
		attribute.String(observability.AttrToolName, call.Name))
	defer span.End()

	start := time.Now()
	artifact, err := handler.Handle(dctx, r.sess, call.Arguments, ec)
	if err != nil {
		span.RecordError(err)
	}
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordToolExecution(ctx, call.Name, time.Since(start), err)
	}
	return artifact, err
}

// finishWithPlan stores a center-authored plan and completes the run.
func (e *Engine) finishWithPlan(ctx context.Context, r *run, plan string) error {
	sess := r.sess
	if err := sess.SetPlan(plan); err != nil {
		return e.failSession(ctx, r, "center", err)
	}
	if err := sess.TransitionTo(session.StatusCompleted); err != nil {
		return e.failSession(ctx, r, "center", err)
	}
	e.emitPlanReady(r, plan, "")
	return nil
}

// finishDegenerate folds the collected offers into a fallback plan
// behind the given marker and completes the run.
func (e *Engine) finishDegenerate(ctx context.Context, r *run, marker string) error {
	sess := r.sess

	var b strings.Builder
	b.WriteString(marker)
	for _, o := range sess.Offers() {
		b.WriteString("\n\n")
		b.WriteString(e.agents.DisplayName(o.AgentID))
		b.WriteString(": ")
		b.WriteString(o.Content)
	}
	plan := b.String()

	if err := sess.SetPlan(plan); err != nil {
		return e.failSession(ctx, r, "center", err)
	}
	if err := sess.TransitionTo(session.StatusCompleted); err != nil {
		return e.failSession(ctx, r, "center", err)
	}
	sess.AppendTrace("center.degenerate", marker,
		fmt.Sprintf("folded %d offers", len(sess.Offers())))
	e.emitPlanReady(r, plan, "")
	return nil
}

// finalizePlanned completes a run whose plan was set by the output_plan
// handler: gap recursion may seed children first, then the terminal
// plan.ready goes out.
func (e *Engine) finalizePlanned(ctx context.Context, r *run) error {
	plan, _ := r.sess.Plan()
	e.runGapRecursion(ctx, r, plan)
	e.emitPlanReady(r, plan, "")
	return nil
}

// runGapRecursion analyzes the finished plan for unmet needs and spawns
// one child negotiation per gap, bounded by the recursion depth. All
// failures are trace entries; the parent's plan is already final.
func (e *Engine) runGapRecursion(ctx context.Context, r *run, plan string) {
	gr := r.opts.skills.GapRecursion
	if gr == nil || r.sess.RecursionDepth() >= e.cfg.RecursionDepth() {
		return
	}
	if r.cancelled.Load() || ctx.Err() != nil {
		return
	}

	gaps, err := gr.Execute(ctx, skill.GapRecursionContext{
		Plan:           plan,
		Participants:   r.sess.Participants(),
		RecursionDepth: r.sess.RecursionDepth(),
	})
	if err != nil {
		r.sess.AppendTrace("gap_recursion", "", "error: "+err.Error())
		return
	}

	for _, gap := range gaps {
		if r.cancelled.Load() || ctx.Err() != nil {
			return
		}
		if _, err := e.spawnChild(ctx, r, gap, gapDemandText(gap), r.opts.scope); err != nil {
			r.sess.AppendTrace("gap_recursion", gapDemandText(gap), "error: "+err.Error())
		}
	}
}

// spawnFunc binds the run into a tools.SpawnFunc for handler dispatch.
func (e *Engine) spawnFunc(r *run) tools.SpawnFunc {
	return func(ctx context.Context, parent *session.Session, subDemand, scope string) (map[string]any, error) {
		gap := skill.Gap{"sub_demand": subDemand}
		if scope != "" {
			gap["scope"] = scope
		}
		return e.spawnChild(ctx, r, gap, subDemand, scope)
	}
}

// spawnChild consults the sub-negotiation skill to refine the seed,
// creates the child session, and runs it to a terminal state before
// returning. The child auto-confirms: there is no user at its gate.
func (e *Engine) spawnChild(ctx context.Context, r *run, gap skill.Gap, subDemand, scope string) (map[string]any, error) {
	parent := r.sess
	seed := strings.TrimSpace(subDemand)

	if sn := r.opts.skills.SubNegotiation; sn != nil {
		res, err := sn.Execute(ctx, skill.SubNegotiationContext{
			Parent: parent.Snapshot(),
			Gap:    map[string]any(gap),
		})
		if err != nil {
			return nil, err
		}
		if res == nil {
			return map[string]any{"skipped": true, "reason": "declined"}, nil
		}
		if refined := strings.TrimSpace(res.SubDemandText); refined != "" {
			seed = refined
		}
	}
	if seed == "" {
		return nil, fmt.Errorf("empty sub-negotiation demand")
	}

	child := session.NewChild(parent, seed)
	e.emit(r, event.NewSubNegotiationStarted(parent.ID(), child.ID(), seed))

	childScope := scope
	if childScope == "" {
		childScope = r.opts.scope
	}
	kStar := r.opts.kStar

	done, err := e.StartNegotiation(ctx, child, RunOptions{
		Scope:       childScope,
		KStar:       &kStar,
		Skills:      &r.opts.skills,
		AutoConfirm: true,
	})

	artifact := map[string]any{
		"sub_negotiation_id": child.ID(),
	}
	if done != nil {
		artifact["status"] = string(done.Status())
		if planText, ok := done.Plan(); ok {
			artifact["plan_text"] = planText
		}
	}
	if err != nil {
		artifact["error"] = err.Error()
	}
	return artifact, nil
}

// gapDemandText extracts the demand seed from a gap payload.
func gapDemandText(gap skill.Gap) string {
	for _, key := range []string{"sub_demand", "demand", "description"} {
		if v, ok := gap[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	b, err := json.Marshal(gap)
	if err != nil {
		return ""
	}
	return string(b)
}

// toolResultMessage folds a handler artifact into the transcript so the
// next round's model sees the exchange. Every requested call gets a
// result message, including unknown tools and handler errors, so the
// transcript stays well formed for providers that require pairing.
func toolResultMessage(call llm.ToolCall, artifact map[string]any) llm.Message {
	content, err := json.Marshal(artifact)
	if err != nil {
		content = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    string(content),
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}
