package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/kadirpekel/accord/pkg/config"
	"github.com/kadirpekel/accord/pkg/engine"
	"github.com/kadirpekel/accord/pkg/event"
	"github.com/kadirpekel/accord/pkg/session"
)

// Metadata keys read from incoming A2A messages.
const (
	metaKeyUserID      = "user_id"
	metaKeySceneID     = "scene_id"
	metaKeyScope       = "scope"
	metaKeyKStar       = "k_star"
	metaKeyAutoConfirm = "auto_confirm"
)

// NegotiationExecutor bridges negotiations to the A2A task lifecycle.
//
// Task translation:
//   - New task: the message text is the raw demand; the task reaches
//     input-required at the confirmation gate with the formulated text
//     as the agent message.
//   - Continuation: the message text is the confirmation (empty keeps
//     the formulated text) and the task streams engine events as one
//     data artifact until the negotiation is terminal.
//   - The plan is emitted as its own text artifact, then the task
//     completes. Failures and cancellations map to their task states.
type NegotiationExecutor struct {
	engine *engine.Engine
	pusher *event.ChannelPusher

	// runCtx parents negotiation runs, which outlive single requests.
	runCtx context.Context

	mu    sync.Mutex
	tasks map[a2a.TaskID]*negotiationTask
}

type negotiationTask struct {
	sess *session.Session

	// runErr is written once, before done closes.
	runErr error
	done   chan struct{}
}

// NewNegotiationExecutor creates the bridge. ctx bounds the lifetime of
// negotiations started through it.
func NewNegotiationExecutor(ctx context.Context, eng *engine.Engine, pusher *event.ChannelPusher) *NegotiationExecutor {
	return &NegotiationExecutor{
		engine: eng,
		pusher: pusher,
		runCtx: ctx,
		tasks:  make(map[a2a.TaskID]*negotiationTask),
	}
}

// Execute implements a2asrv.AgentExecutor.
func (e *NegotiationExecutor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	msg := reqCtx.Message
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	text := strings.TrimSpace(textFromMessage(msg))

	e.mu.Lock()
	entry := e.tasks[reqCtx.TaskID]
	e.mu.Unlock()

	if entry != nil {
		return e.resume(ctx, reqCtx, queue, entry, text)
	}
	return e.begin(ctx, reqCtx, queue, text)
}

// Cancel implements a2asrv.AgentExecutor. Cancellation is best-effort:
// the task is reported canceled even when the run already ended.
func (e *NegotiationExecutor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	e.mu.Lock()
	entry := e.tasks[reqCtx.TaskID]
	delete(e.tasks, reqCtx.TaskID)
	e.mu.Unlock()

	if entry != nil {
		if err := e.engine.Cancel(entry.sess.ID()); err != nil {
			slog.Warn("A2A cancel did not stop the negotiation",
				"negotiation_id", entry.sess.ID(), "error", err)
		}
	}

	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	ev.Final = true
	return queue.Write(ctx, ev)
}

func (e *NegotiationExecutor) begin(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue, text string) error {
	if text == "" {
		return fmt.Errorf("demand text is required")
	}

	meta := reqCtx.Message.Metadata
	sess := e.engine.NewSession(session.DemandSnapshot{
		RawIntent: text,
		UserID:    metaString(meta, metaKeyUserID),
		SceneID:   metaString(meta, metaKeySceneID),
	})

	entry := &negotiationTask{sess: sess, done: make(chan struct{})}
	e.mu.Lock()
	e.tasks[reqCtx.TaskID] = entry
	e.mu.Unlock()

	if reqCtx.StoredTask == nil {
		if err := queue.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)); err != nil {
			return err
		}
	}

	// Subscribe before the run starts so no event is missed.
	events, cancelSub := e.pusher.Subscribe(sess.ID())
	defer cancelSub()

	opts := engine.RunOptions{
		Scope:       metaString(meta, metaKeyScope),
		AutoConfirm: metaBool(meta, metaKeyAutoConfirm),
	}
	if k, ok := metaInt(meta, metaKeyKStar); ok {
		opts.KStar = &k
	}

	go func() {
		_, err := e.engine.StartNegotiation(e.runCtx, sess, opts)
		entry.runErr = err
		close(entry.done)
	}()

	stream := newTaskStream(reqCtx, queue)

	if !opts.AutoConfirm {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-events:
			// The first event on a gated run is formulation.ready;
			// park the task at input-required and return. The run
			// stays blocked at the gate until a continuation confirms
			// or the gate times out.
			if ev.EventType == event.TypeFormulationReady {
				return writeInputRequired(ctx, reqCtx, queue, sess.ID(), ev)
			}
			if err := stream.write(ctx, ev); err != nil {
				return err
			}

		case <-entry.done:
			// The run ended before the gate (start rejection).
			return e.finish(ctx, queue, reqCtx, entry, stream)
		}
	} else {
		if err := queue.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)); err != nil {
			return err
		}
	}

	return e.streamToTerminal(ctx, queue, reqCtx, entry, events, stream)
}

func (e *NegotiationExecutor) resume(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue, entry *negotiationTask, text string) error {
	// Subscribe before confirming; the gate emits nothing while parked,
	// so the stream picks up exactly where formulation.ready left off.
	events, cancelSub := e.pusher.Subscribe(entry.sess.ID())
	defer cancelSub()

	if err := e.engine.ConfirmFormulation(entry.sess.ID(), text); err != nil && !errors.Is(err, engine.ErrAlreadyConfirmed) {
		// The run may have expired at the gate or ended; report its
		// terminal state rather than the stale confirmation error.
		select {
		case <-entry.done:
			return e.finish(ctx, queue, reqCtx, entry, newTaskStream(reqCtx, queue))
		default:
		}
		return queue.Write(ctx, failedStatusEvent(reqCtx, err))
	}

	if err := queue.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)); err != nil {
		return err
	}

	return e.streamToTerminal(ctx, queue, reqCtx, entry, events, newTaskStream(reqCtx, queue))
}

func (e *NegotiationExecutor) streamToTerminal(ctx context.Context, queue eventqueue.Queue, reqCtx *a2asrv.RequestContext, entry *negotiationTask, events <-chan event.Event, stream *taskStream) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, open := <-events:
			if !open {
				events = nil
				continue
			}
			if err := stream.write(ctx, ev); err != nil {
				return err
			}

		case <-entry.done:
			for {
				select {
				case ev := <-events:
					if err := stream.write(ctx, ev); err != nil {
						return err
					}
				default:
					return e.finish(ctx, queue, reqCtx, entry, stream)
				}
			}
		}
	}
}

func (e *NegotiationExecutor) finish(ctx context.Context, queue eventqueue.Queue, reqCtx *a2asrv.RequestContext, entry *negotiationTask, stream *taskStream) error {
	e.mu.Lock()
	delete(e.tasks, reqCtx.TaskID)
	e.mu.Unlock()

	if err := stream.close(ctx); err != nil {
		return err
	}

	snap := entry.sess.Snapshot()
	switch snap.Status {
	case session.StatusCompleted:
		if snap.PlanOutput != nil {
			plan := a2a.NewArtifactEvent(reqCtx, a2a.TextPart{Text: *snap.PlanOutput})
			plan.LastChunk = true
			if err := queue.Write(ctx, plan); err != nil {
				return err
			}
		}
		done := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCompleted, nil)
		done.Final = true
		if snap.PlanOutput == nil {
			done.Metadata = map[string]any{"reason": "completed without a plan"}
		}
		return queue.Write(ctx, done)

	case session.StatusCancelled:
		ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
		ev.Final = true
		return queue.Write(ctx, ev)

	default:
		cause := entry.runErr
		if cause == nil {
			cause = fmt.Errorf("negotiation %s ended %s", snap.NegotiationID, snap.Status)
		}
		return queue.Write(ctx, failedStatusEvent(reqCtx, cause))
	}
}

// taskStream accumulates engine events into a single growing data
// artifact on the task.
type taskStream struct {
	reqCtx     *a2asrv.RequestContext
	queue      eventqueue.Queue
	artifactID a2a.ArtifactID
	opened     bool
}

func newTaskStream(reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) *taskStream {
	return &taskStream{reqCtx: reqCtx, queue: queue}
}

func (t *taskStream) write(ctx context.Context, ev event.Event) error {
	part := a2a.DataPart{Data: map[string]any{
		"event_type":     ev.EventType,
		"negotiation_id": ev.NegotiationID,
		"timestamp":      ev.Timestamp,
		"data":           ev.Data,
	}}

	if !t.opened {
		artifact := a2a.NewArtifactEvent(t.reqCtx, part)
		t.artifactID = artifact.Artifact.ID
		t.opened = true
		return t.queue.Write(ctx, artifact)
	}
	return t.queue.Write(ctx, a2a.NewArtifactUpdateEvent(t.reqCtx, t.artifactID, part))
}

func (t *taskStream) close(ctx context.Context) error {
	if !t.opened {
		return nil
	}
	ev := a2a.NewArtifactUpdateEvent(t.reqCtx, t.artifactID)
	ev.LastChunk = true
	return t.queue.Write(ctx, ev)
}

func writeInputRequired(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue, negotiationID string, ev event.Event) error {
	formulated, _ := ev.Data["formulated_text"].(string)

	msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: formulated})
	status := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateInputRequired, msg)
	status.Final = true
	status.Metadata = map[string]any{
		"negotiation_id":  negotiationID,
		"formulated_text": formulated,
	}
	if degraded, ok := ev.Data["degraded"].(bool); ok && degraded {
		status.Metadata["degraded"] = true
	}
	return queue.Write(ctx, status)
}

func failedStatusEvent(reqCtx *a2asrv.RequestContext, cause error) *a2a.TaskStatusUpdateEvent {
	msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: cause.Error()})
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed, msg)
	ev.Final = true
	return ev
}

func textFromMessage(msg *a2a.Message) string {
	var texts []string
	for _, part := range msg.Parts {
		if tp, ok := part.(a2a.TextPart); ok && strings.TrimSpace(tp.Text) != "" {
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

func metaBool(meta map[string]any, key string) bool {
	if meta == nil {
		return false
	}
	b, _ := meta[key].(bool)
	return b
}

// metaInt reads an integer that JSON decoding may have widened to
// float64.
func metaInt(meta map[string]any, key string) (int, bool) {
	if meta == nil {
		return 0, false
	}
	switch v := meta[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// NegotiationAgentCard describes this deployment as one A2A agent whose
// single skill is coordinating negotiations.
func NegotiationAgentCard(cfg *config.Config, authEnabled bool) *a2a.AgentCard {
	name := cfg.Name
	if name == "" {
		name = "accord"
	}
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}
	description := cfg.Description
	if description == "" {
		description = "Coordinates multi-agent negotiations: formulates demands, activates matching agents, collects offers, and synthesizes a plan."
	}

	card := &a2a.AgentCard{
		Name:               name,
		Description:        description,
		URL:                cfg.Server.BaseURL + "/a2a",
		Version:            version,
		ProtocolVersion:    "1.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills: []a2a.AgentSkill{{
			ID:          "negotiate",
			Name:        "Negotiate",
			Description: "Runs a demand through formulation, matching, offer collection, and plan synthesis across the agent directory.",
			Tags:        []string{"negotiation", "coordination"},
		}},
		Capabilities: a2a.AgentCapabilities{
			Streaming: true,
		},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Provider: &a2a.AgentProvider{
			Org: "Accord",
			URL: "https://github.com/kadirpekel/accord",
		},
	}

	if authEnabled {
		card.SecuritySchemes = a2a.NamedSecuritySchemes{
			"BearerAuth": a2a.HTTPAuthSecurityScheme{
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "JWT Bearer token authentication",
			},
		}
		card.Security = []a2a.SecurityRequirements{
			{"BearerAuth": a2a.SecuritySchemeScopes{}},
		}
	}

	return card
}

var _ a2asrv.AgentExecutor = (*NegotiationExecutor)(nil)
