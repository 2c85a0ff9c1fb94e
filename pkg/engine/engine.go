// Package engine runs negotiations end to end: formulation, the user
// confirmation gate, resonance matching, the offer barrier, and the
// center synthesis loop, with optional sub-negotiation recursion.
//
// Key components:
//   - Engine: the coordinator; StartNegotiation drives one session from
//     CREATED to a terminal state
//   - RunOptions: per-run knobs (scope, activation cap, skill overrides)
//   - Detector: the matching seam, defaulting to in-process resonance
//     ranking with an optional vector-index backing
//
// Concurrency model: one coordinator goroutine per negotiation owns all
// session mutation and event emission. Offer workers only perform
// adapter I/O and report outcomes back; the coordinator applies the
// resulting transitions, so events stay serialized per negotiation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/accord/pkg/adapter"
	"github.com/kadirpekel/accord/pkg/config"
	"github.com/kadirpekel/accord/pkg/encoder"
	"github.com/kadirpekel/accord/pkg/event"
	"github.com/kadirpekel/accord/pkg/observability"
	"github.com/kadirpekel/accord/pkg/session"
	"github.com/kadirpekel/accord/pkg/skill"
	"github.com/kadirpekel/accord/pkg/tools"
	"github.com/kadirpekel/accord/pkg/vector"
)

// Degenerate plan markers. The first line of a fallback plan names why
// synthesis was cut short; any collected offers follow.
const (
	NoOffersMarker  = "(no offers)"
	MaxRoundsMarker = "(max-rounds reached)"
)

// Engine boundary errors.
var (
	ErrUnknownNegotiation      = errors.New("unknown negotiation")
	ErrNotAwaitingConfirmation = errors.New("not awaiting confirmation")
	ErrAlreadyConfirmed        = errors.New("confirmation already delivered")
	ErrAlreadyRunning          = errors.New("negotiation already running")
	ErrTerminal                = errors.New("negotiation already terminal")
)

// EngineError reports a rejected or failed engine boundary operation.
type EngineError struct {
	NegotiationID string
	Op            string
	Message       string
	Err           error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine %s: %s: %s: %v", e.NegotiationID, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("engine %s: %s: %s", e.NegotiationID, e.Op, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError builds an EngineError for one operation.
func NewEngineError(negotiationID, op, message string, err error) *EngineError {
	return &EngineError{NegotiationID: negotiationID, Op: op, Message: message, Err: err}
}

// Dependencies carries everything an Engine needs. Agents, Encoder, and
// the Center and Offer skills are required; the rest default.
type Dependencies struct {
	// Agents is the directory of reachable agents and their channels.
	Agents *adapter.AgentRegistry

	// Encoder embeds demand and profile text for matching.
	Encoder encoder.Encoder

	// Detector ranks candidates. Nil uses in-process resonance ranking.
	Detector Detector

	// Pusher receives lifecycle events. Nil discards them.
	Pusher event.Pusher

	// Store keeps live sessions for external lookup. Nil creates one.
	Store *session.Store

	// Archive persists terminal sessions best-effort. Optional.
	Archive *session.Archive

	// Skills are the five strategy seams. Center and Offer are required.
	Skills skill.Set

	// Tools is the center tool registry. Nil installs the built-ins.
	Tools *tools.Registry

	// Config tunes timeouts, round caps, and recursion depth.
	Config config.EngineConfig
}

// Engine coordinates negotiations. Construct with New; safe for
// concurrent use.
type Engine struct {
	agents   *adapter.AgentRegistry
	encoder  encoder.Encoder
	detector Detector
	pusher   event.Pusher
	store    *session.Store
	archive  *session.Archive
	skills   skill.Set
	tools    *tools.Registry
	cfg      config.EngineConfig

	freezeOnce sync.Once

	mu   sync.Mutex
	runs map[string]*run
}

// New validates deps, fills defaults, and builds an Engine.
func New(deps Dependencies) (*Engine, error) {
	deps.Config.SetDefaults()
	if err := deps.Config.Validate(); err != nil {
		return nil, NewEngineError("", "new", "invalid engine config", err)
	}
	if deps.Agents == nil {
		return nil, NewEngineError("", "new", "agent registry is required", nil)
	}
	if deps.Encoder == nil {
		return nil, NewEngineError("", "new", "encoder is required", nil)
	}
	if deps.Skills.Center == nil {
		return nil, NewEngineError("", "new", "center skill is required", nil)
	}
	if deps.Skills.Offer == nil {
		return nil, NewEngineError("", "new", "offer skill is required", nil)
	}
	if deps.Detector == nil {
		deps.Detector = DefaultDetector()
	}
	if deps.Pusher == nil {
		deps.Pusher = event.NewNopPusher()
	}
	if deps.Store == nil {
		deps.Store = session.NewStore()
	}
	if deps.Tools == nil {
		deps.Tools = tools.NewRegistry()
	}

	return &Engine{
		agents:   deps.Agents,
		encoder:  deps.Encoder,
		detector: deps.Detector,
		pusher:   deps.Pusher,
		store:    deps.Store,
		archive:  deps.Archive,
		skills:   deps.Skills,
		tools:    deps.Tools,
		cfg:      deps.Config,
		runs:     make(map[string]*run),
	}, nil
}

// RunOptions tunes one negotiation run.
type RunOptions struct {
	// Scope filters the agent directory snapshot: "" or "all" for the
	// whole directory, "network" as a synonym, or "scene:<id>".
	Scope string

	// KStar caps the activation set for this run. Nil uses the
	// configured default; an explicit 0 activates nobody.
	KStar *int

	// AgentVectors supplies precomputed capability vectors keyed by
	// agent id. They take precedence over registry vectors and skip
	// profile encoding for those agents.
	AgentVectors map[string]vector.Vector

	// Skills overrides the engine's skills field-wise for this run; nil
	// fields keep the engine default.
	Skills *skill.Set

	// AutoConfirm accepts the formulated text without waiting at the
	// confirmation gate. Sub-negotiations always run auto-confirmed.
	AutoConfirm bool

	// SkipStore leaves the session out of the engine's session store.
	SkipStore bool
}

// resolved per-run options.
type runOptions struct {
	scope       string
	kStar       int
	vectors     map[string]vector.Vector
	skills      skill.Set
	autoConfirm bool
}

func (e *Engine) resolveOptions(opts RunOptions) runOptions {
	out := runOptions{
		scope:       opts.Scope,
		kStar:       e.cfg.DefaultKStar,
		vectors:     opts.AgentVectors,
		skills:      e.skills,
		autoConfirm: opts.AutoConfirm,
	}
	if opts.KStar != nil {
		out.kStar = *opts.KStar
	}
	if opts.Skills != nil {
		if opts.Skills.Formulation != nil {
			out.skills.Formulation = opts.Skills.Formulation
		}
		if opts.Skills.Offer != nil {
			out.skills.Offer = opts.Skills.Offer
		}
		if opts.Skills.Center != nil {
			out.skills.Center = opts.Skills.Center
		}
		if opts.Skills.SubNegotiation != nil {
			out.skills.SubNegotiation = opts.Skills.SubNegotiation
		}
		if opts.Skills.GapRecursion != nil {
			out.skills.GapRecursion = opts.Skills.GapRecursion
		}
	}
	return out
}

// NewSession creates a root session seeded with this engine's
// configured center-round cap. Sessions built with session.New directly
// keep the package default instead.
func (e *Engine) NewSession(demand session.DemandSnapshot) *session.Session {
	sess := session.New(demand)
	// The session is fresh, so the cap is still adjustable.
	_ = sess.SetMaxCenterRounds(e.cfg.MaxCenterRounds)
	return sess
}

// StartNegotiation drives sess from CREATED to a terminal state. It
// blocks until the session is terminal and returns it; a non-nil error
// reports either a rejected start or a FAILED session. A cancelled
// session returns with a nil error.
//
// The session must be freshly created. Each negotiation id runs at most
// once.
func (e *Engine) StartNegotiation(ctx context.Context, sess *session.Session, opts RunOptions) (*session.Session, error) {
	if sess == nil {
		return nil, NewEngineError("", "start", "session is required", nil)
	}
	if status := sess.Status(); status != session.StatusCreated {
		return sess, NewEngineError(sess.ID(), "start",
			fmt.Sprintf("session is %s, a run starts from %s", status, session.StatusCreated), nil)
	}
	if limit := e.cfg.RecursionDepth(); sess.RecursionDepth() > limit {
		return sess, NewEngineError(sess.ID(), "start",
			fmt.Sprintf("recursion depth %d exceeds limit %d", sess.RecursionDepth(), limit), nil)
	}

	// The tool surface is sealed before the first run and stays stable
	// for the process lifetime.
	e.freezeOnce.Do(e.tools.Freeze)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		sess:      sess,
		opts:      e.resolveOptions(opts),
		confirmCh: make(chan string, 1),
		cancelFn:  cancel,
		startedAt: time.Now(),
	}

	if err := e.admit(r); err != nil {
		return sess, err
	}
	defer e.release(sess.ID())

	if !opts.SkipStore {
		if err := e.store.Put(sess); err != nil {
			return sess, NewEngineError(sess.ID(), "start", "failed to register session", err)
		}
	}

	return e.execute(runCtx, r)
}

func (e *Engine) admit(r *run) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := r.sess.ID()
	if _, exists := e.runs[id]; exists {
		return NewEngineError(id, "start", "a run for this negotiation is live", ErrAlreadyRunning)
	}
	e.runs[id] = r
	return nil
}

func (e *Engine) release(negotiationID string) {
	e.mu.Lock()
	delete(e.runs, negotiationID)
	e.mu.Unlock()
}

func (e *Engine) lookupRun(negotiationID string) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[negotiationID]
}

// ConfirmFormulation releases the confirmation gate for a negotiation
// in AWAITING_CONFIRMATION. A non-empty formulatedText replaces the
// formulated demand before matching begins.
func (e *Engine) ConfirmFormulation(negotiationID, formulatedText string) error {
	r := e.lookupRun(negotiationID)
	if r == nil {
		return NewEngineError(negotiationID, "confirm", "no live run", ErrUnknownNegotiation)
	}
	if !r.awaiting.Load() {
		return NewEngineError(negotiationID, "confirm", "negotiation is not awaiting confirmation", ErrNotAwaitingConfirmation)
	}
	select {
	case r.confirmCh <- formulatedText:
		return nil
	default:
		return NewEngineError(negotiationID, "confirm", "confirmation already delivered", ErrAlreadyConfirmed)
	}
}

// IsAwaitingConfirmation reports whether the negotiation has a live run
// blocked at the confirmation gate.
func (e *Engine) IsAwaitingConfirmation(negotiationID string) bool {
	r := e.lookupRun(negotiationID)
	return r != nil && r.awaiting.Load()
}

// Cancel stops a negotiation. A live run observes the cancellation at
// its next suspension point, transitions to CANCELLED, and emits no
// further events. A stored session with no live run is cancelled
// directly. Terminal sessions reject cancellation.
func (e *Engine) Cancel(negotiationID string) error {
	if r := e.lookupRun(negotiationID); r != nil {
		r.cancelled.Store(true)
		r.cancelFn()
		return nil
	}

	sess, ok := e.store.Get(negotiationID)
	if !ok {
		return NewEngineError(negotiationID, "cancel", "no such negotiation", ErrUnknownNegotiation)
	}
	if sess.Status().Terminal() {
		return NewEngineError(negotiationID, "cancel", "negotiation already terminal", ErrTerminal)
	}
	if err := sess.TransitionTo(session.StatusCancelled); err != nil {
		return NewEngineError(negotiationID, "cancel", "failed to cancel", err)
	}
	return nil
}

// RegisterToolHandler adds an extension tool handler. Registration is
// open between construction and the first negotiation; the registry is
// frozen once a run starts. The output_plan name is reserved.
func (e *Engine) RegisterToolHandler(h tools.Handler) error {
	return e.tools.Register(h)
}

// Sessions exposes the live session store for external lookup.
func (e *Engine) Sessions() *session.Store {
	return e.store
}

// Agents exposes the agent directory.
func (e *Engine) Agents() *adapter.AgentRegistry {
	return e.agents
}

// Tools exposes the tool registry.
func (e *Engine) Tools() *tools.Registry {
	return e.tools
}

// Config returns the engine configuration in effect.
func (e *Engine) Config() config.EngineConfig {
	return e.cfg
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := observability.GetTracer("accord.engine")
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
