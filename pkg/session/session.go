// Package session holds the negotiation data model: the session state
// machine, participants, offers, and the append-only trace.
//
// Key components:
//   - Status: session states with the CanTransition successor table
//   - Participant: per-session agent with its own state and offer
//   - Session: mutex-guarded entity whose mutations enforce invariants
//   - Store: in-memory registry of live sessions
//   - Archive: best-effort SQL persistence for terminal sessions
//
// The engine coordinator is the only writer during a run; the methods
// still lock so the server can read snapshots concurrently.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a negotiation session.
type Status string

const (
	StatusCreated              Status = "CREATED"
	StatusFormulating          Status = "FORMULATING"
	StatusFormulated           Status = "FORMULATED"
	StatusAwaitingConfirmation Status = "AWAITING_CONFIRMATION"
	StatusMatching             Status = "MATCHING"
	StatusOffering             Status = "OFFERING"
	StatusSynthesizing         Status = "SYNTHESIZING"
	StatusCompleted            Status = "COMPLETED"
	StatusCancelled            Status = "CANCELLED"
	StatusFailed               Status = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// successors holds the permitted forward transitions. CANCELLED and
// FAILED are reachable from every non-terminal state and are handled
// in CanTransition directly.
var successors = map[Status][]Status{
	StatusCreated:     {StatusFormulating, StatusAwaitingConfirmation},
	StatusFormulating: {StatusFormulated, StatusAwaitingConfirmation},
	StatusFormulated:  {StatusAwaitingConfirmation},
	// COMPLETED covers the confirmation-timeout exit.
	StatusAwaitingConfirmation: {StatusMatching, StatusCompleted},
	// COMPLETED covers the empty-activation exit (no offer phase).
	StatusMatching: {StatusOffering, StatusCompleted},
	// COMPLETED covers the zero-offers exit (no synthesis phase).
	StatusOffering:     {StatusSynthesizing, StatusCompleted},
	StatusSynthesizing: {StatusCompleted},
}

// CanTransition reports whether from → to is a permitted transition.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled || to == StatusFailed {
		return true
	}
	for _, next := range successors[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParticipantState is the per-session state of one activated agent.
type ParticipantState string

const (
	ParticipantInvited ParticipantState = "INVITED"
	ParticipantActive  ParticipantState = "ACTIVE"
	ParticipantReplied ParticipantState = "REPLIED"
	ParticipantExited  ParticipantState = "EXITED"
	ParticipantFailed  ParticipantState = "FAILED"
)

// Terminal reports whether the participant finished its offer task.
func (s ParticipantState) Terminal() bool {
	switch s {
	case ParticipantReplied, ParticipantExited, ParticipantFailed:
		return true
	}
	return false
}

// DemandSnapshot captures the user's demand. RawIntent, UserID and
// SceneID are immutable; FormulatedText is written through the session
// during the formulation window only.
type DemandSnapshot struct {
	RawIntent      string `json:"raw_intent"`
	FormulatedText string `json:"formulated_text,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	SceneID        string `json:"scene_id,omitempty"`
}

// Offer is a participant's response to the formulated demand.
// Immutable once stored.
type Offer struct {
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TraceEntry is one append-only step record with coarse summaries.
type TraceEntry struct {
	Step      string    `json:"step"`
	Input     string    `json:"input,omitempty"`
	Output    string    `json:"output,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Participant is one activated agent inside a session.
type Participant struct {
	AgentID        string           `json:"agent_id"`
	DisplayName    string           `json:"display_name,omitempty"`
	Source         string           `json:"source,omitempty"`
	Scenes         []string         `json:"scenes,omitempty"`
	State          ParticipantState `json:"state"`
	Offer          *Offer           `json:"offer,omitempty"`
	ResonanceScore float64          `json:"resonance_score"`
	LastError      string           `json:"last_error,omitempty"`
}

// Session errors.
var (
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrDuplicateParticipant = errors.New("participant already present")
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrPlanAlreadySet       = errors.New("plan already set")
	ErrRoundLimit           = errors.New("center round limit reached")
)

// SessionError reports a rejected session mutation.
type SessionError struct {
	NegotiationID string
	Op            string
	Message       string
	Err           error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session %s: %s: %s: %v", e.NegotiationID, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("session %s: %s: %s", e.NegotiationID, e.Op, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Session is one negotiation. All mutations go through methods that
// enforce the state machine and data invariants.
type Session struct {
	mu sync.RWMutex

	id              string
	parentID        string
	recursionDepth  int
	demand          DemandSnapshot
	status          Status
	participants    []*Participant
	byAgent         map[string]*Participant
	centerRounds    int
	maxCenterRounds int
	plan            string
	planSet         bool
	trace           []TraceEntry
	createdAt       time.Time
	updatedAt       time.Time
}

// New creates a session in CREATED state with a generated negotiation
// id and the default center-round cap.
func New(demand DemandSnapshot) *Session {
	now := time.Now()
	return &Session{
		id:              fmt.Sprintf("neg-%s", uuid.New().String()),
		demand:          demand,
		status:          StatusCreated,
		byAgent:         make(map[string]*Participant),
		maxCenterRounds: 5,
		createdAt:       now,
		updatedAt:       now,
	}
}

// NewChild creates a sub-negotiation session. It inherits the parent's
// user and scene, records the parent id, and increments the recursion
// depth. Depth policy is enforced by the engine, not here.
func NewChild(parent *Session, subDemand string) *Session {
	parent.mu.RLock()
	demand := DemandSnapshot{
		RawIntent: subDemand,
		UserID:    parent.demand.UserID,
		SceneID:   parent.demand.SceneID,
	}
	parentID := parent.id
	depth := parent.recursionDepth + 1
	maxRounds := parent.maxCenterRounds
	parent.mu.RUnlock()

	child := New(demand)
	child.parentID = parentID
	child.recursionDepth = depth
	child.maxCenterRounds = maxRounds
	return child
}

// ID returns the negotiation id.
func (s *Session) ID() string { return s.id }

// ParentID returns the parent negotiation id, empty for root sessions.
func (s *Session) ParentID() string { return s.parentID }

// RecursionDepth returns the sub-negotiation nesting depth.
func (s *Session) RecursionDepth() int { return s.recursionDepth }

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Demand returns a copy of the demand snapshot.
func (s *Session) Demand() DemandSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.demand
}

// FormulatedText returns the formulated demand, empty until written.
func (s *Session) FormulatedText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.demand.FormulatedText
}

// MaxCenterRounds returns the center-round cap.
func (s *Session) MaxCenterRounds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxCenterRounds
}

// SetMaxCenterRounds adjusts the round cap. Valid only before the run
// starts; the cap is a policy constant afterwards.
func (s *Session) SetMaxCenterRounds(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusCreated {
		return s.errLocked("SetMaxCenterRounds", "session already started", ErrInvalidTransition)
	}
	if n < 0 {
		return s.errLocked("SetMaxCenterRounds", fmt.Sprintf("negative cap %d", n), nil)
	}
	s.maxCenterRounds = n
	return nil
}

// CenterRounds returns the number of completed center rounds.
func (s *Session) CenterRounds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.centerRounds
}

// IncrementCenterRounds advances the round counter. The counter is
// monotonic and never exceeds the cap.
func (s *Session) IncrementCenterRounds() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.centerRounds+1 > s.maxCenterRounds {
		return s.errLocked("IncrementCenterRounds",
			fmt.Sprintf("cap %d reached", s.maxCenterRounds), ErrRoundLimit)
	}
	s.centerRounds++
	s.updatedAt = time.Now()
	return nil
}

// TransitionTo moves the session to the next state if the transition
// is permitted.
func (s *Session) TransitionTo(next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.status, next) {
		return s.errLocked("TransitionTo",
			fmt.Sprintf("%s to %s", s.status, next), ErrInvalidTransition)
	}
	s.status = next
	s.updatedAt = time.Now()
	return nil
}

// SetFormulatedText writes the formulated demand. Permitted only while
// the session is FORMULATING or AWAITING_CONFIRMATION.
func (s *Session) SetFormulatedText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusFormulating && s.status != StatusAwaitingConfirmation {
		return s.errLocked("SetFormulatedText",
			fmt.Sprintf("state %s is outside the formulation window", s.status), ErrInvalidTransition)
	}
	if text == "" {
		return s.errLocked("SetFormulatedText", "empty text", nil)
	}
	s.demand.FormulatedText = text
	s.updatedAt = time.Now()
	return nil
}

// AddParticipant appends an activated agent. Each agent id appears at
// most once per session; order of addition is preserved.
func (s *Session) AddParticipant(p Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.AgentID == "" {
		return s.errLocked("AddParticipant", "empty agent id", nil)
	}
	if _, exists := s.byAgent[p.AgentID]; exists {
		return s.errLocked("AddParticipant", p.AgentID, ErrDuplicateParticipant)
	}
	if p.State == "" {
		p.State = ParticipantInvited
	}
	stored := p
	s.participants = append(s.participants, &stored)
	s.byAgent[p.AgentID] = &stored
	s.updatedAt = time.Now()
	return nil
}

// Participant returns a copy of one participant.
func (s *Session) Participant(agentID string) (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byAgent[agentID]
	if !ok {
		return Participant{}, false
	}
	return cloneParticipant(p), true
}

// Participants returns copies of all participants in activation order.
func (s *Session) Participants() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, cloneParticipant(p))
	}
	return out
}

// ParticipantIDs returns the agent ids in activation order.
func (s *Session) ParticipantIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.participants))
	for _, p := range s.participants {
		ids = append(ids, p.AgentID)
	}
	return ids
}

// MarkParticipantActive transitions a participant INVITED → ACTIVE.
func (s *Session) MarkParticipantActive(agentID string) error {
	return s.setParticipantState(agentID, "MarkParticipantActive", ParticipantActive, "", ParticipantInvited)
}

// ApplyOffer stores the participant's offer and transitions it to
// REPLIED. A participant holds an offer exactly when it is REPLIED.
func (s *Session) ApplyOffer(agentID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byAgent[agentID]
	if !ok {
		return s.errLocked("ApplyOffer", agentID, ErrUnknownParticipant)
	}
	if p.State != ParticipantActive {
		return s.errLocked("ApplyOffer",
			fmt.Sprintf("%s is %s, want %s", agentID, p.State, ParticipantActive), ErrInvalidTransition)
	}
	p.Offer = &Offer{AgentID: agentID, Content: content, CreatedAt: time.Now()}
	p.State = ParticipantReplied
	s.updatedAt = time.Now()
	return nil
}

// MarkParticipantExited transitions a participant to EXITED (timeout or
// voluntary exit) and records the reason.
func (s *Session) MarkParticipantExited(agentID, reason string) error {
	return s.setParticipantState(agentID, "MarkParticipantExited", ParticipantExited, reason,
		ParticipantInvited, ParticipantActive)
}

// MarkParticipantFailed transitions a participant to FAILED and records
// the error.
func (s *Session) MarkParticipantFailed(agentID, reason string) error {
	return s.setParticipantState(agentID, "MarkParticipantFailed", ParticipantFailed, reason,
		ParticipantInvited, ParticipantActive)
}

func (s *Session) setParticipantState(agentID, op string, next ParticipantState, reason string, from ...ParticipantState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byAgent[agentID]
	if !ok {
		return s.errLocked(op, agentID, ErrUnknownParticipant)
	}
	permitted := false
	for _, f := range from {
		if p.State == f {
			permitted = true
			break
		}
	}
	if !permitted {
		return s.errLocked(op,
			fmt.Sprintf("%s is %s", agentID, p.State), ErrInvalidTransition)
	}
	p.State = next
	if reason != "" {
		p.LastError = reason
	}
	s.updatedAt = time.Now()
	return nil
}

// BarrierComplete reports whether every participant reached a terminal
// per-session state. Vacuously true with zero participants.
func (s *Session) BarrierComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants {
		if !p.State.Terminal() {
			return false
		}
	}
	return true
}

// BarrierStats returns the barrier outcome: total participants, offers
// received, and the combined EXITED + FAILED count.
func (s *Session) BarrierStats() (total, offers, exited int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total = len(s.participants)
	for _, p := range s.participants {
		switch p.State {
		case ParticipantReplied:
			offers++
		case ParticipantExited, ParticipantFailed:
			exited++
		}
	}
	return total, offers, exited
}

// Offers returns the stored offers in participant activation order.
func (s *Session) Offers() []Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Offer
	for _, p := range s.participants {
		if p.Offer != nil {
			out = append(out, *p.Offer)
		}
	}
	return out
}

// SetPlan stores the final plan. Set at most once, only during
// synthesis; the session transitions to COMPLETED right after.
func (s *Session) SetPlan(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.planSet {
		return s.errLocked("SetPlan", "already set", ErrPlanAlreadySet)
	}
	if s.status != StatusSynthesizing {
		return s.errLocked("SetPlan",
			fmt.Sprintf("state %s is outside synthesis", s.status), ErrInvalidTransition)
	}
	if text == "" {
		return s.errLocked("SetPlan", "empty plan", nil)
	}
	s.plan = text
	s.planSet = true
	s.updatedAt = time.Now()
	return nil
}

// Plan returns the final plan and whether it was set.
func (s *Session) Plan() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan, s.planSet
}

// AppendTrace records one step with coarse input/output summaries.
func (s *Session) AppendTrace(step, input, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append(s.trace, TraceEntry{
		Step:      step,
		Input:     input,
		Output:    output,
		Timestamp: time.Now(),
	})
	s.updatedAt = time.Now()
}

// Trace returns a copy of the trace.
func (s *Session) Trace() []TraceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TraceEntry, len(s.trace))
	copy(out, s.trace)
	return out
}

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns the last mutation time.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Snapshot is a point-in-time copy of a session for serialization on
// the REST surface and in the archive.
type Snapshot struct {
	NegotiationID       string         `json:"negotiation_id"`
	ParentNegotiationID string         `json:"parent_negotiation_id,omitempty"`
	RecursionDepth      int            `json:"recursion_depth"`
	Status              Status         `json:"status"`
	Demand              DemandSnapshot `json:"demand"`
	Participants        []Participant  `json:"participants"`
	CenterRounds        int            `json:"center_rounds"`
	MaxCenterRounds     int            `json:"max_center_rounds"`
	PlanOutput          *string        `json:"plan_output"`
	Trace               []TraceEntry   `json:"trace,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Snapshot returns a consistent copy of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		NegotiationID:       s.id,
		ParentNegotiationID: s.parentID,
		RecursionDepth:      s.recursionDepth,
		Status:              s.status,
		Demand:              s.demand,
		Participants:        make([]Participant, 0, len(s.participants)),
		CenterRounds:        s.centerRounds,
		MaxCenterRounds:     s.maxCenterRounds,
		Trace:               make([]TraceEntry, len(s.trace)),
		CreatedAt:           s.createdAt,
		UpdatedAt:           s.updatedAt,
	}
	for _, p := range s.participants {
		snap.Participants = append(snap.Participants, cloneParticipant(p))
	}
	copy(snap.Trace, s.trace)
	if s.planSet {
		plan := s.plan
		snap.PlanOutput = &plan
	}
	return snap
}

func cloneParticipant(p *Participant) Participant {
	out := *p
	if p.Offer != nil {
		offer := *p.Offer
		out.Offer = &offer
	}
	if p.Scenes != nil {
		out.Scenes = append([]string(nil), p.Scenes...)
	}
	return out
}

// errLocked builds a SessionError; callers hold the mutex.
func (s *Session) errLocked(op, message string, err error) error {
	return &SessionError{NegotiationID: s.id, Op: op, Message: message, Err: err}
}
