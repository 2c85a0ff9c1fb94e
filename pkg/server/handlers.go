package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/accord/pkg/adapter"
	"github.com/kadirpekel/accord/pkg/engine"
	"github.com/kadirpekel/accord/pkg/session"
	"github.com/kadirpekel/accord/pkg/vector"
)

type startNegotiationRequest struct {
	RawIntent       string `json:"raw_intent"`
	UserID          string `json:"user_id,omitempty"`
	SceneID         string `json:"scene_id,omitempty"`
	Scope           string `json:"scope,omitempty"`
	KStar           *int   `json:"k_star,omitempty"`
	AutoConfirm     bool   `json:"auto_confirm,omitempty"`
	MaxCenterRounds int    `json:"max_center_rounds,omitempty"`
}

type confirmationRequest struct {
	FormulatedText string `json:"formulated_text,omitempty"`
}

func (s *Server) startNegotiation(w http.ResponseWriter, r *http.Request) {
	var req startNegotiationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.RawIntent) == "" {
		respondError(w, http.StatusBadRequest, "raw_intent is required")
		return
	}

	sess := s.engine.NewSession(session.DemandSnapshot{
		RawIntent: req.RawIntent,
		UserID:    req.UserID,
		SceneID:   req.SceneID,
	})
	if req.MaxCenterRounds > 0 {
		if err := sess.SetMaxCenterRounds(req.MaxCenterRounds); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	// Register before launching the run so an immediate GET sees the
	// session; the run itself skips its own store registration.
	if err := s.engine.Sessions().Put(sess); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to register session: "+err.Error())
		return
	}

	opts := engine.RunOptions{
		Scope:       req.Scope,
		KStar:       req.KStar,
		AutoConfirm: req.AutoConfirm,
		SkipStore:   true,
	}
	go func() {
		if _, err := s.engine.StartNegotiation(s.runCtx, sess, opts); err != nil {
			slog.Error("Negotiation run failed",
				"negotiation_id", sess.ID(), "error", err)
		}
	}()

	respondJSON(w, http.StatusAccepted, sess.Snapshot())
}

func (s *Server) listNegotiations(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") == "archive" {
		s.listArchived(w, r)
		return
	}

	snapshots := s.engine.Sessions().Snapshots()
	respondJSON(w, http.StatusOK, map[string]any{
		"negotiations": snapshots,
		"total":        len(snapshots),
	})
}

func (s *Server) listArchived(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		respondError(w, http.StatusServiceUnavailable, "session archive is not configured")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	snapshots, err := s.archive.List(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list archive: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"negotiations": snapshots,
		"total":        len(snapshots),
	})
}

func (s *Server) getNegotiation(w http.ResponseWriter, r *http.Request) {
	negotiationID := chi.URLParam(r, "negotiationID")

	if sess, ok := s.engine.Sessions().Get(negotiationID); ok {
		respondJSON(w, http.StatusOK, sess.Snapshot())
		return
	}

	if s.archive != nil {
		if snap, err := s.archive.Get(r.Context(), negotiationID); err == nil {
			respondJSON(w, http.StatusOK, snap)
			return
		}
	}

	respondError(w, http.StatusNotFound, "negotiation not found: "+negotiationID)
}

func (s *Server) confirmNegotiation(w http.ResponseWriter, r *http.Request) {
	negotiationID := chi.URLParam(r, "negotiationID")

	var req confirmationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	if err := s.engine.ConfirmFormulation(negotiationID, req.FormulatedText); err != nil {
		switch {
		case errors.Is(err, engine.ErrUnknownNegotiation):
			respondError(w, http.StatusNotFound, "no live negotiation: "+negotiationID)
		case errors.Is(err, engine.ErrNotAwaitingConfirmation),
			errors.Is(err, engine.ErrAlreadyConfirmed):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"negotiation_id": negotiationID,
		"status":         "confirmed",
	})
}

func (s *Server) cancelNegotiation(w http.ResponseWriter, r *http.Request) {
	negotiationID := chi.URLParam(r, "negotiationID")

	if err := s.engine.Cancel(negotiationID); err != nil {
		switch {
		case errors.Is(err, engine.ErrUnknownNegotiation):
			respondError(w, http.StatusNotFound, "negotiation not found: "+negotiationID)
		case errors.Is(err, engine.ErrTerminal):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	// Live runs observe cancellation at their next suspension point.
	respondJSON(w, http.StatusAccepted, map[string]string{
		"negotiation_id": negotiationID,
		"status":         "cancelling",
	})
}

type agentInfo struct {
	AgentID     string         `json:"agent_id"`
	DisplayName string         `json:"display_name"`
	Source      string         `json:"source,omitempty"`
	Scenes      []string       `json:"scenes,omitempty"`
	Profile     map[string]any `json:"profile,omitempty"`
	HasVector   bool           `json:"has_vector"`
}

type registerAgentRequest struct {
	AgentID     string         `json:"agent_id"`
	DisplayName string         `json:"display_name,omitempty"`
	Endpoint    string         `json:"endpoint,omitempty"`
	Scenes      []string       `json:"scenes,omitempty"`
	Profile     map[string]any `json:"profile,omitempty"`
	Vector      []float32      `json:"vector,omitempty"`
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	registry := s.engine.Agents()
	ids := registry.AgentIDs(r.URL.Query().Get("scope"))

	agents := make([]agentInfo, 0, len(ids))
	for _, id := range ids {
		reg, ok := registry.Entry(id)
		if !ok {
			continue
		}
		_, hasVector := registry.Vector(id)
		agents = append(agents, agentInfo{
			AgentID:     reg.AgentID,
			DisplayName: reg.DisplayName,
			Source:      reg.Source,
			Scenes:      reg.Scenes,
			Profile:     reg.Profile,
			HasVector:   hasVector,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"total":  len(agents),
	})
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		respondError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	reg := adapter.Registration{
		AgentID:     req.AgentID,
		DisplayName: req.DisplayName,
		Source:      "api",
		Scenes:      req.Scenes,
		Profile:     req.Profile,
	}
	if len(req.Vector) > 0 {
		reg.Vector = vector.Vector(req.Vector)
	}
	if req.Endpoint != "" {
		httpAdapter := adapter.NewHTTPAdapter(adapter.HTTPAdapterConfig{BaseURL: req.Endpoint})
		httpAdapter.SetEndpoint(req.AgentID, req.Endpoint)
		reg.Adapter = httpAdapter
	}

	if err := s.engine.Agents().RegisterAgent(reg); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	slog.Info("Agent registered via API",
		"agent_id", req.AgentID, "endpoint", req.Endpoint)

	stored, _ := s.engine.Agents().Entry(req.AgentID)
	respondJSON(w, http.StatusCreated, agentInfo{
		AgentID:     stored.AgentID,
		DisplayName: stored.DisplayName,
		Source:      stored.Source,
		Scenes:      stored.Scenes,
		Profile:     stored.Profile,
		HasVector:   len(req.Vector) > 0,
	})
}
