package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/accord/pkg/event"
)

const sseKeepAliveInterval = 15 * time.Second

// streamEvents serves one negotiation's event stream over SSE. The
// stream closes when the client disconnects or shortly after the
// session reaches a terminal state. Delivery is at-most-once: a slow
// consumer loses events instead of stalling the engine.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.pusher == nil {
		respondError(w, http.StatusServiceUnavailable, "event streaming is not enabled")
		return
	}

	negotiationID := chi.URLParam(r, "negotiationID")
	sess, ok := s.engine.Sessions().Get(negotiationID)
	if !ok {
		respondError(w, http.StatusNotFound, "negotiation not found: "+negotiationID)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported by connection")
		return
	}

	events, cancel := s.pusher.Subscribe(negotiationID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slog.Debug("SSE stream opened", "negotiation_id", negotiationID)

	// The ticker drives both the terminal-state check and keep-alives.
	// Terminal paths without a closing event (cancellation, confirmation
	// timeout) end the stream on the next tick.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastKeepAlive := time.Now()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, open := <-events:
			if !open {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()

		case <-ticker.C:
			if sess.Status().Terminal() {
				s.drainSSE(w, events)
				flusher.Flush()
				slog.Debug("SSE stream closed", "negotiation_id", negotiationID)
				return
			}
			if time.Since(lastKeepAlive) >= sseKeepAliveInterval {
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
				lastKeepAlive = time.Now()
			}
		}
	}
}

// drainSSE flushes whatever is already buffered without blocking.
func (s *Server) drainSSE(w http.ResponseWriter, events <-chan event.Event) {
	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			writeSSE(w, ev)
		default:
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal event",
			"negotiation_id", ev.NegotiationID,
			"event_type", ev.EventType,
			"error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType, data)
}
