// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes a running engine over HTTP.
//
// The REST surface lives under /v1: negotiations are started, inspected,
// confirmed, and cancelled there, with per-negotiation event streaming
// over SSE. The agent directory is readable and extendable at runtime.
// When enabled, an A2A JSON-RPC endpoint bridges the same negotiations
// to the A2A task lifecycle.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/accord/pkg/auth"
	"github.com/kadirpekel/accord/pkg/config"
	"github.com/kadirpekel/accord/pkg/engine"
	"github.com/kadirpekel/accord/pkg/event"
	"github.com/kadirpekel/accord/pkg/observability"
	"github.com/kadirpekel/accord/pkg/session"
)

// Server serves the REST and A2A surfaces for one engine.
type Server struct {
	cfg    *config.Config
	engine *engine.Engine

	pusher    *event.ChannelPusher
	archive   *session.Archive
	validator *auth.JWTValidator
	obs       *observability.Manager

	httpServer *http.Server

	// runCtx parents detached negotiation runs so they survive the
	// request that started them but not the server itself.
	runCtx context.Context
}

// Option configures the server.
type Option func(*Server)

// WithEventStream sets the fan-out pusher backing SSE and the A2A
// bridge. Without one, both surfaces report streaming as unavailable.
func WithEventStream(p *event.ChannelPusher) Option {
	return func(s *Server) {
		s.pusher = p
	}
}

// WithArchive lets GET endpoints fall back to archived sessions.
func WithArchive(a *session.Archive) Option {
	return func(s *Server) {
		s.archive = a
	}
}

// WithValidator enables JWT authentication on every route except the
// configured exclusions.
func WithValidator(v *auth.JWTValidator) Option {
	return func(s *Server) {
		s.validator = v
	}
}

// WithObservability sets the manager providing the request tracer and
// the /metrics handler.
func WithObservability(m *observability.Manager) Option {
	return func(s *Server) {
		s.obs = m
	}
}

// New creates a server for the engine. The config's server section
// supplies the bind address, shutdown budget, and auth exclusions.
func New(cfg *config.Config, eng *engine.Engine, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}

	if cfg.Server.Host == "" || cfg.Server.Port == 0 {
		cfg.Server.SetDefaults()
	}

	s := &Server{
		cfg:    cfg,
		engine: eng,
		obs:    observability.NoopManager(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.pusher != nil && s.pusher.OnDrop == nil {
		metrics := s.obs.GetMetrics()
		s.pusher.OnDrop = func() {
			metrics.RecordEventPushFailure(context.Background())
		}
	}

	return s, nil
}

// Start runs the server until ctx is cancelled or the listener fails.
// Cancellation triggers a graceful shutdown bounded by the configured
// shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	s.runCtx = ctx

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Address(),
		Handler:           s.routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: SSE streams stay open for the life of a
		// negotiation.
		IdleTimeout: 120 * time.Second,
	}

	slog.Info("HTTP server starting",
		"address", s.cfg.Server.Address(),
		"a2a", s.cfg.Server.A2AEnabled(),
		"auth", s.validator != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("HTTP server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Address returns the configured bind address.
func (s *Server) Address() string {
	return s.cfg.Server.Address()
}

func (s *Server) routes(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger)
	r.Use(observability.TracingMiddleware(s.obs.GetTracer("accord.server")))

	if s.validator != nil {
		excluded := append([]string(nil), s.cfg.Server.Auth.ExcludedPaths...)
		if s.cfg.Server.A2AEnabled() {
			// The agent card is discovery metadata and stays public.
			excluded = append(excluded, a2asrv.WellKnownAgentCardPath)
		}
		r.Use(auth.Middleware(s.validator, excluded))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/negotiations", func(r chi.Router) {
			r.Post("/", s.startNegotiation)
			r.Get("/", s.listNegotiations)
			r.Route("/{negotiationID}", func(r chi.Router) {
				r.Get("/", s.getNegotiation)
				r.Post("/confirmation", s.confirmNegotiation)
				r.Post("/cancel", s.cancelNegotiation)
				r.Get("/events", s.streamEvents)
			})
		})
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.listAgents)
			r.Post("/", s.registerAgent)
		})
	})

	if s.cfg.Server.A2AEnabled() && s.pusher != nil {
		card := NegotiationAgentCard(s.cfg, s.validator != nil)
		executor := NewNegotiationExecutor(ctx, s.engine, s.pusher)
		handler := a2asrv.NewHandler(executor)

		r.Get(a2asrv.WellKnownAgentCardPath, a2asrv.NewStaticAgentCardHandler(card).ServeHTTP)
		r.Handle("/a2a", a2asrv.NewJSONRPCHandler(handler))
	}

	return r
}

// requestLogger logs requests without wrapping the ResponseWriter, which
// would hide http.Flusher from the SSE handler.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
