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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/accord/pkg/auth"
	"github.com/kadirpekel/accord/pkg/builder"
	"github.com/kadirpekel/accord/pkg/config"
	"github.com/kadirpekel/accord/pkg/event"
	"github.com/kadirpekel/accord/pkg/observability"
	"github.com/kadirpekel/accord/pkg/server"
	"github.com/kadirpekel/accord/pkg/session"
)

// ServeCmd starts the negotiation server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch the config source for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
		cfg.Server.BaseURL = ""
		cfg.Server.SetDefaults()
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	obs := observability.NewManager(observabilityConfig(cfg))
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	// The server streams events over SSE, so the pusher is always the
	// channel fan-out regardless of the configured default.
	pusher := event.NewChannelPusher(cfg.Events.BufferSize)

	// The archive is shared between the engine (terminal-state saves)
	// and the server (GET fallback for evicted sessions), so it is
	// opened here rather than inside the builder.
	var archive *session.Archive
	if cfg.Session.Archive.Enabled {
		archive, err = session.NewArchiveFromConfig(&cfg.Session.Archive)
		if err != nil {
			return fmt.Errorf("failed to open session archive: %w", err)
		}
		defer archive.Close()
	}

	b := builder.FromConfig(cfg).WithPusher(pusher)
	if archive != nil {
		b = b.WithArchive(archive)
	}
	defer b.Close()

	eng, err := b.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	validator, err := auth.NewValidatorFromConfig(ctx, &cfg.Server.Auth)
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	opts := []server.Option{
		server.WithEventStream(pusher),
		server.WithObservability(obs),
	}
	if archive != nil {
		opts = append(opts, server.WithArchive(archive))
	}
	if validator != nil {
		opts = append(opts, server.WithValidator(validator))
	}

	srv, err := server.New(cfg, eng, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	fmt.Printf("accord server ready\n")
	fmt.Printf("   REST:        http://%s/v1/negotiations\n", srv.Address())
	fmt.Printf("   Agents:      http://%s/v1/agents\n", srv.Address())
	fmt.Printf("   Health:      http://%s/healthz\n", srv.Address())
	if cfg.Server.A2AEnabled() {
		fmt.Printf("   Agent Card:  http://%s/.well-known/agent-card.json\n", srv.Address())
	}
	if cfg.Session.Archive.Enabled {
		fmt.Printf("   Archive:     %s (%s)\n", cfg.Session.Archive.Driver, cfg.Session.Archive.DSN)
	}

	return srv.Start(ctx)
}

// observabilityConfig maps the root config section onto the
// observability package's own config.
func observabilityConfig(cfg *config.Config) observability.Config {
	out := observability.Config{}
	out.Metrics.Enabled = cfg.Observability.Metrics.Enabled == nil || *cfg.Observability.Metrics.Enabled
	out.Metrics.Namespace = "accord"
	out.Tracing.Enabled = cfg.Observability.Tracing.Enabled
	out.Tracing.ServiceName = cfg.Observability.ServiceName
	out.Tracing.Endpoint = cfg.Observability.Tracing.Endpoint
	if cfg.Observability.Tracing.Stdout {
		out.Tracing.Exporter = "stdout"
	}
	if cfg.Observability.Tracing.SampleRatio != nil {
		out.Tracing.SamplingRate = *cfg.Observability.Tracing.SampleRatio
	}
	out.SetDefaults()
	return out
}
