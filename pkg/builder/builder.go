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

package builder

import (
	"context"
	"errors"
	"fmt"

	"github.com/kadirpekel/accord/pkg/adapter"
	"github.com/kadirpekel/accord/pkg/config"
	"github.com/kadirpekel/accord/pkg/encoder"
	"github.com/kadirpekel/accord/pkg/engine"
	"github.com/kadirpekel/accord/pkg/event"
	"github.com/kadirpekel/accord/pkg/llm"
	"github.com/kadirpekel/accord/pkg/resonance"
	"github.com/kadirpekel/accord/pkg/session"
	"github.com/kadirpekel/accord/pkg/skill"
	"github.com/kadirpekel/accord/pkg/skill/plugin"
	"github.com/kadirpekel/accord/pkg/tools"
	"github.com/kadirpekel/accord/pkg/tools/mcptoolset"
)

// Builder provides a fluent API for assembling an engine. Explicitly
// supplied components win; everything else is constructed from the
// configuration, falling back to its defaults.
//
// Example:
//
//	eng, err := builder.New().
//	    WithConfig(cfg).
//	    WithPusher(event.NewLogPusher()).
//	    Build(ctx)
type Builder struct {
	cfg *config.Config

	defaultAdapter adapter.Adapter
	agents         *adapter.AgentRegistry
	client         llm.LLM
	enc            encoder.Encoder
	detector       engine.Detector
	pusher         event.Pusher
	store          *session.Store
	archive        *session.Archive
	skills         *skill.Set
	handlers       []tools.Handler

	closers []func() error
}

// New creates an empty builder. Without WithConfig, Build runs on a
// default configuration (mock adapter, SimHash encoder, environment-
// detected LLM).
func New() *Builder {
	return &Builder{}
}

// FromConfig creates a builder seeded with a loaded configuration.
//
// Example:
//
//	cfg, _, err := config.LoadConfigFile(ctx, "accord.yaml")
//	eng, err := builder.FromConfig(cfg).Build(ctx)
func FromConfig(cfg *config.Config) *Builder {
	return New().WithConfig(cfg)
}

// WithConfig sets the configuration that fills unset components.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	if cfg == nil {
		panic("config cannot be nil")
	}
	b.cfg = cfg
	return b
}

// WithAdapter sets the default adapter backing the agent directory.
// Agents declared in the configuration are registered through it.
//
// Example:
//
//	builder.New().WithAdapter(adapter.NewMockAdapter())
func (b *Builder) WithAdapter(a adapter.Adapter) *Builder {
	if a == nil {
		panic("adapter cannot be nil")
	}
	b.defaultAdapter = a
	return b
}

// WithAgents sets a prebuilt agent registry, skipping directory
// construction entirely. Takes precedence over WithAdapter.
func (b *Builder) WithAgents(registry *adapter.AgentRegistry) *Builder {
	if registry == nil {
		panic("agent registry cannot be nil")
	}
	b.agents = registry
	return b
}

// WithLLM sets the platform LLM used by the default skills.
//
// Example:
//
//	client, _ := llm.New(&cfg.LLM)
//	builder.New().WithLLM(client)
func (b *Builder) WithLLM(client llm.LLM) *Builder {
	if client == nil {
		panic("LLM cannot be nil")
	}
	b.client = client
	return b
}

// WithEncoder sets the encoder embedding demand and profile text.
func (b *Builder) WithEncoder(enc encoder.Encoder) *Builder {
	if enc == nil {
		panic("encoder cannot be nil")
	}
	b.enc = enc
	return b
}

// WithDetector sets the matching detector. Without it the resonance
// configuration decides: the memory backend ranks in process, the
// others rank through a vector index.
func (b *Builder) WithDetector(d engine.Detector) *Builder {
	if d == nil {
		panic("detector cannot be nil")
	}
	b.detector = d
	return b
}

// WithPusher sets the event pusher receiving lifecycle events.
//
// Example:
//
//	builder.New().WithPusher(event.NewChannelPusher(64))
func (b *Builder) WithPusher(p event.Pusher) *Builder {
	if p == nil {
		panic("pusher cannot be nil")
	}
	b.pusher = p
	return b
}

// WithStore sets the live session store.
func (b *Builder) WithStore(s *session.Store) *Builder {
	if s == nil {
		panic("store cannot be nil")
	}
	b.store = s
	return b
}

// WithArchive sets the terminal-session archive. Without it the session
// configuration decides whether one is opened.
func (b *Builder) WithArchive(a *session.Archive) *Builder {
	if a == nil {
		panic("archive cannot be nil")
	}
	b.archive = a
	return b
}

// WithSkills sets the full skill set, replacing the LLM-backed
// defaults. Field-wise overrides belong in engine.RunOptions instead.
func (b *Builder) WithSkills(set skill.Set) *Builder {
	b.skills = &set
	return b
}

// WithToolHandler adds an extension tool handler to the center's tool
// surface. May be called repeatedly; the built-ins are always present.
//
// Example:
//
//	builder.New().WithToolHandler(calendarTool)
func (b *Builder) WithToolHandler(h tools.Handler) *Builder {
	if h == nil {
		panic("tool handler cannot be nil")
	}
	b.handlers = append(b.handlers, h)
	return b
}

// Build assembles the engine. The context bounds external setup work
// (MCP server connections, archive ping).
//
// Resources the builder opened stay under its ownership; release them
// with Close when the engine is no longer needed.
func (b *Builder) Build(ctx context.Context) (*engine.Engine, error) {
	cfg := b.cfg
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &config.ConfigError{Message: "invalid configuration", Err: err}
	}

	enc, err := b.resolveEncoder(cfg)
	if err != nil {
		return nil, err
	}
	agents, err := b.resolveAgents(cfg)
	if err != nil {
		return nil, err
	}
	skills, err := b.resolveSkills(cfg)
	if err != nil {
		return nil, err
	}
	detector, err := b.resolveDetector(cfg)
	if err != nil {
		return nil, err
	}
	archive, err := b.resolveArchive(cfg)
	if err != nil {
		return nil, err
	}
	registry, err := b.resolveTools(ctx, cfg)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(engine.Dependencies{
		Agents:   agents,
		Encoder:  enc,
		Detector: detector,
		Pusher:   b.resolvePusher(cfg),
		Store:    b.store,
		Archive:  archive,
		Skills:   skills,
		Tools:    registry,
		Config:   cfg.Engine,
	})
	if err != nil {
		return nil, err
	}
	return eng, nil
}

// MustBuild assembles the engine or panics on error.
//
// Use this only when you're certain the configuration is valid.
func (b *Builder) MustBuild(ctx context.Context) *engine.Engine {
	eng, err := b.Build(ctx)
	if err != nil {
		panic(fmt.Sprintf("failed to build engine: %v", err))
	}
	return eng
}

// Close releases every resource the builder opened during Build: plugin
// processes, MCP connections, the archive handle, the vector index.
// Components supplied through With* methods stay with their owner.
func (b *Builder) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Builder) deferClose(close func() error) {
	b.closers = append(b.closers, close)
}

func (b *Builder) resolveEncoder(cfg *config.Config) (encoder.Encoder, error) {
	if b.enc != nil {
		return b.enc, nil
	}
	enc, err := encoder.NewFromConfig(&cfg.Encoder)
	if err != nil {
		return nil, &config.ConfigError{Field: "encoder", Message: "failed to construct encoder", Err: err}
	}
	return enc, nil
}

func (b *Builder) resolveAgents(cfg *config.Config) (*adapter.AgentRegistry, error) {
	if b.agents != nil {
		return b.agents, nil
	}
	if b.defaultAdapter != nil {
		registry := adapter.NewAgentRegistry(b.defaultAdapter)
		if err := adapter.RegisterDirectory(registry, b.defaultAdapter, cfg.Agents); err != nil {
			return nil, &config.ConfigError{Field: "agents", Message: "failed to register agent directory", Err: err}
		}
		return registry, nil
	}
	registry, err := adapter.NewRegistryFromConfig(&cfg.Adapter, cfg.Agents)
	if err != nil {
		return nil, &config.ConfigError{Field: "adapter", Message: "failed to construct agent directory", Err: err}
	}
	return registry, nil
}

// resolveSkills returns the explicit set, or the LLM-backed defaults
// with any configured plugins layered on top.
func (b *Builder) resolveSkills(cfg *config.Config) (skill.Set, error) {
	if b.skills != nil {
		return *b.skills, nil
	}

	client := b.client
	if client == nil {
		var err error
		client, err = llm.New(&cfg.LLM)
		if err != nil {
			return skill.Set{}, &config.ConfigError{
				Field:   "llm",
				Message: "an LLM provider or an explicit skill set is required: use WithLLM() or WithSkills()",
				Err:     err,
			}
		}
	}
	set := skill.DefaultSet(client, cfg.Skills.Prompts)

	if len(cfg.Skills.Plugins) > 0 {
		host := plugin.NewHost()
		if err := host.Apply(&set, cfg.Skills.Plugins); err != nil {
			host.Close()
			return skill.Set{}, &config.ConfigError{Field: "skills.plugins", Message: "failed to load skill plugins", Err: err}
		}
		b.deferClose(func() error {
			host.Close()
			return nil
		})
	}

	return set, nil
}

func (b *Builder) resolveDetector(cfg *config.Config) (engine.Detector, error) {
	if b.detector != nil {
		return b.detector, nil
	}
	if cfg.Resonance.Backend == config.ResonanceBackendMemory {
		return engine.DefaultDetector(), nil
	}
	index, err := resonance.NewIndexFromConfig(&cfg.Resonance)
	if err != nil {
		return nil, &config.ConfigError{Field: "resonance", Message: "failed to construct resonance index", Err: err}
	}
	b.deferClose(index.Close)
	return engine.NewIndexDetector(index), nil
}

func (b *Builder) resolvePusher(cfg *config.Config) event.Pusher {
	if b.pusher != nil {
		return b.pusher
	}
	switch cfg.Events.Pusher {
	case config.PusherTypeChannel:
		return event.NewChannelPusher(cfg.Events.BufferSize)
	case config.PusherTypeNop:
		return event.NewNopPusher()
	default:
		return event.NewLogPusher()
	}
}

func (b *Builder) resolveArchive(cfg *config.Config) (*session.Archive, error) {
	if b.archive != nil {
		return b.archive, nil
	}
	if !cfg.Session.Archive.Enabled {
		return nil, nil
	}
	archive, err := session.NewArchiveFromConfig(&cfg.Session.Archive)
	if err != nil {
		return nil, &config.ConfigError{Field: "session.archive", Message: "failed to open session archive", Err: err}
	}
	b.deferClose(archive.Close)
	return archive, nil
}

// resolveTools builds the registry with the built-ins, the explicitly
// added handlers, and every configured MCP server's tools. The engine
// freezes the registry when the first negotiation starts.
func (b *Builder) resolveTools(ctx context.Context, cfg *config.Config) (*tools.Registry, error) {
	registry := tools.NewRegistry()

	for _, h := range b.handlers {
		if err := registry.Register(h); err != nil {
			return nil, &config.ConfigError{Field: "tools", Message: fmt.Sprintf("failed to register tool %q", h.Name()), Err: err}
		}
	}

	for _, serverCfg := range cfg.Tools.MCPServers {
		toolset, err := mcptoolset.New(serverCfg)
		if err != nil {
			return nil, &config.ConfigError{Field: "tools.mcp_servers", Message: fmt.Sprintf("failed to construct MCP toolset %q", serverCfg.Name), Err: err}
		}
		if err := toolset.Apply(ctx, registry); err != nil {
			_ = toolset.Close()
			return nil, &config.ConfigError{Field: "tools.mcp_servers", Message: fmt.Sprintf("failed to connect MCP server %q", serverCfg.Name), Err: err}
		}
		b.deferClose(toolset.Close)
	}

	return registry, nil
}
