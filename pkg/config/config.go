// Package config defines the accord configuration model.
//
// Configuration is loaded from YAML (or JSON) through a Loader backed by a
// provider (file, consul, etcd, zookeeper), with environment variable
// expansion applied before decoding. Every section follows the same
// SetDefaults/Validate discipline so a loaded Config is always complete
// and internally consistent.
package config

import "fmt"

// Config is the root configuration.
type Config struct {
	// Version of the config format.
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Name of this deployment, used in the agent card and logs.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Description of this deployment.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Engine        EngineConfig        `yaml:"engine,omitempty" json:"engine,omitempty"`
	LLM           LLMConfig           `yaml:"llm,omitempty" json:"llm,omitempty"`
	Encoder       EncoderConfig       `yaml:"encoder,omitempty" json:"encoder,omitempty"`
	Resonance     ResonanceConfig     `yaml:"resonance,omitempty" json:"resonance,omitempty"`
	Adapter       AdapterConfig       `yaml:"adapter,omitempty" json:"adapter,omitempty"`
	Agents        []AgentConfig       `yaml:"agents,omitempty" json:"agents,omitempty"`
	Session       SessionConfig       `yaml:"session,omitempty" json:"session,omitempty"`
	Events        EventsConfig        `yaml:"events,omitempty" json:"events,omitempty"`
	Skills        SkillsConfig        `yaml:"skills,omitempty" json:"skills,omitempty"`
	Tools         ToolsConfig         `yaml:"tools,omitempty" json:"tools,omitempty"`
	Server        ServerConfig        `yaml:"server,omitempty" json:"server,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
	Logger        LoggerConfig        `yaml:"logger,omitempty" json:"logger,omitempty"`
}

// SetDefaults applies default values to all sections.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "accord"
	}

	c.Engine.SetDefaults()
	c.LLM.SetDefaults()
	c.Encoder.SetDefaults()
	c.Resonance.SetDefaults()
	c.Adapter.SetDefaults()
	c.Session.SetDefaults()
	c.Events.SetDefaults()
	c.Skills.SetDefaults()
	c.Tools.SetDefaults()
	c.Server.SetDefaults()
	c.Observability.SetDefaults()
	c.Logger.SetDefaults()

	for i := range c.Agents {
		c.Agents[i].SetDefaults()
	}
}

// Validate checks all sections.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine validation failed: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}
	if err := c.Encoder.Validate(); err != nil {
		return fmt.Errorf("encoder validation failed: %w", err)
	}
	if err := c.Resonance.Validate(); err != nil {
		return fmt.Errorf("resonance validation failed: %w", err)
	}
	if err := c.Adapter.Validate(); err != nil {
		return fmt.Errorf("adapter validation failed: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session validation failed: %w", err)
	}
	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events validation failed: %w", err)
	}
	if err := c.Skills.Validate(); err != nil {
		return fmt.Errorf("skills validation failed: %w", err)
	}
	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools validation failed: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability validation failed: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger validation failed: %w", err)
	}

	seen := make(map[string]bool, len(c.Agents))
	for _, agent := range c.Agents {
		if err := agent.Validate(); err != nil {
			return fmt.Errorf("agent %q validation failed: %w", agent.AgentID, err)
		}
		if seen[agent.AgentID] {
			return fmt.Errorf("agent %q declared twice", agent.AgentID)
		}
		seen[agent.AgentID] = true
	}

	return nil
}

// AgentByID returns the declared agent with the given ID, or nil.
func (c *Config) AgentByID(agentID string) *AgentConfig {
	for i := range c.Agents {
		if c.Agents[i].AgentID == agentID {
			return &c.Agents[i]
		}
	}
	return nil
}
