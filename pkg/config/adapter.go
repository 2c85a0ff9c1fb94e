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

package config

import "fmt"

// AdapterType identifies the agent adapter implementation.
type AdapterType string

const (
	AdapterTypeHTTP AdapterType = "http"
	AdapterTypeMock AdapterType = "mock"
)

// AdapterConfig configures how the engine talks to participating agents.
type AdapterConfig struct {
	// Type selects the adapter implementation (http, mock).
	Type AdapterType `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"title=Type,description=Agent adapter implementation,enum=http,enum=mock,default=http"`

	// BaseURL is the default agent endpoint prefix. Per-agent endpoints
	// in the directory override it.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// APIKey sent as a bearer token to agent endpoints.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// TimeoutSeconds bounds each agent call.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// SetDefaults applies default values.
func (c *AdapterConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = AdapterTypeHTTP
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 60
	}
}

// Validate checks the adapter configuration.
func (c *AdapterConfig) Validate() error {
	switch c.Type {
	case "", AdapterTypeHTTP, AdapterTypeMock:
	default:
		return fmt.Errorf("invalid adapter type %q (valid: http, mock)", c.Type)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must be non-negative")
	}
	return nil
}

// AgentConfig declares one agent in the static directory.
//
// Example:
//
//	agents:
//	  - agent_id: logistics
//	    display_name: Logistics Desk
//	    endpoint: http://agents.internal/logistics
//	    scenes: [supply, transport]
//	    profile:
//	      specialty: freight
type AgentConfig struct {
	// AgentID uniquely identifies the agent in the directory.
	AgentID string `yaml:"agent_id" json:"agent_id" jsonschema:"title=Agent ID,description=Unique agent identifier"`

	// DisplayName is a human-readable name for events and plans.
	DisplayName string `yaml:"display_name,omitempty" json:"display_name,omitempty"`

	// Endpoint overrides the adapter base URL for this agent.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Scenes this agent participates in. Empty means all scenes.
	Scenes []string `yaml:"scenes,omitempty" json:"scenes,omitempty"`

	// Profile is an opaque capability payload used for encoding.
	Profile map[string]any `yaml:"profile,omitempty" json:"profile,omitempty"`

	// Vector is an optional precomputed capability vector. When set, the
	// encoder is bypassed for this agent.
	Vector []float32 `yaml:"vector,omitempty" json:"vector,omitempty"`
}

// SetDefaults applies default values.
func (c *AgentConfig) SetDefaults() {
	if c.DisplayName == "" {
		c.DisplayName = c.AgentID
	}
}

// Validate checks the agent declaration.
func (c *AgentConfig) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	return nil
}
