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

// SkillsConfig configures the negotiation skills.
type SkillsConfig struct {
	// Prompts override the built-in system prompts per skill.
	Prompts SkillPrompts `yaml:"prompts,omitempty" json:"prompts,omitempty"`

	// Plugins load external skill implementations.
	Plugins []SkillPluginConfig `yaml:"plugins,omitempty" json:"plugins,omitempty"`
}

// SkillPrompts holds per-skill system prompt overrides.
type SkillPrompts struct {
	Formulation    string `yaml:"formulation,omitempty" json:"formulation,omitempty"`
	Offer          string `yaml:"offer,omitempty" json:"offer,omitempty"`
	Center         string `yaml:"center,omitempty" json:"center,omitempty"`
	SubNegotiation string `yaml:"sub_negotiation,omitempty" json:"sub_negotiation,omitempty"`
	GapRecursion   string `yaml:"gap_recursion,omitempty" json:"gap_recursion,omitempty"`
}

// SkillPluginType identifies which skill a plugin provides.
type SkillPluginType string

const (
	SkillPluginFormulation SkillPluginType = "formulation"
	SkillPluginOffer       SkillPluginType = "offer"
)

// SkillPluginConfig declares one external skill plugin binary.
//
// Example:
//
//	skills:
//	  plugins:
//	    - name: legal-formulation
//	      type: formulation
//	      command: ./plugins/legal-formulation
type SkillPluginConfig struct {
	// Name identifies the plugin in logs.
	Name string `yaml:"name" json:"name"`

	// Type is the skill the plugin provides (formulation, offer).
	Type SkillPluginType `yaml:"type" json:"type" jsonschema:"enum=formulation,enum=offer"`

	// Command is the plugin binary path.
	Command string `yaml:"command" json:"command"`

	// Args passed to the plugin binary.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// SetDefaults applies default values.
func (c *SkillsConfig) SetDefaults() {}

// Validate checks the skills configuration.
func (c *SkillsConfig) Validate() error {
	seen := make(map[string]bool, len(c.Plugins))
	for i, p := range c.Plugins {
		if p.Name == "" {
			return fmt.Errorf("plugin %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("plugin %q declared twice", p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case SkillPluginFormulation, SkillPluginOffer:
		default:
			return fmt.Errorf("plugin %q: invalid type %q (valid: formulation, offer)", p.Name, p.Type)
		}
		if p.Command == "" {
			return fmt.Errorf("plugin %q: command is required", p.Name)
		}
	}
	return nil
}
