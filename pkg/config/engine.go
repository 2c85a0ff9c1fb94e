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

import (
	"fmt"
	"time"
)

// Engine defaults.
const (
	DefaultMaxCenterRounds            = 5
	DefaultOfferTimeoutSeconds        = 30
	DefaultFormulationTimeoutSeconds  = 10
	DefaultConfirmationTimeoutSeconds = 300
	DefaultKStar                      = 5
	DefaultMaxRecursionDepth          = 1
)

// EngineConfig tunes negotiation execution.
//
// Example:
//
//	engine:
//	  max_center_rounds: 5
//	  offer_timeout_seconds: 30
//	  formulation_timeout_seconds: 10
//	  confirmation_timeout_seconds: 300
//	  default_k_star: 5
//	  max_recursion_depth: 1
type EngineConfig struct {
	// MaxCenterRounds bounds the center synthesis loop.
	MaxCenterRounds int `yaml:"max_center_rounds,omitempty" json:"max_center_rounds,omitempty" jsonschema:"title=Max Center Rounds,description=Maximum synthesis rounds before the degenerate plan is produced,minimum=1,default=5"`

	// OfferTimeoutSeconds bounds each participant's offer collection.
	OfferTimeoutSeconds int `yaml:"offer_timeout_seconds,omitempty" json:"offer_timeout_seconds,omitempty" jsonschema:"title=Offer Timeout,description=Per-participant offer timeout in seconds,minimum=1,default=30"`

	// FormulationTimeoutSeconds bounds demand formulation.
	FormulationTimeoutSeconds int `yaml:"formulation_timeout_seconds,omitempty" json:"formulation_timeout_seconds,omitempty" jsonschema:"title=Formulation Timeout,description=Formulation timeout in seconds,minimum=1,default=10"`

	// ConfirmationTimeoutSeconds bounds the user confirmation gate.
	ConfirmationTimeoutSeconds int `yaml:"confirmation_timeout_seconds,omitempty" json:"confirmation_timeout_seconds,omitempty" jsonschema:"title=Confirmation Timeout,description=Confirmation timeout in seconds,minimum=1,default=300"`

	// DefaultKStar caps how many agents activate per negotiation.
	DefaultKStar int `yaml:"default_k_star,omitempty" json:"default_k_star,omitempty" jsonschema:"title=Default K*,description=Default activation cap per negotiation,minimum=1,default=5"`

	// MaxRecursionDepth bounds sub-negotiation nesting.
	// An explicit 0 disables sub-negotiations entirely.
	MaxRecursionDepth *int `yaml:"max_recursion_depth,omitempty" json:"max_recursion_depth,omitempty" jsonschema:"title=Max Recursion Depth,description=Maximum sub-negotiation nesting depth,minimum=0,default=1"`
}

// SetDefaults applies default values.
func (c *EngineConfig) SetDefaults() {
	if c.MaxCenterRounds == 0 {
		c.MaxCenterRounds = DefaultMaxCenterRounds
	}
	if c.OfferTimeoutSeconds == 0 {
		c.OfferTimeoutSeconds = DefaultOfferTimeoutSeconds
	}
	if c.FormulationTimeoutSeconds == 0 {
		c.FormulationTimeoutSeconds = DefaultFormulationTimeoutSeconds
	}
	if c.ConfirmationTimeoutSeconds == 0 {
		c.ConfirmationTimeoutSeconds = DefaultConfirmationTimeoutSeconds
	}
	if c.DefaultKStar == 0 {
		c.DefaultKStar = DefaultKStar
	}
	// Pointer so an explicit 0 (sub-negotiations disabled) survives decoding.
	if c.MaxRecursionDepth == nil {
		depth := DefaultMaxRecursionDepth
		c.MaxRecursionDepth = &depth
	}
}

// Validate checks the engine configuration.
func (c *EngineConfig) Validate() error {
	if c.MaxCenterRounds < 1 {
		return fmt.Errorf("max_center_rounds must be at least 1")
	}
	if c.OfferTimeoutSeconds < 1 {
		return fmt.Errorf("offer_timeout_seconds must be at least 1")
	}
	if c.FormulationTimeoutSeconds < 1 {
		return fmt.Errorf("formulation_timeout_seconds must be at least 1")
	}
	if c.ConfirmationTimeoutSeconds < 1 {
		return fmt.Errorf("confirmation_timeout_seconds must be at least 1")
	}
	if c.DefaultKStar < 1 {
		return fmt.Errorf("default_k_star must be at least 1")
	}
	if c.MaxRecursionDepth != nil && *c.MaxRecursionDepth < 0 {
		return fmt.Errorf("max_recursion_depth must be non-negative")
	}
	return nil
}

// RecursionDepth returns the configured max recursion depth.
func (c *EngineConfig) RecursionDepth() int {
	if c.MaxRecursionDepth == nil {
		return DefaultMaxRecursionDepth
	}
	return *c.MaxRecursionDepth
}

// OfferTimeout returns the offer timeout as a duration.
func (c *EngineConfig) OfferTimeout() time.Duration {
	return time.Duration(c.OfferTimeoutSeconds) * time.Second
}

// FormulationTimeout returns the formulation timeout as a duration.
func (c *EngineConfig) FormulationTimeout() time.Duration {
	return time.Duration(c.FormulationTimeoutSeconds) * time.Second
}

// ConfirmationTimeout returns the confirmation timeout as a duration.
func (c *EngineConfig) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutSeconds) * time.Second
}
