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

// EncoderType identifies the demand encoder implementation.
type EncoderType string

const (
	EncoderTypeSimHash EncoderType = "simhash"
	EncoderTypeHTTP    EncoderType = "http"
)

// Encoder defaults.
const (
	DefaultEncoderDimension = 256
	DefaultEncoderSeed      = 42
)

// EncoderConfig configures demand-to-vector encoding.
//
// The simhash encoder is fully local and deterministic; the http encoder
// calls a remote embeddings API (Ollama-compatible).
type EncoderConfig struct {
	// Type selects the encoder implementation (simhash, http).
	Type EncoderType `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"title=Type,description=Encoder implementation,enum=simhash,enum=http,default=simhash"`

	// Dimension of produced vectors.
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty" jsonschema:"title=Dimension,description=Vector dimension,minimum=1,default=256"`

	// Seed for the simhash hyperplanes. Same seed, same projection.
	Seed int64 `yaml:"seed,omitempty" json:"seed,omitempty" jsonschema:"title=Seed,description=Deterministic projection seed,default=42"`

	// BaseURL of the embeddings API (http encoder).
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Model name for the embeddings API (http encoder).
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// TimeoutSeconds bounds each embeddings request (http encoder).
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// SetDefaults applies default values.
func (c *EncoderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = EncoderTypeSimHash
	}
	if c.Seed == 0 {
		c.Seed = DefaultEncoderSeed
	}
	switch c.Type {
	case EncoderTypeSimHash:
		if c.Dimension == 0 {
			c.Dimension = DefaultEncoderDimension
		}
	case EncoderTypeHTTP:
		// Dimension stays 0 so the encoder can derive it from the model.
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:11434"
		}
		if c.Model == "" {
			c.Model = "nomic-embed-text"
		}
		if c.TimeoutSeconds == 0 {
			c.TimeoutSeconds = 30
		}
	}
}

// Validate checks the encoder configuration.
func (c *EncoderConfig) Validate() error {
	switch c.Type {
	case "", EncoderTypeSimHash, EncoderTypeHTTP:
	default:
		return fmt.Errorf("invalid encoder type %q (valid: simhash, http)", c.Type)
	}

	if c.Dimension < 0 {
		return fmt.Errorf("dimension must be non-negative")
	}

	return nil
}
