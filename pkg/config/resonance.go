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

// ResonanceBackend identifies the vector index backing the detector.
type ResonanceBackend string

const (
	ResonanceBackendMemory   ResonanceBackend = "memory"
	ResonanceBackendChromem  ResonanceBackend = "chromem"
	ResonanceBackendQdrant   ResonanceBackend = "qdrant"
	ResonanceBackendPinecone ResonanceBackend = "pinecone"
)

// ResonanceConfig configures the resonance index.
//
// The memory backend is exact and needs no infrastructure; the others
// delegate candidate search to an external vector store.
type ResonanceConfig struct {
	// Backend selects the index implementation.
	Backend ResonanceBackend `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,description=Vector index backend,enum=memory,enum=chromem,enum=qdrant,enum=pinecone,default=memory"`

	// Collection is the index collection/namespace name.
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty"`

	// Path enables chromem persistence when set (chromem backend).
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Endpoint of the vector store (qdrant host, pinecone index host).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// APIKey for the vector store. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// UseTLS enables TLS for the qdrant grpc connection.
	UseTLS bool `yaml:"use_tls,omitempty" json:"use_tls,omitempty"`
}

// SetDefaults applies default values.
func (c *ResonanceConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = ResonanceBackendMemory
	}
	if c.Collection == "" {
		c.Collection = "agents"
	}
}

// Validate checks the resonance configuration.
func (c *ResonanceConfig) Validate() error {
	switch c.Backend {
	case "", ResonanceBackendMemory, ResonanceBackendChromem:
	case ResonanceBackendQdrant:
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the qdrant backend")
		}
	case ResonanceBackendPinecone:
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for the pinecone backend")
		}
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, chromem, qdrant, pinecone)", c.Backend)
	}
	return nil
}
