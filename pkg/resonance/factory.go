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

package resonance

import (
	"fmt"

	"github.com/kadirpekel/accord/pkg/config"
)

// NewIndexFromConfig constructs the index selected by the resonance
// configuration.
func NewIndexFromConfig(cfg *config.ResonanceConfig) (Index, error) {
	if cfg == nil {
		cfg = &config.ResonanceConfig{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case config.ResonanceBackendMemory:
		return NewMemoryIndex(), nil

	case config.ResonanceBackendChromem:
		return NewChromemIndex(ChromemOptions{
			Collection:  cfg.Collection,
			PersistPath: cfg.Path,
		})

	case config.ResonanceBackendQdrant:
		return NewQdrantIndex(QdrantOptions{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			UseTLS:     cfg.UseTLS,
			Collection: cfg.Collection,
		})

	case config.ResonanceBackendPinecone:
		return NewPineconeIndex(PineconeOptions{
			APIKey:    cfg.APIKey,
			IndexName: cfg.Collection,
		})

	default:
		return nil, fmt.Errorf("unsupported resonance backend: %s", cfg.Backend)
	}
}
