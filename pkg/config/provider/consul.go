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

package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider loads config from a Consul KV store.
type ConsulProvider struct {
	client *api.Client
	key    string
}

// NewConsulProvider creates a Consul-backed config provider.
//
// The first endpoint is used as the agent address; remaining endpoints
// are ignored (Consul clients talk to a single local agent).
func NewConsulProvider(endpoints []string, key string) (*ConsulProvider, error) {
	cfg := api.DefaultConfig()
	if len(endpoints) > 0 {
		cfg.Address = endpoints[0]
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulProvider{client: client, key: key}, nil
}

// Type returns the provider type.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the config value from Consul.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.client.KV().Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key not found: %s", p.key)
	}
	return pair.Value, nil
}

// Watch uses Consul blocking queries to detect changes.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	changes := make(chan struct{}, 1)

	go func() {
		defer close(changes)

		var lastIndex uint64
		for {
			opts := (&api.QueryOptions{WaitIndex: lastIndex}).WithContext(ctx)
			pair, meta, err := p.client.KV().Get(p.key, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if pair == nil || meta == nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if meta.LastIndex != lastIndex {
				if lastIndex != 0 {
					select {
					case changes <- struct{}{}:
					default:
					}
				}
				lastIndex = meta.LastIndex
			}
		}
	}()

	return changes, nil
}

// Close releases resources.
func (p *ConsulProvider) Close() error {
	return nil
}
