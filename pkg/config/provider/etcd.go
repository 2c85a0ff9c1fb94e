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
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdProvider loads config from an etcd cluster.
type EtcdProvider struct {
	client *clientv3.Client
	key    string
}

// NewEtcdProvider creates an etcd-backed config provider.
func NewEtcdProvider(endpoints []string, key string) (*EtcdProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd provider requires at least one endpoint")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &EtcdProvider{client: client, key: key}, nil
}

// Type returns the provider type.
func (p *EtcdProvider) Type() Type {
	return TypeEtcd
}

// Load reads the config value from etcd.
func (p *EtcdProvider) Load(ctx context.Context) ([]byte, error) {
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key not found: %s", p.key)
	}
	return resp.Kvs[0].Value, nil
}

// Watch subscribes to etcd watch events for the config key.
func (p *EtcdProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	changes := make(chan struct{}, 1)
	watchChan := p.client.Watch(ctx, p.key)

	go func() {
		defer close(changes)
		for resp := range watchChan {
			if resp.Err() != nil {
				continue
			}
			if len(resp.Events) == 0 {
				continue
			}
			select {
			case changes <- struct{}{}:
			default:
			}
		}
	}()

	return changes, nil
}

// Close shuts down the etcd client.
func (p *EtcdProvider) Close() error {
	return p.client.Close()
}
