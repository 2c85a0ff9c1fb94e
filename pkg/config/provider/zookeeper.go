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

	"github.com/go-zookeeper/zk"
)

// ZookeeperProvider loads config from a ZooKeeper znode.
type ZookeeperProvider struct {
	conn *zk.Conn
	path string
}

// NewZookeeperProvider creates a ZooKeeper-backed config provider.
func NewZookeeperProvider(endpoints []string, path string) (*ZookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper provider requires at least one endpoint")
	}

	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	return &ZookeeperProvider{conn: conn, path: path}, nil
}

// Type returns the provider type.
func (p *ZookeeperProvider) Type() Type {
	return TypeZookeeper
}

// Load reads the znode data.
func (p *ZookeeperProvider) Load(ctx context.Context) ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read znode %s: %w", p.path, err)
	}
	return data, nil
}

// Watch re-arms a znode watch in a loop.
//
// ZooKeeper watches are one-shot, so each fired event requires a new
// GetW call to keep watching.
func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	changes := make(chan struct{}, 1)

	go func() {
		defer close(changes)

		for {
			if ctx.Err() != nil {
				return
			}

			_, _, eventChan, err := p.conn.GetW(p.path)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
					continue
				}
			}

			select {
			case <-ctx.Done():
				return
			case event := <-eventChan:
				switch event.Type {
				case zk.EventNodeDataChanged:
					select {
					case changes <- struct{}{}:
					default:
					}
				case zk.EventNodeDeleted:
					return
				case zk.EventNotWatching:
					// Session expired; loop re-arms the watch.
				}
			}
		}
	}()

	return changes, nil
}

// Close shuts down the ZooKeeper connection.
func (p *ZookeeperProvider) Close() error {
	p.conn.Close()
	return nil
}
