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

// PusherType identifies the event pusher implementation.
type PusherType string

const (
	PusherTypeNop     PusherType = "nop"
	PusherTypeLog     PusherType = "log"
	PusherTypeChannel PusherType = "channel"
)

// EventsConfig configures negotiation event delivery.
type EventsConfig struct {
	// Pusher selects the delivery implementation (nop, log, channel).
	// The channel pusher feeds the SSE fan-out in the server.
	Pusher PusherType `yaml:"pusher,omitempty" json:"pusher,omitempty" jsonschema:"enum=nop,enum=log,enum=channel,default=log"`

	// BufferSize is the per-subscriber channel depth (channel pusher).
	// Slow consumers drop events rather than block the engine.
	BufferSize int `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`
}

// SetDefaults applies default values.
func (c *EventsConfig) SetDefaults() {
	if c.Pusher == "" {
		c.Pusher = PusherTypeLog
	}
	if c.BufferSize == 0 {
		c.BufferSize = 64
	}
}

// Validate checks the events configuration.
func (c *EventsConfig) Validate() error {
	switch c.Pusher {
	case "", PusherTypeNop, PusherTypeLog, PusherTypeChannel:
	default:
		return fmt.Errorf("invalid pusher %q (valid: nop, log, channel)", c.Pusher)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer_size must be non-negative")
	}
	return nil
}
