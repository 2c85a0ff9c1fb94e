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

// ServerConfig configures the HTTP and A2A surfaces.
type ServerConfig struct {
	// Host to bind. Default: 0.0.0.0
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port to listen on. Default: 8080
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// BaseURL is the externally visible URL, used in the agent card.
	// Default: http://<host>:<port>
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// EnableA2A mounts the A2A JSON-RPC surface alongside REST.
	// Default: true
	EnableA2A *bool `yaml:"enable_a2a,omitempty" json:"enable_a2a,omitempty"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`

	// Auth configures JWT validation for the server.
	Auth AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://%s:%d", c.Host, c.Port)
	}
	if c.EnableA2A == nil {
		enabled := true
		c.EnableA2A = &enabled
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	c.Auth.SetDefaults()
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}
	return nil
}

// Address returns the host:port bind address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// A2AEnabled reports whether the A2A surface should be mounted.
func (c *ServerConfig) A2AEnabled() bool {
	return c.EnableA2A == nil || *c.EnableA2A
}
