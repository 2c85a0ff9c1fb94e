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

// ToolsConfig configures extra center tools.
//
// The built-in tools (output_plan, ask_agent, spawn_sub_negotiation) are
// always registered; MCP servers add remote tools on top.
type ToolsConfig struct {
	MCPServers []MCPServerConfig `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
}

// MCPTransport identifies the MCP client transport.
type MCPTransport string

const (
	MCPTransportStdio MCPTransport = "stdio"
	MCPTransportHTTP  MCPTransport = "http"
)

// MCPServerConfig declares one MCP server whose tools become center tools.
//
// Example:
//
//	tools:
//	  mcp_servers:
//	    - name: calendar
//	      transport: stdio
//	      command: npx
//	      args: ["-y", "@example/calendar-mcp"]
type MCPServerConfig struct {
	// Name prefixes the exposed tool names (name_toolname).
	Name string `yaml:"name" json:"name"`

	// Transport selects the client transport (stdio, http).
	Transport MCPTransport `yaml:"transport,omitempty" json:"transport,omitempty" jsonschema:"enum=stdio,enum=http,default=stdio"`

	// Command launches the server binary (stdio transport).
	Command string `yaml:"command,omitempty" json:"command,omitempty"`

	// Args passed to the server binary (stdio transport).
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// URL of the server (http transport).
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// SetDefaults applies default values.
func (c *ToolsConfig) SetDefaults() {
	for i := range c.MCPServers {
		if c.MCPServers[i].Transport == "" {
			c.MCPServers[i].Transport = MCPTransportStdio
		}
	}
}

// Validate checks the tools configuration.
func (c *ToolsConfig) Validate() error {
	seen := make(map[string]bool, len(c.MCPServers))
	for i, s := range c.MCPServers {
		if s.Name == "" {
			return fmt.Errorf("mcp server %d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("mcp server %q declared twice", s.Name)
		}
		seen[s.Name] = true
		switch s.Transport {
		case "", MCPTransportStdio:
			if s.Command == "" {
				return fmt.Errorf("mcp server %q: command is required for stdio transport", s.Name)
			}
		case MCPTransportHTTP:
			if s.URL == "" {
				return fmt.Errorf("mcp server %q: url is required for http transport", s.Name)
			}
		default:
			return fmt.Errorf("mcp server %q: invalid transport %q (valid: stdio, http)", s.Name, s.Transport)
		}
	}
	return nil
}
