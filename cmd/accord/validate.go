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

package main

import (
	"context"
	"fmt"
)

// ValidateCmd checks a configuration file and prints what it would run.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()

	path := cli.Config
	if path == "" {
		if !fileExists(defaultConfigFile) {
			return fmt.Errorf("no config file: pass --config or create %s", defaultConfigFile)
		}
		path = defaultConfigFile
	}

	cfg, loader, err := loadConfig(ctx, path)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	fmt.Printf("%s is valid\n\n", path)
	fmt.Printf("  deployment:  %s\n", cfg.Name)
	fmt.Printf("  llm:         %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Printf("  encoder:     %s\n", cfg.Encoder.Type)
	fmt.Printf("  resonance:   %s (k* = %d)\n", cfg.Resonance.Backend, cfg.Engine.DefaultKStar)
	fmt.Printf("  agents:      %d declared\n", len(cfg.Agents))
	fmt.Printf("  tools:       %d MCP server(s)\n", len(cfg.Tools.MCPServers))
	fmt.Printf("  skills:      %d plugin(s)\n", len(cfg.Skills.Plugins))
	if cfg.Session.Archive.Enabled {
		fmt.Printf("  archive:     %s\n", cfg.Session.Archive.Driver)
	} else {
		fmt.Printf("  archive:     disabled\n")
	}
	fmt.Printf("  server:      %s (a2a: %v, auth: %v)\n",
		cfg.Server.Address(), cfg.Server.A2AEnabled(), cfg.Server.Auth.Enabled)
	return nil
}
