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
	"os"

	"github.com/kadirpekel/accord/pkg/config"
)

const defaultConfigFile = "accord.yaml"

// loadConfig resolves the configuration for a command: the explicit
// --config path, the default accord.yaml in the working directory, or
// an all-defaults zero config. The returned loader is nil in
// zero-config mode; callers that want --watch must check for that.
func loadConfig(ctx context.Context, path string) (*config.Config, *config.Loader, error) {
	if path != "" {
		cfg, loader, err := config.LoadConfigFile(ctx, path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
		return cfg, loader, nil
	}

	if fileExists(defaultConfigFile) {
		cfg, loader, err := config.LoadConfigFile(ctx, defaultConfigFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config from %s: %w", defaultConfigFile, err)
		}
		return cfg, loader, nil
	}

	// Zero-config: defaults everywhere, LLM provider detected from the
	// environment by the builder.
	cfg := &config.Config{}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid zero-config: %w", err)
	}
	return cfg, nil, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
