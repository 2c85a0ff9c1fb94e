package adapter

import (
	"fmt"
	"time"

	"github.com/kadirpekel/accord/pkg/config"
	"github.com/kadirpekel/accord/pkg/vector"
)

// NewFromConfig creates the default adapter for the configured type.
func NewFromConfig(cfg *config.AdapterConfig) (Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("adapter configuration is required")
	}

	switch cfg.Type {
	case config.AdapterTypeHTTP, "":
		return NewHTTPAdapter(HTTPAdapterConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}), nil
	case config.AdapterTypeMock:
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported adapter type: %s", cfg.Type)
	}
}

// NewRegistryFromConfig builds the agent registry from the static
// directory: the configured default adapter plus one registration per
// declared agent, all under the "directory" source.
func NewRegistryFromConfig(adapterCfg *config.AdapterConfig, agents []config.AgentConfig) (*AgentRegistry, error) {
	defaultAdapter, err := NewFromConfig(adapterCfg)
	if err != nil {
		return nil, err
	}

	registry := NewAgentRegistry(defaultAdapter)
	if err := RegisterDirectory(registry, defaultAdapter, agents); err != nil {
		return nil, err
	}
	return registry, nil
}

// RegisterDirectory registers the declared agents on the registry under
// the "directory" source. Per-agent endpoint overrides are applied when
// the default adapter speaks HTTP.
func RegisterDirectory(registry *AgentRegistry, defaultAdapter Adapter, agents []config.AgentConfig) error {
	httpAdapter, _ := defaultAdapter.(*HTTPAdapter)

	for _, agent := range agents {
		reg := Registration{
			AgentID:     agent.AgentID,
			DisplayName: agent.DisplayName,
			Source:      "directory",
			Scenes:      agent.Scenes,
			Profile:     agent.Profile,
		}
		if len(agent.Vector) > 0 {
			reg.Vector = vector.Vector(agent.Vector)
		}
		if err := registry.RegisterAgent(reg); err != nil {
			return fmt.Errorf("directory agent %s: %w", agent.AgentID, err)
		}
		if httpAdapter != nil && agent.Endpoint != "" {
			httpAdapter.SetEndpoint(agent.AgentID, agent.Endpoint)
		}
	}
	return nil
}
