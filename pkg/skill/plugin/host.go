package plugin

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/kadirpekel/accord/pkg/config"
	"github.com/kadirpekel/accord/pkg/skill"
)

// Host loads skill plugin binaries and keeps them alive for the life of
// the engine process. Close kills every loaded plugin.
type Host struct {
	logger hclog.Logger

	mu      sync.Mutex
	clients []*goplugin.Client
}

// NewHost creates a plugin host.
func NewHost() *Host {
	return &Host{
		logger: hclog.New(&hclog.LoggerOptions{
			Name:  "accord-plugin",
			Level: hclog.Info,
		}),
	}
}

// LoadFormulation starts the plugin binary and dispenses its
// formulation skill.
func (h *Host) LoadFormulation(cfg config.SkillPluginConfig) (skill.FormulationSkill, error) {
	raw, err := h.load(cfg, PluginNameFormulation, &FormulationPlugin{})
	if err != nil {
		return nil, err
	}
	fs, ok := raw.(skill.FormulationSkill)
	if !ok {
		return nil, fmt.Errorf("plugin %q did not provide a formulation skill", cfg.Name)
	}
	return fs, nil
}

// LoadOffer starts the plugin binary and dispenses its offer skill.
func (h *Host) LoadOffer(cfg config.SkillPluginConfig) (skill.OfferSkill, error) {
	raw, err := h.load(cfg, PluginNameOffer, &OfferPlugin{})
	if err != nil {
		return nil, err
	}
	os, ok := raw.(skill.OfferSkill)
	if !ok {
		return nil, fmt.Errorf("plugin %q did not provide an offer skill", cfg.Name)
	}
	return os, nil
}

// Apply loads every configured plugin and overrides the matching slot
// in the skill set.
func (h *Host) Apply(set *skill.Set, cfgs []config.SkillPluginConfig) error {
	for _, cfg := range cfgs {
		switch cfg.Type {
		case config.SkillPluginFormulation:
			fs, err := h.LoadFormulation(cfg)
			if err != nil {
				return err
			}
			set.Formulation = fs
		case config.SkillPluginOffer:
			os, err := h.LoadOffer(cfg)
			if err != nil {
				return err
			}
			set.Offer = os
		default:
			return fmt.Errorf("plugin %q: unsupported type %q", cfg.Name, cfg.Type)
		}
	}
	return nil
}

func (h *Host) load(cfg config.SkillPluginConfig, name string, p goplugin.Plugin) (interface{}, error) {
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         map[string]goplugin.Plugin{name: p},
		Cmd:             exec.Command(cfg.Command, cfg.Args...),
		Logger:          h.logger.Named(cfg.Name),
		AllowedProtocols: []goplugin.Protocol{
			goplugin.ProtocolNetRPC,
		},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("plugin %q: failed to start: %w", cfg.Name, err)
	}

	raw, err := rpcClient.Dispense(name)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("plugin %q: failed to dispense %s: %w", cfg.Name, name, err)
	}

	h.mu.Lock()
	h.clients = append(h.clients, client)
	h.mu.Unlock()

	return raw, nil
}

// Close kills every loaded plugin process.
func (h *Host) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = nil
	h.mu.Unlock()

	for _, client := range clients {
		client.Kill()
	}
}

// ServeFormulation is the entry point for formulation plugin binaries.
//
//	func main() {
//	    plugin.ServeFormulation(&MyFormulation{})
//	}
func ServeFormulation(impl skill.FormulationSkill) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			PluginNameFormulation: &FormulationPlugin{Impl: impl},
		},
	})
}

// ServeOffer is the entry point for offer plugin binaries.
//
//	func main() {
//	    plugin.ServeOffer(&MyOffer{})
//	}
func ServeOffer(impl skill.OfferSkill) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			PluginNameOffer: &OfferPlugin{Impl: impl},
		},
	})
}
