// Package plugin hosts out-of-process skill implementations over
// hashicorp/go-plugin's net/rpc protocol.
//
// Two skill types can be provided by plugins: formulation and offer.
// Plugin binaries link this package and call ServeFormulation or
// ServeOffer from main; the engine process loads them with Host.
//
// Contexts crossing the process boundary carry data only. In particular
// an out-of-process offer skill does not receive the per-agent chat
// channel; it computes offers from the demand and profile it is handed.
package plugin

import (
	"context"
	"encoding/json"
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"

	"github.com/kadirpekel/accord/pkg/skill"
)

// Handshake is the shared handshake between the engine and skill
// plugin binaries. A cookie mismatch fails the load immediately.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "ACCORD_PLUGIN",
	MagicCookieValue: "accord_skill_v1",
}

const (
	// PluginNameFormulation and PluginNameOffer key the plugin map on
	// both sides of the handshake.
	PluginNameFormulation = "formulation"
	PluginNameOffer       = "offer"
)

// FormulationArgs crosses the RPC boundary for formulation calls.
type FormulationArgs struct {
	RawIntent string
	UserID    string
	SceneID   string
}

// FormulationReply is the plugin's formulation result.
type FormulationReply struct {
	FormulatedText string
	Degraded       bool
	DegradedReason string
}

// OfferArgs crosses the RPC boundary for offer calls. The profile rides
// as JSON to keep gob out of map[string]any encoding.
type OfferArgs struct {
	AgentID        string
	DisplayName    string
	ProfileJSON    []byte
	FormulatedText string
}

// OfferReply is the plugin's offer result.
type OfferReply struct {
	Content string
}

// FormulationPlugin is the go-plugin glue for formulation skills.
// Impl is set on the plugin side only.
type FormulationPlugin struct {
	Impl skill.FormulationSkill
}

func (p *FormulationPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &formulationRPCServer{impl: p.Impl}, nil
}

func (p *FormulationPlugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &formulationRPCClient{client: c}, nil
}

// OfferPlugin is the go-plugin glue for offer skills. Impl is set on
// the plugin side only.
type OfferPlugin struct {
	Impl skill.OfferSkill
}

func (p *OfferPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &offerRPCServer{impl: p.Impl}, nil
}

func (p *OfferPlugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &offerRPCClient{client: c}, nil
}

// formulationRPCClient runs engine-side and satisfies
// skill.FormulationSkill over the wire.
type formulationRPCClient struct {
	client *rpc.Client
}

func (c *formulationRPCClient) Execute(ctx context.Context, fc skill.FormulationContext) (*skill.FormulationResult, error) {
	args := FormulationArgs{
		RawIntent: fc.RawIntent,
		UserID:    fc.UserID,
		SceneID:   fc.SceneID,
	}
	var reply FormulationReply

	call := c.client.Go("Plugin.Execute", args, &reply, nil)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-call.Done:
	}
	if call.Error != nil {
		return nil, skill.NewSkillError("formulation", "plugin call failed", call.Error)
	}

	return &skill.FormulationResult{
		FormulatedText: reply.FormulatedText,
		Degraded:       reply.Degraded,
		DegradedReason: reply.DegradedReason,
	}, nil
}

// formulationRPCServer runs plugin-side and forwards to the author's
// implementation.
type formulationRPCServer struct {
	impl skill.FormulationSkill
}

func (s *formulationRPCServer) Execute(args FormulationArgs, reply *FormulationReply) error {
	result, err := s.impl.Execute(context.Background(), skill.FormulationContext{
		RawIntent: args.RawIntent,
		UserID:    args.UserID,
		SceneID:   args.SceneID,
	})
	if err != nil {
		return err
	}
	if result == nil {
		return skill.NewSkillError("formulation", "plugin returned nil result", nil)
	}

	reply.FormulatedText = result.FormulatedText
	reply.Degraded = result.Degraded
	reply.DegradedReason = result.DegradedReason
	return nil
}

// offerRPCClient runs engine-side and satisfies skill.OfferSkill over
// the wire. The chat channel does not cross the boundary.
type offerRPCClient struct {
	client *rpc.Client
}

func (c *offerRPCClient) Execute(ctx context.Context, oc skill.OfferContext) (*skill.OfferResult, error) {
	profileJSON, err := json.Marshal(oc.Profile)
	if err != nil {
		return nil, skill.NewSkillError("offer", "profile not serializable", err)
	}

	args := OfferArgs{
		AgentID:        oc.AgentID,
		DisplayName:    oc.DisplayName,
		ProfileJSON:    profileJSON,
		FormulatedText: oc.FormulatedText,
	}
	var reply OfferReply

	call := c.client.Go("Plugin.Execute", args, &reply, nil)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-call.Done:
	}
	if call.Error != nil {
		return nil, skill.NewSkillError("offer", "plugin call failed", call.Error)
	}

	return &skill.OfferResult{Content: reply.Content}, nil
}

// offerRPCServer runs plugin-side and forwards to the author's
// implementation.
type offerRPCServer struct {
	impl skill.OfferSkill
}

func (s *offerRPCServer) Execute(args OfferArgs, reply *OfferReply) error {
	var profile map[string]any
	if len(args.ProfileJSON) > 0 {
		if err := json.Unmarshal(args.ProfileJSON, &profile); err != nil {
			return skill.NewSkillError("offer", "malformed profile payload", err)
		}
	}

	result, err := s.impl.Execute(context.Background(), skill.OfferContext{
		AgentID:        args.AgentID,
		DisplayName:    args.DisplayName,
		Profile:        profile,
		FormulatedText: args.FormulatedText,
	})
	if err != nil {
		return err
	}
	if result == nil {
		return skill.NewSkillError("offer", "plugin returned nil result", nil)
	}

	reply.Content = result.Content
	return nil
}
