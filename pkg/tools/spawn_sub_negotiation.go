package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/accord/pkg/session"
)

type spawnArgs struct {
	SubDemand string `json:"sub_demand" jsonschema:"required,description=The demand text for the nested negotiation."`
	Scope     string `json:"scope,omitempty" jsonschema:"description=Agent scope for the nested negotiation: 'all' or 'scene:<id>'. Defaults to the parent scope."`
}

// SpawnSubNegotiation opens a nested negotiation for a gap the current
// participants cannot cover. Recursion past the depth bound is a no-op
// artifact; no child session is created.
type SpawnSubNegotiation struct {
	schema map[string]any
}

func NewSpawnSubNegotiation() *SpawnSubNegotiation {
	return &SpawnSubNegotiation{schema: mustSchema[spawnArgs]()}
}

func (t *SpawnSubNegotiation) Name() string { return SpawnSubNegotiationTool }

func (t *SpawnSubNegotiation) Description() string {
	return "Open a nested negotiation for a missing capability the current " +
		"participants cannot cover. The nested negotiation runs to completion " +
		"before this one resumes."
}

func (t *SpawnSubNegotiation) InputSchema() map[string]any { return t.schema }

func (t *SpawnSubNegotiation) Handle(ctx context.Context, sess *session.Session, args map[string]any, ec EngineContext) (map[string]any, error) {
	var in spawnArgs
	if err := DecodeArgs(args, &in); err != nil {
		return nil, err
	}
	in.SubDemand = strings.TrimSpace(in.SubDemand)
	if in.SubDemand == "" {
		return nil, fmt.Errorf("missing or empty 'sub_demand' parameter")
	}

	if sess.RecursionDepth() >= ec.MaxDepth {
		sess.AppendTrace("spawn_sub_negotiation", in.SubDemand, "skipped: max_depth")
		return map[string]any{"skipped": true, "reason": "max_depth"}, nil
	}
	if ec.Spawn == nil {
		return nil, fmt.Errorf("sub-negotiation is not available")
	}

	return ec.Spawn(ctx, sess, in.SubDemand, in.Scope)
}

var _ Handler = (*SpawnSubNegotiation)(nil)
