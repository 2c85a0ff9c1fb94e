package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/accord/pkg/adapter"
	"github.com/kadirpekel/accord/pkg/session"
)

type askAgentArgs struct {
	AgentID  string `json:"agent_id" jsonschema:"required,description=The exact agent id of a current participant. Use the id from the roster - do not invent or abbreviate ids."`
	Question string `json:"question" jsonschema:"required,description=The question to ask. Be short and specific."`
}

// AskAgent relays a one-shot question to a participant over its
// adapter channel. Questions to agents outside the session come back
// as an error artifact, not a handler failure.
type AskAgent struct {
	schema map[string]any
}

func NewAskAgent() *AskAgent {
	return &AskAgent{schema: mustSchema[askAgentArgs]()}
}

func (t *AskAgent) Name() string { return AskAgentTool }

func (t *AskAgent) Description() string {
	return "Ask one participating agent a short clarifying question. " +
		"Use the exact agent_id from the participant roster. " +
		"The answer is recorded on the negotiation transcript."
}

func (t *AskAgent) InputSchema() map[string]any { return t.schema }

func (t *AskAgent) Handle(ctx context.Context, sess *session.Session, args map[string]any, ec EngineContext) (map[string]any, error) {
	var in askAgentArgs
	if err := DecodeArgs(args, &in); err != nil {
		return nil, err
	}
	in.AgentID = strings.TrimSpace(in.AgentID)
	in.Question = strings.TrimSpace(in.Question)
	if in.AgentID == "" {
		return nil, fmt.Errorf("missing or empty 'agent_id' parameter")
	}
	if in.Question == "" {
		return nil, fmt.Errorf("missing or empty 'question' parameter")
	}

	if _, ok := sess.Participant(in.AgentID); !ok {
		return map[string]any{"error": "unknown agent"}, nil
	}
	if ec.Adapter == nil {
		return nil, fmt.Errorf("no adapter available for agent %s", in.AgentID)
	}

	answer, err := ec.Adapter.Chat(ctx, in.AgentID, []adapter.Message{
		{Role: adapter.RoleUser, Content: in.Question},
	}, "")
	if err != nil {
		return nil, err
	}

	sess.AppendTrace("ask_agent", fmt.Sprintf("%s: %s", in.AgentID, in.Question), answer)
	return map[string]any{"answer": answer}, nil
}

var _ Handler = (*AskAgent)(nil)
