package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/accord/pkg/session"
)

type outputPlanArgs struct {
	PlanText string `json:"plan_text" jsonschema:"required,description=The final plan text delivered verbatim to the user."`
}

// OutputPlan finalizes the negotiation: it stores the plan and moves
// the session to COMPLETED. The center loop stops once it has run.
type OutputPlan struct {
	schema map[string]any
}

func NewOutputPlan() *OutputPlan {
	return &OutputPlan{schema: mustSchema[outputPlanArgs]()}
}

func (t *OutputPlan) Name() string { return ReservedPlanTool }

func (t *OutputPlan) Description() string {
	return "Finalize the negotiation with the agreed plan. Call this exactly once, " +
		"when the offers have been reconciled into a single actionable plan. " +
		"The plan text is delivered verbatim to the user."
}

func (t *OutputPlan) InputSchema() map[string]any { return t.schema }

func (t *OutputPlan) Handle(ctx context.Context, sess *session.Session, args map[string]any, ec EngineContext) (map[string]any, error) {
	var in outputPlanArgs
	if err := DecodeArgs(args, &in); err != nil {
		return nil, err
	}
	in.PlanText = strings.TrimSpace(in.PlanText)
	if in.PlanText == "" {
		return nil, fmt.Errorf("missing or empty 'plan_text' parameter")
	}

	if err := sess.SetPlan(in.PlanText); err != nil {
		return nil, err
	}
	if err := sess.TransitionTo(session.StatusCompleted); err != nil {
		return nil, err
	}

	return map[string]any{"finalized": true}, nil
}

var _ Handler = (*OutputPlan)(nil)
