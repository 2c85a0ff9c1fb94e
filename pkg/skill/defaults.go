package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kadirpekel/accord/pkg/adapter"
	"github.com/kadirpekel/accord/pkg/config"
	"github.com/kadirpekel/accord/pkg/llm"
	"github.com/kadirpekel/accord/pkg/utils"
)

const defaultFormulationPrompt = `You rewrite a user's raw intent into a precise, self-contained demand statement for a multi-agent negotiation.

Rules:
- Keep the user's goal; make constraints and context explicit.
- One paragraph, plain text, no preamble, no markdown.
- Reply with the rewritten demand text only.`

const defaultOfferPrompt = `You are an agent invited to a negotiation. Read the demand and your own profile, then state concretely what you can contribute.

Reply with your offer text only: what you provide and under what conditions. Do not restate the demand.`

const defaultCenterPrompt = `You are the center coordinator of a multi-agent negotiation. You have the demand, the participants' profiles, and their offers.

Each round you may call tools:
- ask_agent puts one question to one participant.
- spawn_sub_negotiation sources a capability no participant covers.
- output_plan emits the final plan and ends the negotiation.

Synthesize the offers into one coherent plan. Call output_plan before the round cap; an unfinished negotiation is worse than an imperfect plan.`

const defaultSubNegotiationPrompt = `A negotiation plan has a gap. Decide whether a focused sub-negotiation can close it.

Reply with a single JSON object:
{"sub_demand_text": "...", "agent_ids": ["..."]}
naming the demand for the sub-negotiation and candidate agents. Reply with the literal null if the gap is not worth pursuing. No other text.`

const defaultGapRecursionPrompt = `You review a finished negotiation plan against its participants' offers and list the needs it leaves unmet.

Reply with a JSON array of gap objects, each {"description": "..."}. Reply with [] when the plan is complete. No other text.`

// centerTranscriptBudget caps the token size of the transcript sent to
// the platform LLM; oldest exchanges are trimmed first.
const centerTranscriptBudget = 24000

// LLMFormulation is the default formulation skill backed by the
// platform LLM.
type LLMFormulation struct {
	client llm.LLM
	prompt string
}

// NewLLMFormulation creates the default formulation skill. An empty
// prompt selects the built-in one.
func NewLLMFormulation(client llm.LLM, prompt string) *LLMFormulation {
	if prompt == "" {
		prompt = defaultFormulationPrompt
	}
	return &LLMFormulation{client: client, prompt: prompt}
}

func (s *LLMFormulation) Execute(ctx context.Context, fc FormulationContext) (*FormulationResult, error) {
	var b strings.Builder
	b.WriteString("Raw intent: ")
	b.WriteString(fc.RawIntent)
	if fc.SceneID != "" {
		fmt.Fprintf(&b, "\nScene: %s", fc.SceneID)
	}

	completion, err := s.client.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: b.String()}}, s.prompt, nil)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(completion.Content)
	if text == "" {
		return nil, NewSkillError("formulation", "model returned empty formulation", nil)
	}

	return &FormulationResult{FormulatedText: text}, nil
}

// LLMOffer is the default offer skill. It talks to the participant over
// its own chat channel rather than the platform LLM.
type LLMOffer struct {
	prompt string
}

// NewLLMOffer creates the default offer skill. An empty prompt selects
// the built-in one.
func NewLLMOffer(prompt string) *LLMOffer {
	if prompt == "" {
		prompt = defaultOfferPrompt
	}
	return &LLMOffer{prompt: prompt}
}

func (s *LLMOffer) Execute(ctx context.Context, oc OfferContext) (*OfferResult, error) {
	if oc.Chat == nil {
		return nil, NewSkillError("offer", "no chat channel for agent "+oc.AgentID, nil)
	}

	var b strings.Builder
	b.WriteString("Demand: ")
	b.WriteString(oc.FormulatedText)
	if profile := adapter.ProfileText(oc.Profile); profile != "" {
		b.WriteString("\n\nYour profile:\n")
		b.WriteString(profile)
	}

	reply, err := oc.Chat(ctx, b.String(), s.prompt)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(reply)
	if content == "" {
		return nil, NewSkillError("offer", "agent "+oc.AgentID+" returned empty offer", nil)
	}

	return &OfferResult{Content: content}, nil
}

// LLMCenter is the default center skill: one platform LLM call per round
// over the budget-trimmed transcript.
type LLMCenter struct {
	client  llm.LLM
	prompt  string
	counter *utils.TokenCounter
}

// NewLLMCenter creates the default center skill. An empty prompt selects
// the built-in one.
func NewLLMCenter(client llm.LLM, prompt string) *LLMCenter {
	if prompt == "" {
		prompt = defaultCenterPrompt
	}
	// Counter construction only fails for unloadable encodings; the
	// fallback encoding ships with the library.
	counter, _ := utils.NewTokenCounter(client.Model())
	return &LLMCenter{client: client, prompt: prompt, counter: counter}
}

func (s *LLMCenter) Execute(ctx context.Context, cc CenterContext) (*CenterResult, error) {
	system := s.buildSystemPrompt(cc)
	transcript := s.trimTranscript(cc.Transcript)

	completion, err := s.client.Chat(ctx, transcript, system, cc.Tools)
	if err != nil {
		return nil, err
	}

	return &CenterResult{
		ToolCalls: completion.ToolCalls,
		Content:   completion.Content,
	}, nil
}

func (s *LLMCenter) buildSystemPrompt(cc CenterContext) string {
	var b strings.Builder
	b.WriteString(s.prompt)

	ids := make([]string, 0, len(cc.Offers))
	for id := range cc.Offers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) > 0 {
		b.WriteString("\n\nParticipants:")
		for _, id := range ids {
			fmt.Fprintf(&b, "\n- %s", id)
			if profile := adapter.ProfileText(cc.Profiles[id]); profile != "" {
				b.WriteString("\n  ")
				b.WriteString(strings.ReplaceAll(profile, "\n", "\n  "))
			}
			fmt.Fprintf(&b, "\n  Offer: %s", cc.Offers[id])
		}
	}

	fmt.Fprintf(&b, "\n\nRound %d of %d.", cc.Round, cc.MaxRounds)
	return b.String()
}

// trimTranscript drops the oldest exchanges when the transcript exceeds
// the token budget. Tool-call turns carry structure the counter cannot
// see, so only plain content is measured; that error margin is absorbed
// by the budget headroom.
func (s *LLMCenter) trimTranscript(transcript []llm.Message) []llm.Message {
	if s.counter == nil || len(transcript) < 2 {
		return transcript
	}

	counted := make([]utils.Message, len(transcript))
	for i, m := range transcript {
		counted[i] = utils.Message{Role: string(m.Role), Content: m.Content}
	}
	if s.counter.CountMessages(counted) <= centerTranscriptBudget {
		return transcript
	}

	fitted := s.counter.FitWithinLimit(counted, centerTranscriptBudget)
	keep := len(fitted)
	if keep == 0 {
		keep = 1
	}
	trimmed := transcript[len(transcript)-keep:]

	// Never start the transcript on a dangling tool result.
	for len(trimmed) > 1 && trimmed[0].Role == llm.RoleTool {
		trimmed = trimmed[1:]
	}
	return trimmed
}

// LLMSubNegotiation is the default sub-negotiation skill: asks the
// platform LLM to turn a gap into a child demand.
type LLMSubNegotiation struct {
	client llm.LLM
	prompt string
}

// NewLLMSubNegotiation creates the default sub-negotiation skill. An
// empty prompt selects the built-in one.
func NewLLMSubNegotiation(client llm.LLM, prompt string) *LLMSubNegotiation {
	if prompt == "" {
		prompt = defaultSubNegotiationPrompt
	}
	return &LLMSubNegotiation{client: client, prompt: prompt}
}

func (s *LLMSubNegotiation) Execute(ctx context.Context, sc SubNegotiationContext) (*SubNegotiationResult, error) {
	gapJSON, _ := json.Marshal(sc.Gap)

	var b strings.Builder
	fmt.Fprintf(&b, "Parent demand: %s\n", sc.Parent.Demand.FormulatedText)
	if plan := sc.Parent.PlanOutput; plan != nil {
		fmt.Fprintf(&b, "Parent plan so far: %s\n", *plan)
	}
	fmt.Fprintf(&b, "Gap: %s", string(gapJSON))

	completion, err := s.client.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: b.String()}}, s.prompt, nil)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(completion.Content)
	if text == "" || strings.EqualFold(text, "null") || strings.EqualFold(text, "none") {
		return nil, nil
	}

	payload, ok := extractJSON(text, '{', '}')
	if !ok {
		return nil, NewSkillError("sub_negotiation", "model did not return a JSON object", nil)
	}

	var result struct {
		SubDemandText string   `json:"sub_demand_text"`
		AgentIDs      []string `json:"agent_ids"`
	}
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, NewSkillError("sub_negotiation", "malformed JSON object", err)
	}
	if result.SubDemandText == "" {
		return nil, nil
	}

	return &SubNegotiationResult{
		SubDemandText: result.SubDemandText,
		AgentIDs:      result.AgentIDs,
	}, nil
}

// LLMGapRecursion is the default gap-recursion skill: asks the platform
// LLM to list the unmet needs a plan leaves open.
type LLMGapRecursion struct {
	client llm.LLM
	prompt string
}

// NewLLMGapRecursion creates the default gap-recursion skill. An empty
// prompt selects the built-in one.
func NewLLMGapRecursion(client llm.LLM, prompt string) *LLMGapRecursion {
	if prompt == "" {
		prompt = defaultGapRecursionPrompt
	}
	return &LLMGapRecursion{client: client, prompt: prompt}
}

func (s *LLMGapRecursion) Execute(ctx context.Context, gc GapRecursionContext) ([]Gap, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan:\n%s\n\nParticipants:", gc.Plan)
	for _, p := range gc.Participants {
		fmt.Fprintf(&b, "\n- %s (%s)", p.AgentID, p.State)
		if p.Offer != nil {
			fmt.Fprintf(&b, ": %s", p.Offer.Content)
		}
	}

	completion, err := s.client.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: b.String()}}, s.prompt, nil)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(completion.Content)
	payload, ok := extractJSON(text, '[', ']')
	if !ok {
		return nil, NewSkillError("gap_recursion", "model did not return a JSON array", nil)
	}

	var gaps []Gap
	if err := json.Unmarshal([]byte(payload), &gaps); err != nil {
		return nil, NewSkillError("gap_recursion", "malformed JSON array", err)
	}

	return gaps, nil
}

// DefaultSet builds the five LLM-backed skills with the configured
// prompt overrides.
func DefaultSet(client llm.LLM, prompts config.SkillPrompts) Set {
	return Set{
		Formulation:    NewLLMFormulation(client, prompts.Formulation),
		Offer:          NewLLMOffer(prompts.Offer),
		Center:         NewLLMCenter(client, prompts.Center),
		SubNegotiation: NewLLMSubNegotiation(client, prompts.SubNegotiation),
		GapRecursion:   NewLLMGapRecursion(client, prompts.GapRecursion),
	}
}

// extractJSON returns the outermost open..close slice of s, tolerating
// prose or code fences around the payload.
func extractJSON(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
