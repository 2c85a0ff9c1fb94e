package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kadirpekel/accord/pkg/config"
)

// GeminiProvider implements LLM against Google Gemini via the official
// google.golang.org/genai SDK.
type GeminiProvider struct {
	client *genai.Client
	config *config.LLMConfig
}

// NewGeminiProvider creates a Gemini provider from configuration.
// Construction uses context.Background; per-call contexts govern requests.
func NewGeminiProvider(cfg *config.LLMConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, NewLLMError("gemini", "API key is required", nil)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, NewLLMError("gemini", "failed to create client", err)
	}

	return &GeminiProvider{
		client: client,
		config: cfg,
	}, nil
}

// Model returns the configured model identifier.
func (p *GeminiProvider) Model() string {
	return p.config.Model
}

// Chat sends the conversation and returns a single completion.
func (p *GeminiProvider) Chat(ctx context.Context, messages []Message, systemPrompt string, tools []ToolDefinition) (*Completion, error) {
	contents := p.buildContents(messages)
	genConfig := p.buildConfig(systemPrompt, tools)

	genResp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, genConfig)
	if err != nil {
		return nil, NewLLMError("gemini", "generation failed", err)
	}

	return p.parseResponse(genResp)
}

func (p *GeminiProvider) buildContents(messages []Message) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range messages {
		var parts []*genai.Part

		switch msg.Role {
		case RoleTool:
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.ToolName,
					Response: map[string]any{"result": msg.Content},
				},
			})
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Arguments,
					},
				})
			}
		default:
			parts = append(parts, &genai.Part{Text: msg.Content})
		}

		if len(parts) == 0 {
			continue
		}

		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	return contents
}

func (p *GeminiProvider) buildConfig(systemPrompt string, tools []ToolDefinition) *genai.GenerateContentConfig {
	genConfig := &genai.GenerateContentConfig{}

	if systemPrompt != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
			Role:  "user",
		}
	}

	if p.config.Temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*p.config.Temperature))
	}
	if p.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(p.config.MaxTokens)
	}

	for _, tool := range tools {
		genConfig.Tools = append(genConfig.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  toGenaiSchema(tool.Parameters),
			}},
		})
	}

	return genConfig
}

// toGenaiSchema converts a JSON schema map to the SDK's schema type.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if required, ok := schema["required"].([]string); ok {
		s.Required = append(s.Required, required...)
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}

func (p *GeminiProvider) parseResponse(genResp *genai.GenerateContentResponse) (*Completion, error) {
	if len(genResp.Candidates) == 0 {
		return nil, NewLLMError("gemini", "empty response", nil)
	}

	candidate := genResp.Candidates[0]
	completion := &Completion{
		StopReason: string(candidate.FinishReason),
	}

	if genResp.UsageMetadata != nil {
		completion.TokensUsed = int(genResp.UsageMetadata.TotalTokenCount)
	}

	if candidate.Content == nil {
		return completion, nil
	}

	for i, part := range candidate.Content.Parts {
		if part.Text != "" && !part.Thought {
			completion.Content += part.Text
		}
		if part.FunctionCall != nil {
			callID := part.FunctionCall.ID
			if callID == "" {
				// Gemini may omit call ids; synthesize stable ones.
				callID = fmt.Sprintf("call-%d", i)
			}
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{
				ID:        callID,
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}

	return completion, nil
}
