package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/accord/pkg/config"
	"github.com/kadirpekel/accord/pkg/httpclient"
)

const (
	anthropicDefaultHost = "https://api.anthropic.com"
	anthropicVersion     = "2023-06-01"
)

// AnthropicProvider implements LLM against the Anthropic Messages API.
type AnthropicProvider struct {
	config     *config.LLMConfig
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     *map[string]any `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAnthropicProvider creates an Anthropic provider from configuration.
func NewAnthropicProvider(cfg *config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, NewLLMError("anthropic", "API key is required", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicDefaultHost
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelaySeconds)*time.Second),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicRateLimitHeaders),
	)

	return &AnthropicProvider{
		config:     cfg,
		httpClient: httpClient,
	}, nil
}

// Model returns the configured model identifier.
func (p *AnthropicProvider) Model() string {
	return p.config.Model
}

// Chat sends the conversation and returns a single completion.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, systemPrompt string, tools []ToolDefinition) (*Completion, error) {
	request := p.buildRequest(messages, systemPrompt, tools)

	response, err := p.makeRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	if response.Error != nil {
		return nil, NewLLMError("anthropic", response.Error.Message, nil)
	}

	completion := &Completion{
		StopReason: response.StopReason,
		TokensUsed: response.Usage.InputTokens + response.Usage.OutputTokens,
	}

	for _, content := range response.Content {
		switch content.Type {
		case "text":
			completion.Content += content.Text
		case "tool_use":
			args := make(map[string]any)
			if content.Input != nil {
				args = *content.Input
			}
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{
				ID:        content.ID,
				Name:      content.Name,
				Arguments: args,
			})
		}
	}

	return completion, nil
}

func (p *AnthropicProvider) buildRequest(messages []Message, systemPrompt string, tools []ToolDefinition) anthropicRequest {
	anthropicMessages := make([]anthropicMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			// Tool results ride in user messages as tool_result blocks.
			anthropicMessages = append(anthropicMessages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		case RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				blocks := make([]anthropicContent, 0, len(msg.ToolCalls)+1)
				if msg.Content != "" {
					blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
				}
				for _, tc := range msg.ToolCalls {
					input := tc.Arguments
					if input == nil {
						input = map[string]any{}
					}
					blocks = append(blocks, anthropicContent{
						Type:  "tool_use",
						ID:    tc.ID,
						Name:  tc.Name,
						Input: &input,
					})
				}
				anthropicMessages = append(anthropicMessages, anthropicMessage{
					Role:    "assistant",
					Content: blocks,
				})
			} else {
				anthropicMessages = append(anthropicMessages, anthropicMessage{
					Role:    "assistant",
					Content: msg.Content,
				})
			}
		default:
			anthropicMessages = append(anthropicMessages, anthropicMessage{
				Role:    "user",
				Content: msg.Content,
			})
		}
	}

	request := anthropicRequest{
		Model:     p.config.Model,
		Messages:  anthropicMessages,
		MaxTokens: p.config.MaxTokens,
		System:    systemPrompt,
	}
	if p.config.Temperature != nil {
		request.Temperature = *p.config.Temperature
	}

	for _, tool := range tools {
		request.Tools = append(request.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	return request
}

func (p *AnthropicProvider) makeRequest(ctx context.Context, request anthropicRequest) (*anthropicResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, NewLLMError("anthropic", "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, NewLLMError("anthropic", "failed to create request", err)
	}

	// GetBody lets the retry layer replay the request body.
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			return nil, NewLLMError("anthropic",
				fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, string(body)), err)
		}
		return nil, NewLLMError("anthropic", "request failed", err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError("anthropic", "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewLLMError("anthropic",
			fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, NewLLMError("anthropic", "failed to decode response", err)
	}

	return &response, nil
}
