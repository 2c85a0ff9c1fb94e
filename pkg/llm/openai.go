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

const openaiDefaultHost = "https://api.openai.com/v1"

// OpenAIProvider implements LLM against the OpenAI Chat Completions API.
// It also serves OpenAI-compatible gateways via BaseURL override.
type OpenAIProvider struct {
	config     *config.LLMConfig
	httpClient *httpclient.Client
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Tools       []openaiTool    `json:"tools,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// NewOpenAIProvider creates an OpenAI provider from configuration.
func NewOpenAIProvider(cfg *config.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, NewLLMError("openai", "API key is required", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openaiDefaultHost
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelaySeconds)*time.Second),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
	)

	return &OpenAIProvider{
		config:     cfg,
		httpClient: httpClient,
	}, nil
}

// Model returns the configured model identifier.
func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

// Chat sends the conversation and returns a single completion.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, systemPrompt string, tools []ToolDefinition) (*Completion, error) {
	request := p.buildRequest(messages, systemPrompt, tools)

	response, err := p.makeRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	if response.Error != nil {
		return nil, NewLLMError("openai", response.Error.Message, nil)
	}
	if len(response.Choices) == 0 {
		return nil, NewLLMError("openai", "no response choices returned", nil)
	}

	choice := response.Choices[0]
	completion := &Completion{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		TokensUsed: response.Usage.TotalTokens,
	}

	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, NewLLMError("openai", "failed to parse tool arguments", err)
			}
		}
		completion.ToolCalls = append(completion.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return completion, nil
}

func (p *OpenAIProvider) buildRequest(messages []Message, systemPrompt string, tools []ToolDefinition) openaiRequest {
	openaiMessages := make([]openaiMessage, 0, len(messages)+1)

	if systemPrompt != "" {
		openaiMessages = append(openaiMessages, openaiMessage{
			Role:    "system",
			Content: systemPrompt,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			openaiMessages = append(openaiMessages, openaiMessage{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case RoleAssistant:
			m := openaiMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				m.ToolCalls = append(m.ToolCalls, openaiToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openaiFunctionCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			openaiMessages = append(openaiMessages, m)
		default:
			openaiMessages = append(openaiMessages, openaiMessage{
				Role:    "user",
				Content: msg.Content,
			})
		}
	}

	request := openaiRequest{
		Model:     p.config.Model,
		Messages:  openaiMessages,
		MaxTokens: p.config.MaxTokens,
	}
	if p.config.Temperature != nil {
		request.Temperature = *p.config.Temperature
	}

	for _, tool := range tools {
		request.Tools = append(request.Tools, openaiTool{
			Type: "function",
			Function: openaiToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	return request
}

func parseOpenAIErrorBody(body []byte) *openaiError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error openaiError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &errorResp.Error
	}
	return nil
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request openaiRequest) (*openaiResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, NewLLMError("openai", "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, NewLLMError("openai", "failed to create request", err)
	}

	// GetBody lets the retry layer replay the request body.
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	// The client returns both a response and an error for non-2xx
	// statuses; surface the API's own error message when present.
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			if apiErr := parseOpenAIErrorBody(body); apiErr != nil {
				return nil, NewLLMError("openai",
					fmt.Sprintf("request failed with status %d: %s (type: %s, code: %s)",
						resp.StatusCode, apiErr.Message, apiErr.Type, apiErr.Code), nil)
			}
			return nil, NewLLMError("openai",
				fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, string(body)), nil)
		}
	}
	if err != nil {
		return nil, NewLLMError("openai", "request failed", err)
	}
	if resp == nil {
		return nil, NewLLMError("openai", "no response received", nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError("openai", "failed to read response", err)
	}

	var response openaiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, NewLLMError("openai", "failed to decode response", err)
	}

	return &response, nil
}
