package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kadirpekel/accord/pkg/config"
)

func testLLMConfig(baseURL string) *config.LLMConfig {
	temp := 0.7
	return &config.LLMConfig{
		Model:          "test-model",
		APIKey:         "test-key",
		BaseURL:        baseURL,
		Temperature:    &temp,
		MaxTokens:      1024,
		TimeoutSeconds: 5,
		MaxRetries:     1,
	}
}

func TestNewAnthropicProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicProvider(&config.LLMConfig{Model: "m"})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !IsLLMError(err) {
		t.Errorf("expected LLMError, got %T", err)
	}
}

func TestAnthropicProvider_Chat(t *testing.T) {
	var gotReq anthropicRequest
	var gotAPIKey, gotVersion string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		gotAPIKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}

		resp := anthropicResponse{
			Content: []anthropicContent{
				{Type: "text", Text: "The plan is "},
				{Type: "text", Text: "ready."},
			},
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 10, OutputTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	completion, err := provider.Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "hello"}}, "be brief", nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if completion.Content != "The plan is ready." {
		t.Errorf("Content = %q", completion.Content)
	}
	if completion.StopReason != "end_turn" {
		t.Errorf("StopReason = %q, want end_turn", completion.StopReason)
	}
	if completion.TokensUsed != 15 {
		t.Errorf("TokensUsed = %d, want 15", completion.TokensUsed)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("x-api-key = %q, want test-key", gotAPIKey)
	}
	if gotVersion != anthropicVersion {
		t.Errorf("anthropic-version = %q, want %q", gotVersion, anthropicVersion)
	}
	if gotReq.System != "be brief" {
		t.Errorf("request system = %q, want 'be brief'", gotReq.System)
	}
	if gotReq.Model != "test-model" {
		t.Errorf("request model = %q, want test-model", gotReq.Model)
	}
}

func TestAnthropicProvider_Chat_ToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		input := map[string]any{"plan_text": "ship it"}
		resp := anthropicResponse{
			Content: []anthropicContent{
				{Type: "text", Text: "Calling the tool."},
				{Type: "tool_use", ID: "toolu_1", Name: "output_plan", Input: &input},
			},
			StopReason: "tool_use",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	tools := []ToolDefinition{{
		Name:        "output_plan",
		Description: "Emit the final plan",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"plan_text": map[string]any{"type": "string"}},
			"required":   []string{"plan_text"},
		},
	}}

	completion, err := provider.Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "go"}}, "", tools)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if len(completion.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(completion.ToolCalls))
	}
	tc := completion.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Name != "output_plan" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Arguments["plan_text"] != "ship it" {
		t.Errorf("arguments = %v", tc.Arguments)
	}
	if completion.Content != "Calling the tool." {
		t.Errorf("Content = %q", completion.Content)
	}
}

func TestAnthropicProvider_Chat_ToolRoundTrip(t *testing.T) {
	var gotReq anthropicRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := anthropicResponse{
			Content:    []anthropicContent{{Type: "text", Text: "done"}},
			StopReason: "end_turn",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	messages := []Message{
		{Role: RoleUser, Content: "go"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "toolu_1", Name: "ask_agent", Arguments: map[string]any{"agent_id": "a1", "question": "eta?"}},
		}},
		{Role: RoleTool, ToolCallID: "toolu_1", Content: `{"reply":"2 days"}`},
	}

	if _, err := provider.Chat(context.Background(), messages, "", nil); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if len(gotReq.Messages) != 3 {
		t.Fatalf("request messages = %d, want 3", len(gotReq.Messages))
	}
	if gotReq.Messages[1].Role != "assistant" {
		t.Errorf("messages[1].Role = %q, want assistant", gotReq.Messages[1].Role)
	}
	// Tool results must be sent as user messages with tool_result blocks.
	if gotReq.Messages[2].Role != "user" {
		t.Errorf("messages[2].Role = %q, want user", gotReq.Messages[2].Role)
	}
}

func TestAnthropicProvider_Chat_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"type":"permission_error","message":"denied"}}`))
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(testLLMConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	_, err = provider.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, "", nil)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !IsLLMError(err) {
		t.Errorf("expected LLMError, got %T", err)
	}
}

func TestAnthropicProvider_Model(t *testing.T) {
	provider, err := NewAnthropicProvider(testLLMConfig("http://example.invalid"))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}
	if provider.Model() != "test-model" {
		t.Errorf("Model() = %q, want test-model", provider.Model())
	}
}
