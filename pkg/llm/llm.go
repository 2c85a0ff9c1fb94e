// Package llm provides the platform LLM used by the negotiation skills
// and the center loop.
//
// Key components:
//   - LLM: the provider-neutral chat interface (single completion per call)
//   - AnthropicProvider, OpenAIProvider: hand-rolled HTTP providers
//   - GeminiProvider: backed by the official google.golang.org/genai SDK
//   - MockLLM: scriptable implementation for tests
//
// Providers return a Completion carrying the text content and any tool
// calls the model requested. Streaming is intentionally not part of the
// interface: skills consume whole completions.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool carries a tool handler's result back to the model. The
	// ToolCallID field must reference the call being answered.
	RoleTool Role = "tool"
)

// Message is one turn of a conversation sent to the provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that requested tools, so the
	// provider can replay the exchange on the next turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on RoleTool messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Completion is the provider-neutral result of one chat call.
type Completion struct {
	// Content is the concatenated text of the response.
	Content string

	// ToolCalls are the tool invocations requested by the model, in the
	// order the provider emitted them. The caller dispatches them in order.
	ToolCalls []ToolCall

	// StopReason is the provider's finish reason, passed through verbatim
	// (e.g. "end_turn", "tool_use", "stop", "STOP").
	StopReason string

	// TokensUsed is the total token count reported by the provider, zero
	// when the provider omits usage.
	TokensUsed int
}

// LLM is the platform model used by skills and the center loop.
type LLM interface {
	// Chat sends the conversation and returns a single completion.
	// systemPrompt may be empty; tools may be nil.
	Chat(ctx context.Context, messages []Message, systemPrompt string, tools []ToolDefinition) (*Completion, error)

	// Model returns the configured model identifier.
	Model() string
}

// LLMError reports a transport or API failure from a provider.
type LLMError struct {
	Provider string
	Message  string
	Err      error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("llm %s: %s", e.Provider, e.Message)
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

// NewLLMError builds an LLMError for the given provider.
func NewLLMError(provider, message string, err error) *LLMError {
	return &LLMError{Provider: provider, Message: message, Err: err}
}

// IsLLMError reports whether err is or wraps an LLMError.
func IsLLMError(err error) bool {
	var e *LLMError
	return errors.As(err, &e)
}
