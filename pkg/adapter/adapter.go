// Package adapter provides the client-side LLM channel to participating
// agents and the registry that routes agent ids to their channels.
//
// Key components:
//   - Adapter: per-agent profile fetch, one-shot chat, and chat streaming
//   - AgentRegistry: agent_id → (adapter, source, scenes, profile, vector)
//   - HTTPAdapter: JSON-over-HTTP agents with SSE streaming
//   - MockAdapter: scriptable in-memory adapter for tests and dry runs
//
// One adapter serves one provider; an engine can hold many adapters
// through the registry plus a default for unrouted agents.
package adapter

import (
	"context"
	"errors"
	"fmt"
)

// MessageRole identifies who produced a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one turn in an agent conversation.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// StreamChunk is one element of a chat stream. A chunk with a non-nil
// Err terminates the stream; partial text may have been delivered
// before it.
type StreamChunk struct {
	Text string
	Err  error
}

// Adapter is a client-side LLM channel to participating agents.
//
// GetProfile never fails: unknown agents and transport errors yield a
// minimal profile carrying only the agent id. Chat and ChatStream fail
// with *AdapterError. Streams are finite, non-restartable, and
// single-consumer; the channel closes after the last chunk.
type Adapter interface {
	GetProfile(ctx context.Context, agentID string) map[string]any

	Chat(ctx context.Context, agentID string, messages []Message, systemPrompt string) (string, error)

	ChatStream(ctx context.Context, agentID string, messages []Message, systemPrompt string) (<-chan StreamChunk, error)
}

// ErrNoAdapter is returned when no adapter is bound for an agent.
var ErrNoAdapter = errors.New("no adapter bound")

// AdapterError reports a failed agent channel operation. Adapter
// failures are confined to one participant; they never fail the
// negotiation by themselves.
type AdapterError struct {
	AgentID string
	Message string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("adapter: agent %s: %s: %v", e.AgentID, e.Message, e.Err)
	}
	return fmt.Sprintf("adapter: agent %s: %s", e.AgentID, e.Message)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// IsAdapterError checks if an error is an adapter error.
func IsAdapterError(err error) bool {
	if err == nil {
		return false
	}
	var ae *AdapterError
	return errors.As(err, &ae)
}

// MinimalProfile is the fallback profile for unknown agents.
func MinimalProfile(agentID string) map[string]any {
	return map[string]any{"agent_id": agentID}
}
