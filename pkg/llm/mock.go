package llm

import (
	"context"
	"sync"
	"time"
)

// ChatRequest records one MockLLM.Chat invocation for assertions.
type ChatRequest struct {
	Messages     []Message
	SystemPrompt string
	Tools        []ToolDefinition
}

// MockLLM is a scriptable LLM for tests.
//
// Behavior is resolved in order: ChatDelay, ChatError, ChatFunc, then the
// Responses queue. Queued responses are consumed one per call; once the
// queue is exhausted the last response repeats. With nothing scripted a
// canned text completion is returned.
type MockLLM struct {
	mu sync.Mutex

	ChatFunc  func(ctx context.Context, messages []Message, systemPrompt string, tools []ToolDefinition) (*Completion, error)
	Responses []*Completion
	ChatError error
	ChatDelay time.Duration
	ModelName string

	calls []ChatRequest
	next  int
}

// NewMockLLM creates a mock with no scripted behavior.
func NewMockLLM() *MockLLM {
	return &MockLLM{ModelName: "mock-model"}
}

// Chat returns the next scripted completion.
func (m *MockLLM) Chat(ctx context.Context, messages []Message, systemPrompt string, tools []ToolDefinition) (*Completion, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ChatRequest{
		Messages:     append([]Message(nil), messages...),
		SystemPrompt: systemPrompt,
		Tools:        append([]ToolDefinition(nil), tools...),
	})
	delay := m.ChatDelay
	chatErr := m.ChatError
	chatFunc := m.ChatFunc
	var scripted *Completion
	if len(m.Responses) > 0 {
		idx := m.next
		if idx >= len(m.Responses) {
			idx = len(m.Responses) - 1
		}
		scripted = m.Responses[idx]
		m.next++
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if chatErr != nil {
		return nil, chatErr
	}
	if chatFunc != nil {
		return chatFunc(ctx, messages, systemPrompt, tools)
	}
	if scripted != nil {
		return scripted, nil
	}

	return &Completion{Content: "mock completion", StopReason: "end_turn"}, nil
}

// Model returns the configured mock model name.
func (m *MockLLM) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// Calls returns a copy of the recorded invocations.
func (m *MockLLM) Calls() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.calls...)
}

// CallCount returns the number of Chat invocations so far.
func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls and rewinds the response queue.
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.next = 0
}

var _ LLM = (*MockLLM)(nil)
