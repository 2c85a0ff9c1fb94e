package adapter

import (
	"context"
	"sync"
	"time"
)

// ChatCall records one chat invocation on a MockAdapter.
type ChatCall struct {
	AgentID      string
	Messages     []Message
	SystemPrompt string
}

// MockAdapter is a scriptable in-memory adapter for tests and dry runs.
// Zero value behavior: canned profiles, "Mock reply from <agent>" chats,
// and a single-chunk stream of the same text.
type MockAdapter struct {
	mu sync.Mutex

	// Profiles, keyed by agent id; unknown agents get MinimalProfile.
	Profiles map[string]map[string]any

	// ChatFunc overrides the canned chat response.
	ChatFunc func(ctx context.Context, agentID string, messages []Message, systemPrompt string) (string, error)

	// ChatDelay is applied before every chat and stream chunk.
	ChatDelay time.Duration

	// ChatError, when set, fails every chat with an *AdapterError.
	ChatError error

	// StreamChunks overrides the streamed chunks. StreamAfterChunks
	// limits how many are delivered before StreamError terminates the
	// stream; negative means all.
	StreamChunks      []string
	StreamError       error
	StreamAfterChunks int

	calls []ChatCall
}

// NewMockAdapter creates a mock adapter with default behavior.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		Profiles:          make(map[string]map[string]any),
		StreamAfterChunks: -1,
	}
}

// SetProfile registers a canned profile for an agent.
func (m *MockAdapter) SetProfile(agentID string, profile map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Profiles == nil {
		m.Profiles = make(map[string]map[string]any)
	}
	m.Profiles[agentID] = profile
}

// ChatCalls returns the recorded chat invocations.
func (m *MockAdapter) ChatCalls() []ChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockAdapter) GetProfile(ctx context.Context, agentID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if profile, ok := m.Profiles[agentID]; ok {
		out := make(map[string]any, len(profile)+1)
		for k, v := range profile {
			out[k] = v
		}
		out["agent_id"] = agentID
		return out
	}
	return MinimalProfile(agentID)
}

func (m *MockAdapter) Chat(ctx context.Context, agentID string, messages []Message, systemPrompt string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ChatCall{AgentID: agentID, Messages: messages, SystemPrompt: systemPrompt})
	delay := m.ChatDelay
	chatErr := m.ChatError
	chatFunc := m.ChatFunc
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", &AdapterError{AgentID: agentID, Message: "chat cancelled", Err: ctx.Err()}
		}
	}
	if chatErr != nil {
		return "", &AdapterError{AgentID: agentID, Message: "chat failed", Err: chatErr}
	}
	if chatFunc != nil {
		return chatFunc(ctx, agentID, messages, systemPrompt)
	}
	return "Mock reply from " + agentID, nil
}

func (m *MockAdapter) ChatStream(ctx context.Context, agentID string, messages []Message, systemPrompt string) (<-chan StreamChunk, error) {
	m.mu.Lock()
	chunks := append([]string(nil), m.StreamChunks...)
	limit := m.StreamAfterChunks
	streamErr := m.StreamError
	delay := m.ChatDelay
	m.mu.Unlock()

	if len(chunks) == 0 && streamErr == nil {
		chunks = []string{"Mock reply from " + agentID}
	}

	// Fully buffered so the goroutine terminates even when the
	// consumer walks away mid-stream.
	out := make(chan StreamChunk, len(chunks)+1)
	go func() {
		defer close(out)
		for i, text := range chunks {
			if limit >= 0 && i >= limit {
				break
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					out <- StreamChunk{Err: &AdapterError{AgentID: agentID, Message: "stream cancelled", Err: ctx.Err()}}
					return
				}
			}
			out <- StreamChunk{Text: text}
		}
		if streamErr != nil {
			out <- StreamChunk{Err: &AdapterError{AgentID: agentID, Message: "stream failed", Err: streamErr}}
		}
	}()
	return out, nil
}

var _ Adapter = (*MockAdapter)(nil)
