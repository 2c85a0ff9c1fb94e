package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kadirpekel/accord/pkg/adapter"
)

func TestAskAgent_Handle(t *testing.T) {
	sess := newSynthesizingSession(t, "agent-a", "agent-b")
	mock := adapter.NewMockAdapter()
	mock.ChatFunc = func(ctx context.Context, agentID string, messages []adapter.Message, systemPrompt string) (string, error) {
		return "Available from Monday.", nil
	}
	h := NewAskAgent()

	artifact, err := h.Handle(context.Background(), sess, map[string]any{
		"agent_id": "agent-a",
		"question": "When are you available?",
	}, EngineContext{Adapter: mock, Round: 1})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if artifact["answer"] != "Available from Monday." {
		t.Errorf("artifact = %v", artifact)
	}

	calls := mock.ChatCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 chat call, got %d", len(calls))
	}
	if calls[0].AgentID != "agent-a" {
		t.Errorf("chat routed to %q", calls[0].AgentID)
	}
	if len(calls[0].Messages) != 1 || calls[0].Messages[0].Content != "When are you available?" {
		t.Errorf("chat messages = %v", calls[0].Messages)
	}

	// The exchange lands on the trace.
	var found bool
	for _, entry := range sess.Trace() {
		if entry.Step == "ask_agent" && strings.Contains(entry.Output, "Available from Monday.") {
			found = true
		}
	}
	if !found {
		t.Error("ask_agent exchange missing from trace")
	}
}

func TestAskAgent_UnknownAgent(t *testing.T) {
	sess := newSynthesizingSession(t, "agent-a")
	mock := adapter.NewMockAdapter()
	h := NewAskAgent()

	artifact, err := h.Handle(context.Background(), sess, map[string]any{
		"agent_id": "agent-z",
		"question": "Anyone there?",
	}, EngineContext{Adapter: mock})
	if err != nil {
		t.Fatalf("Handle() error = %v, unknown agents are artifacts not failures", err)
	}
	if artifact["error"] != "unknown agent" {
		t.Errorf("artifact = %v, want error=unknown agent", artifact)
	}
	if len(mock.ChatCalls()) != 0 {
		t.Error("adapter consulted for an unknown agent")
	}
}

func TestAskAgent_MissingArguments(t *testing.T) {
	sess := newSynthesizingSession(t, "agent-a")
	h := NewAskAgent()

	for _, args := range []map[string]any{
		{},
		{"agent_id": "agent-a"},
		{"question": "hello?"},
		{"agent_id": " ", "question": "hello?"},
	} {
		if _, err := h.Handle(context.Background(), sess, args, EngineContext{Adapter: adapter.NewMockAdapter()}); err == nil {
			t.Errorf("Handle(%v) expected error", args)
		}
	}
}

func TestAskAgent_AdapterError(t *testing.T) {
	sess := newSynthesizingSession(t, "agent-a")
	mock := adapter.NewMockAdapter()
	mock.ChatError = errors.New("connection refused")
	h := NewAskAgent()

	_, err := h.Handle(context.Background(), sess, map[string]any{
		"agent_id": "agent-a",
		"question": "Still there?",
	}, EngineContext{Adapter: mock})
	if err == nil {
		t.Fatal("expected adapter error to propagate")
	}
	var adapterErr *adapter.AdapterError
	if !errors.As(err, &adapterErr) {
		t.Errorf("error = %T, want *adapter.AdapterError", err)
	}
}

func TestAskAgent_NoAdapter(t *testing.T) {
	sess := newSynthesizingSession(t, "agent-a")
	h := NewAskAgent()

	if _, err := h.Handle(context.Background(), sess, map[string]any{
		"agent_id": "agent-a",
		"question": "hello?",
	}, EngineContext{}); err == nil {
		t.Error("expected error without an adapter")
	}
}
