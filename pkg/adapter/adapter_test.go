package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAdapterError(t *testing.T) {
	base := errors.New("connection reset")
	err := &AdapterError{AgentID: "a1", Message: "chat failed", Err: base}

	if !IsAdapterError(err) {
		t.Error("IsAdapterError should match")
	}
	if !errors.Is(err, base) {
		t.Error("Unwrap should expose the cause")
	}
	if IsAdapterError(errors.New("plain")) {
		t.Error("IsAdapterError should not match plain errors")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if !IsAdapterError(wrapped) {
		t.Error("IsAdapterError should match wrapped adapter errors")
	}
}

func TestMockAdapter_Defaults(t *testing.T) {
	m := NewMockAdapter()
	ctx := context.Background()

	reply, err := m.Chat(ctx, "a1", []Message{{Role: RoleUser, Content: "hi"}}, "")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "Mock reply from a1" {
		t.Errorf("reply = %q", reply)
	}

	calls := m.ChatCalls()
	if len(calls) != 1 || calls[0].AgentID != "a1" {
		t.Errorf("calls = %+v", calls)
	}

	profile := m.GetProfile(ctx, "a1")
	if profile["agent_id"] != "a1" {
		t.Errorf("profile = %v", profile)
	}
}

func TestMockAdapter_ScriptedError(t *testing.T) {
	m := NewMockAdapter()
	m.ChatError = errors.New("provider down")

	_, err := m.Chat(context.Background(), "a1", nil, "")
	if !IsAdapterError(err) {
		t.Errorf("error = %v, want *AdapterError", err)
	}
}

func TestMockAdapter_ChatFunc(t *testing.T) {
	m := NewMockAdapter()
	m.ChatFunc = func(ctx context.Context, agentID string, messages []Message, systemPrompt string) (string, error) {
		return "I'll help: " + agentID, nil
	}

	reply, err := m.Chat(context.Background(), "beta", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "I'll help: beta" {
		t.Errorf("reply = %q", reply)
	}
}

func TestMockAdapter_ChatDelayHonorsContext(t *testing.T) {
	m := NewMockAdapter()
	m.ChatDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Chat(ctx, "a1", nil, "")
	if !IsAdapterError(err) {
		t.Errorf("error = %v, want cancellation as *AdapterError", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancelled chat should return promptly")
	}
}

func TestMockAdapter_Stream(t *testing.T) {
	m := NewMockAdapter()
	m.StreamChunks = []string{"one ", "two ", "three"}

	stream, err := m.ChatStream(context.Background(), "a1", nil, "")
	if err != nil {
		t.Fatal(err)
	}

	var got string
	for chunk := range stream {
		if chunk.Err != nil {
			t.Fatalf("chunk error = %v", chunk.Err)
		}
		got += chunk.Text
	}
	if got != "one two three" {
		t.Errorf("stream = %q", got)
	}
}

func TestMockAdapter_StreamFailsAfterPartialOutput(t *testing.T) {
	m := NewMockAdapter()
	m.StreamChunks = []string{"partial ", "never seen"}
	m.StreamAfterChunks = 1
	m.StreamError = errors.New("connection dropped")

	stream, err := m.ChatStream(context.Background(), "b", nil, "")
	if err != nil {
		t.Fatal(err)
	}

	var text string
	var streamErr error
	for chunk := range stream {
		if chunk.Err != nil {
			streamErr = chunk.Err
			break
		}
		text += chunk.Text
	}

	if text != "partial " {
		t.Errorf("partial text = %q", text)
	}
	if !IsAdapterError(streamErr) {
		t.Errorf("stream error = %v, want *AdapterError", streamErr)
	}
}

func TestMinimalProfile(t *testing.T) {
	p := MinimalProfile("x")
	if len(p) != 1 || p["agent_id"] != "x" {
		t.Errorf("MinimalProfile = %v", p)
	}
}
