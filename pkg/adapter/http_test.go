package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPAdapter_GetProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/a1/profile" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"specialty": "freight"})
	}))
	defer server.Close()

	a := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: server.URL})
	profile := a.GetProfile(context.Background(), "a1")

	if profile["specialty"] != "freight" {
		t.Errorf("profile = %v", profile)
	}
	if profile["agent_id"] != "a1" {
		t.Error("profile should carry the agent id")
	}
}

func TestHTTPAdapter_GetProfile_NeverFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	a := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: server.URL})
	profile := a.GetProfile(context.Background(), "ghost")
	if profile["agent_id"] != "ghost" || len(profile) != 1 {
		t.Errorf("profile = %v, want minimal fallback", profile)
	}

	// Unreachable endpoint still yields the minimal profile.
	dead := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond})
	profile = dead.GetProfile(context.Background(), "ghost")
	if profile["agent_id"] != "ghost" {
		t.Errorf("profile = %v, want minimal fallback", profile)
	}
}

func TestHTTPAdapter_Chat(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Messages) != 1 || req.SystemPrompt != "be helpful" {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(chatResponse{Content: "hello back"})
	}))
	defer server.Close()

	a := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: server.URL, APIKey: "secret"})
	reply, err := a.Chat(context.Background(), "a1",
		[]Message{{Role: RoleUser, Content: "hello"}}, "be helpful")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "hello back" {
		t.Errorf("reply = %q", reply)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestHTTPAdapter_Chat_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent offline", http.StatusForbidden)
	}))
	defer server.Close()

	a := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: server.URL})
	_, err := a.Chat(context.Background(), "a1", []Message{{Role: RoleUser, Content: "hi"}}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAdapterError(err) {
		t.Errorf("error type = %T, want *AdapterError", err)
	}
}

func TestHTTPAdapter_EndpointOverride(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(chatResponse{Content: "ok"})
	}))
	defer server.Close()

	a := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: "http://unused.invalid"})
	a.SetEndpoint("special", server.URL+"/custom/special")

	if _, err := a.Chat(context.Background(), "special", []Message{{Role: RoleUser, Content: "hi"}}, ""); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if gotPath != "/custom/special/chat" {
		t.Errorf("path = %q, want the override root", gotPath)
	}
}

func TestHTTPAdapter_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"I'll ", "help: ", "a1"} {
			fmt.Fprintf(w, "data: %s\n\n", mustJSON(t, streamDelta{Delta: delta}))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	a := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: server.URL})
	stream, err := a.ChatStream(context.Background(), "a1", []Message{{Role: RoleUser, Content: "hi"}}, "")
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	var full strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			t.Fatalf("chunk error = %v", chunk.Err)
		}
		full.WriteString(chunk.Text)
	}
	if full.String() != "I'll help: a1" {
		t.Errorf("stream = %q", full.String())
	}
}

func TestHTTPAdapter_ChatStream_ConnectError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no stream for you", http.StatusForbidden)
	}))
	defer server.Close()

	a := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: server.URL})
	_, err := a.ChatStream(context.Background(), "a1", nil, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAdapterError(err) {
		t.Errorf("error type = %T, want *AdapterError", err)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}
