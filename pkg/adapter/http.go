package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/accord/pkg/httpclient"
)

const defaultAdapterTimeout = 60 * time.Second

// HTTPAdapter talks to agents exposing the JSON agent protocol:
//
//	GET  {agent}/profile      → profile object
//	POST {agent}/chat         → {"content": "..."}
//	POST {agent}/chat/stream  → SSE, data: {"delta": "..."} then [DONE]
//
// The agent root is baseURL/agents/{agent_id} unless an explicit
// endpoint was registered for the agent.
type HTTPAdapter struct {
	client       *httpclient.Client
	streamClient *http.Client
	baseURL      string
	apiKey       string

	mu        sync.RWMutex
	endpoints map[string]string
}

// HTTPAdapterConfig configures the HTTP adapter.
type HTTPAdapterConfig struct {
	// BaseURL is the default agent endpoint prefix.
	BaseURL string

	// APIKey sent as a bearer token, optional.
	APIKey string

	// Timeout bounds profile and chat calls (default: 60s). Streams
	// are bounded by the caller's context instead.
	Timeout time.Duration
}

// chatRequest is the wire payload for chat and chat/stream.
type chatRequest struct {
	Messages     []Message `json:"messages"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
}

// chatResponse is the wire payload of a one-shot chat.
type chatResponse struct {
	Content string `json:"content"`
}

// streamDelta is one SSE data payload of a chat stream.
type streamDelta struct {
	Delta string `json:"delta"`
}

// NewHTTPAdapter creates an adapter for JSON-over-HTTP agents.
func NewHTTPAdapter(cfg HTTPAdapterConfig) *HTTPAdapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultAdapterTimeout
	}

	return &HTTPAdapter{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		),
		// No client timeout on streams; the context governs their
		// lifetime.
		streamClient: &http.Client{},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		endpoints:    make(map[string]string),
	}
}

// SetEndpoint overrides the agent root URL for one agent.
func (a *HTTPAdapter) SetEndpoint(agentID, endpoint string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endpoints[agentID] = strings.TrimRight(endpoint, "/")
}

func (a *HTTPAdapter) endpointFor(agentID string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if endpoint, ok := a.endpoints[agentID]; ok {
		return endpoint
	}
	return fmt.Sprintf("%s/agents/%s", a.baseURL, agentID)
}

func (a *HTTPAdapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

// GetProfile fetches the agent's profile. It never fails: transport
// errors and unknown agents yield the minimal profile.
func (a *HTTPAdapter) GetProfile(ctx context.Context, agentID string) map[string]any {
	url := a.endpointFor(agentID) + "/profile"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return MinimalProfile(agentID)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		slog.Debug("Profile fetch failed, using minimal profile", "agent_id", agentID, "error", err)
		return MinimalProfile(agentID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Debug("Profile fetch returned non-OK status", "agent_id", agentID, "status", resp.StatusCode)
		return MinimalProfile(agentID)
	}

	var profile map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil || len(profile) == 0 {
		return MinimalProfile(agentID)
	}
	profile["agent_id"] = agentID
	return profile
}

// Chat sends one request and returns the agent's reply.
func (a *HTTPAdapter) Chat(ctx context.Context, agentID string, messages []Message, systemPrompt string) (string, error) {
	url := a.endpointFor(agentID) + "/chat"

	body, err := json.Marshal(chatRequest{Messages: messages, SystemPrompt: systemPrompt})
	if err != nil {
		return "", &AdapterError{AgentID: agentID, Message: "failed to marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", &AdapterError{AgentID: agentID, Message: "failed to create request", Err: err}
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return "", &AdapterError{AgentID: agentID, Message: "chat request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", &AdapterError{
			AgentID: agentID,
			Message: fmt.Sprintf("chat returned status %d: %s", resp.StatusCode, string(raw)),
		}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &AdapterError{AgentID: agentID, Message: "failed to decode response", Err: err}
	}
	return out.Content, nil
}

// ChatStream opens an SSE stream of reply chunks. The stream is finite
// and single-consumer; a chunk with Err set terminates it.
func (a *HTTPAdapter) ChatStream(ctx context.Context, agentID string, messages []Message, systemPrompt string) (<-chan StreamChunk, error) {
	url := a.endpointFor(agentID) + "/chat/stream"

	body, err := json.Marshal(chatRequest{Messages: messages, SystemPrompt: systemPrompt})
	if err != nil {
		return nil, &AdapterError{AgentID: agentID, Message: "failed to marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, &AdapterError{AgentID: agentID, Message: "failed to create request", Err: err}
	}
	a.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.streamClient.Do(req)
	if err != nil {
		return nil, &AdapterError{AgentID: agentID, Message: "stream request failed", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &AdapterError{
			AgentID: agentID,
			Message: fmt.Sprintf("stream returned status %d: %s", resp.StatusCode, string(raw)),
		}
	}

	out := make(chan StreamChunk, 10)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var delta streamDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				continue
			}
			if delta.Delta == "" {
				continue
			}

			select {
			case out <- StreamChunk{Text: delta.Delta}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case out <- StreamChunk{Err: &AdapterError{AgentID: agentID, Message: "stream interrupted", Err: err}}:
			default:
			}
		}
	}()
	return out, nil
}

var _ Adapter = (*HTTPAdapter)(nil)
