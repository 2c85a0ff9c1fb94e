// Package mcptoolset exposes tools from an MCP server as center tool
// handlers.
//
// MCP (Model Context Protocol) servers publish tools over a
// standardized JSON-RPC protocol. The toolset connects lazily: the
// server is contacted the first time its handlers are requested.
//
// Transport support:
//   - stdio: subprocess communication via the mcp-go client
//   - http: JSON-RPC over Accord's retrying httpclient, including
//     event-stream responses from streamable HTTP servers
//
// Remote tools see only their arguments; the negotiation session and
// engine context never cross the process boundary.
package mcptoolset

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/accord"
	"github.com/kadirpekel/accord/pkg/config"
	"github.com/kadirpekel/accord/pkg/httpclient"
	"github.com/kadirpekel/accord/pkg/session"
	"github.com/kadirpekel/accord/pkg/tools"
)

const (
	// mcpProtocolVersion is the MCP protocol revision spoken here.
	mcpProtocolVersion = "2024-11-05"

	// defaultSSEResponseTimeout bounds reading an event-stream reply.
	// Long enough for slow remote tools.
	defaultSSEResponseTimeout = 5 * time.Minute

	defaultMaxRetries = 3
)

// Toolset is one MCP server's tool surface with lazy initialization.
// Exposed tool names are prefixed with the server name.
type Toolset struct {
	cfg config.MCPServerConfig

	mu         sync.Mutex
	client     *client.Client     // stdio transport
	httpClient *httpclient.Client // http transport
	sessionID  string             // streamable-http session
	sessionMu  sync.RWMutex
	handlers   []tools.Handler
	connected  bool

	sseTimeout time.Duration
}

// New creates a toolset for one configured MCP server.
func New(cfg config.MCPServerConfig) (*Toolset, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcp toolset requires a name")
	}
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("mcp toolset %q: either url or command is required", cfg.Name)
	}
	return &Toolset{
		cfg:        cfg,
		sseTimeout: defaultSSEResponseTimeout,
	}, nil
}

// Name returns the toolset name.
func (t *Toolset) Name() string {
	return t.cfg.Name
}

// Handlers returns the server's tools as center tool handlers,
// connecting on first use.
func (t *Toolset) Handlers(ctx context.Context) ([]tools.Handler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to MCP server %q: %w", t.cfg.Name, err)
		}
	}

	return t.handlers, nil
}

// Apply registers every remote tool on the registry. Called during
// engine assembly, before the registry freezes.
func (t *Toolset) Apply(ctx context.Context, reg *tools.Registry) error {
	handlers, err := t.Handlers(ctx)
	if err != nil {
		return err
	}
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// connect establishes the MCP connection for the configured transport.
func (t *Toolset) connect(ctx context.Context) error {
	if t.cfg.Command != "" || t.cfg.Transport == config.MCPTransportStdio {
		return t.connectStdio(ctx)
	}
	return t.connectHTTP(ctx)
}

// connectStdio launches the server subprocess through mcp-go.
func (t *Toolset) connectStdio(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(t.cfg.Command, nil, t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "accord",
		Version: accord.Version,
	}
	initReq.Params.ProtocolVersion = mcpProtocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	var handlers []tools.Handler
	for _, mcpTool := range listResp.Tools {
		handlers = append(handlers, &mcpHandler{
			toolset:  t,
			name:     t.publicName(mcpTool.Name),
			remote:   mcpTool.Name,
			desc:     mcpTool.Description,
			schema:   convertSchema(mcpTool.InputSchema),
			useStdio: true,
		})
	}

	t.client = mcpClient
	t.handlers = handlers
	t.connected = true

	slog.Info("Connected to MCP server (stdio)",
		"name", t.cfg.Name,
		"command", t.cfg.Command,
		"tools", len(handlers),
	)

	return nil
}

// connectHTTP initializes the server over JSON-RPC HTTP.
func (t *Toolset) connectHTTP(ctx context.Context) error {
	t.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(defaultMaxRetries),
		httpclient.WithBaseDelay(2*time.Second),
	)

	initResp, err := t.makeHTTPRequest(ctx, "initialize", map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"clientInfo": map[string]any{
			"name":    "accord",
			"version": accord.Version,
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("MCP init error: %s", initResp.Error.Message)
	}

	listResp, err := t.makeHTTPRequest(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("MCP list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected result type from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("missing tools in tools/list response")
	}

	var handlers []tools.Handler
	for _, toolRaw := range toolsList {
		toolMap, ok := toolRaw.(map[string]any)
		if !ok {
			continue
		}

		name, _ := toolMap["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := toolMap["description"].(string)

		var schema map[string]any
		if inputSchema, ok := toolMap["inputSchema"].(map[string]any); ok {
			schema = inputSchema
		}

		handlers = append(handlers, &mcpHandler{
			toolset:  t,
			name:     t.publicName(name),
			remote:   name,
			desc:     desc,
			schema:   schema,
			useStdio: false,
		})
	}

	t.handlers = handlers
	t.connected = true

	slog.Info("Connected to MCP server (HTTP)",
		"name", t.cfg.Name,
		"url", t.cfg.URL,
		"tools", len(handlers),
	)

	return nil
}

// publicName prefixes a remote tool name with the server name so tools
// from different servers cannot collide in the registry.
func (t *Toolset) publicName(remote string) string {
	return fmt.Sprintf("%s_%s", t.cfg.Name, remote)
}

// JSON-RPC types
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// makeHTTPRequest sends a JSON-RPC request over HTTP with retry and
// backoff handled by the shared httpclient.
func (t *Toolset) makeHTTPRequest(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", t.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	t.sessionMu.RLock()
	sessionID := t.sessionID
	t.sessionMu.RUnlock()
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if httpResp != nil {
			httpResp.Body.Close()
		}
		slog.Debug("MCP HTTP request failed",
			"source", t.cfg.Name,
			"method", method,
			"error", err.Error())
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if newSessionID := httpResp.Header.Get("mcp-session-id"); newSessionID != "" {
		t.sessionMu.Lock()
		t.sessionID = newSessionID
		t.sessionMu.Unlock()
	}

	if httpResp.StatusCode != http.StatusOK {
		responseBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, fmt.Errorf("HTTP error %d: %s (response: %s)", httpResp.StatusCode, httpResp.Status, string(responseBody))
	}

	// Streamable HTTP servers may answer as an event stream.
	contentType := httpResp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		return t.readSSEResponse(httpResp)
	}

	defer httpResp.Body.Close()
	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(responseBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &resp, nil
}

// readSSEResponse reads the first complete JSON-RPC response from an
// SSE stream.
func (t *Toolset) readSSEResponse(httpResp *http.Response) (*jsonRPCResponse, error) {
	type result struct {
		response *jsonRPCResponse
		err      error
	}
	resultChan := make(chan result, 1)

	go func() {
		defer httpResp.Body.Close()

		reader := bufio.NewReader(httpResp.Body)
		var currentData strings.Builder

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					slog.Debug("MCP SSE read error", "source", t.cfg.Name, "error", err)
				}
				break
			}

			lineStr := strings.TrimSpace(string(line))

			// Empty line ends one event.
			if lineStr == "" {
				if currentData.Len() > 0 {
					var resp jsonRPCResponse
					if parseErr := json.Unmarshal([]byte(currentData.String()), &resp); parseErr == nil {
						resultChan <- result{response: &resp}
						return
					}
					currentData.Reset()
				}
				continue
			}

			if strings.HasPrefix(lineStr, "data:") {
				currentData.WriteString(strings.TrimSpace(strings.TrimPrefix(lineStr, "data:")))
			}
		}

		if currentData.Len() > 0 {
			var resp jsonRPCResponse
			if parseErr := json.Unmarshal([]byte(currentData.String()), &resp); parseErr == nil {
				resultChan <- result{response: &resp}
				return
			}
		}

		resultChan <- result{err: fmt.Errorf("SSE stream ended without complete message")}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			return nil, res.err
		}
		return res.response, nil
	case <-time.After(t.sseTimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", t.sseTimeout)
	}
}

// Close shuts down the MCP connection.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		t.connected = false
		t.handlers = nil
		return err
	}
	t.httpClient = nil
	t.connected = false
	t.handlers = nil
	return nil
}

// mcpHandler adapts one remote MCP tool to the center handler contract.
type mcpHandler struct {
	toolset  *Toolset
	name     string
	remote   string
	desc     string
	schema   map[string]any
	useStdio bool
}

func (h *mcpHandler) Name() string        { return h.name }
func (h *mcpHandler) Description() string { return h.desc }

func (h *mcpHandler) InputSchema() map[string]any {
	if h.schema == nil {
		return map[string]any{"type": "object"}
	}
	return h.schema
}

func (h *mcpHandler) Handle(ctx context.Context, sess *session.Session, args map[string]any, ec tools.EngineContext) (map[string]any, error) {
	if h.useStdio {
		return h.callStdio(ctx, args)
	}
	return h.callHTTP(ctx, args)
}

// callStdio executes the tool via the mcp-go client.
func (h *mcpHandler) callStdio(ctx context.Context, args map[string]any) (map[string]any, error) {
	h.toolset.mu.Lock()
	mcpClient := h.toolset.client
	h.toolset.mu.Unlock()

	if mcpClient == nil {
		return nil, fmt.Errorf("MCP client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = h.remote
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call failed: %w", err)
	}

	return parseToolResponse(resp), nil
}

// callHTTP executes the tool via JSON-RPC HTTP.
func (h *mcpHandler) callHTTP(ctx context.Context, args map[string]any) (map[string]any, error) {
	resp, err := h.toolset.makeHTTPRequest(ctx, "tools/call", map[string]any{
		"name":      h.remote,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("MCP call failed: %w", err)
	}

	if resp.Error != nil {
		return map[string]any{"error": resp.Error.Message}, nil
	}

	result := make(map[string]any)
	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		result["result"] = resp.Result
		return result, nil
	}

	if isError, _ := resultMap["isError"].(bool); isError {
		if content, ok := resultMap["content"].([]any); ok {
			for _, c := range content {
				if cm, ok := c.(map[string]any); ok {
					if text, ok := cm["text"].(string); ok {
						result["error"] = text
						break
					}
				}
			}
		}
		if result["error"] == nil {
			result["error"] = "unknown error"
		}
		return result, nil
	}

	if content, ok := resultMap["content"].([]any); ok {
		var texts []string
		for _, c := range content {
			if cm, ok := c.(map[string]any); ok {
				if cm["type"] == "text" {
					if text, ok := cm["text"].(string); ok {
						texts = append(texts, text)
					}
				}
			}
		}
		if len(texts) == 1 {
			result["result"] = texts[0]
		} else if len(texts) > 1 {
			result["results"] = texts
		}
	}

	return result, nil
}

// parseToolResponse flattens an mcp-go tool result into an artifact.
func parseToolResponse(resp *mcp.CallToolResult) map[string]any {
	result := make(map[string]any)
	if resp.IsError {
		for _, content := range resp.Content {
			if textContent, ok := content.(mcp.TextContent); ok {
				result["error"] = textContent.Text
				break
			}
		}
		if result["error"] == nil {
			result["error"] = "unknown error"
		}
		return result
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	if len(texts) == 1 {
		result["result"] = texts[0]
	} else if len(texts) > 1 {
		result["results"] = texts
	}

	return result
}

// convertSchema converts an MCP tool schema to a plain map.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}

	return result
}

var _ tools.Handler = (*mcpHandler)(nil)
