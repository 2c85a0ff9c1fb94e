package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kadirpekel/accord/pkg/vector"
)

// Global mutex to serialize embedding requests.
// Ollama's llama runner can crash with concurrent embedding requests.
var httpEmbedMu sync.Mutex

// HTTPEncoder encodes text through a remote embeddings API
// (Ollama-compatible /api/embed endpoint).
type HTTPEncoder struct {
	client    *http.Client
	baseURL   string
	model     string
	dimension int
}

// HTTPConfig configures the HTTP encoder.
type HTTPConfig struct {
	// BaseURL of the embeddings API (default: http://localhost:11434).
	BaseURL string

	// Model name (default: nomic-embed-text).
	Model string

	// Dimension of embeddings (default: 768 for nomic-embed-text).
	Dimension int

	// Timeout for API requests (default: 30s).
	Timeout time.Duration
}

// embedRequest is the request payload for the embeddings API.
// Supports both single string and array of strings for batch processing.
type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

// embedResponse is the response from the embeddings API.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPEncoder creates a remote embeddings encoder.
func NewHTTPEncoder(cfg HTTPConfig) (*HTTPEncoder, error) {
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		// Default dimensions for common models
		switch model {
		case "nomic-embed-text", "nomic-embed-text-v2":
			dimension = 768
		case "all-minilm:l6-v2":
			dimension = 384
		case "bge-small-en-v1.5":
			dimension = 384
		case "bge-large-en-v1.5":
			dimension = 1024
		default:
			dimension = 768
		}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPEncoder{
		client:    &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
	}, nil
}

// Encode converts a single text to a vector.
func (e *HTTPEncoder) Encode(ctx context.Context, text string) (vector.Vector, error) {
	vectors, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, &EncodingError{Message: "received empty embedding"}
	}
	return vectors[0], nil
}

// EncodeBatch converts multiple texts to vectors via array input.
func (e *HTTPEncoder) EncodeBatch(ctx context.Context, texts []string) ([]vector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, text := range texts {
		if err := validateInput(text); err != nil {
			return nil, err
		}
	}

	// Serialize all embedding requests to prevent runner crashes
	httpEmbedMu.Lock()
	defer httpEmbedMu.Unlock()

	slog.Debug("Embedding batch request", "model", e.model, "count", len(texts))

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	reqBody, err := json.Marshal(embedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, &EncodingError{Message: "failed to marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/embed", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &EncodingError{Message: "failed to create request", Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		slog.Error("Embedding request failed", "error", err, "model", e.model)
		return nil, &EncodingError{Message: "embeddings request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &EncodingError{Message: fmt.Sprintf("embeddings API returned status %d: %s", resp.StatusCode, string(body))}
	}

	var response embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, &EncodingError{Message: "failed to decode response", Err: err}
	}

	if len(response.Embeddings) != len(texts) {
		return nil, &EncodingError{Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(response.Embeddings))}
	}

	out := make([]vector.Vector, len(response.Embeddings))
	for i, emb := range response.Embeddings {
		v := vector.Vector(emb)
		if vector.Norm(v) < vector.Epsilon {
			return nil, &EncodingError{Message: "embedding has zero norm", Err: ErrZeroNorm}
		}
		out[i] = v
	}

	return out, nil
}

// Bundle combines multiple vectors into one.
func (e *HTTPEncoder) Bundle(vectors []vector.Vector) (vector.Vector, error) {
	return bundle(vectors)
}

// Dimension returns the embedding vector dimension.
func (e *HTTPEncoder) Dimension() int {
	return e.dimension
}

// Model returns the model name being used.
func (e *HTTPEncoder) Model() string {
	return e.model
}

// Ensure HTTPEncoder implements Encoder.
var _ Encoder = (*HTTPEncoder)(nil)
