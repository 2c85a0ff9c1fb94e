package encoder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newEmbedServer(t *testing.T, embeddings [][]float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: embeddings})
	}))
}

func TestHTTPEncoder_Encode(t *testing.T) {
	server := newEmbedServer(t, [][]float32{{0.6, 0.8}})
	defer server.Close()

	enc, err := NewHTTPEncoder(HTTPConfig{BaseURL: server.URL, Model: "test-model", Dimension: 2})
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}

	v, err := enc.Encode(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(v) != 2 || v[0] != 0.6 || v[1] != 0.8 {
		t.Errorf("unexpected vector %v", v)
	}
}

func TestHTTPEncoder_BatchCountMismatch(t *testing.T) {
	server := newEmbedServer(t, [][]float32{{1, 0}})
	defer server.Close()

	enc, _ := NewHTTPEncoder(HTTPConfig{BaseURL: server.URL, Dimension: 2})

	_, err := enc.EncodeBatch(context.Background(), []string{"one", "two"})
	if err == nil {
		t.Fatal("expected error for embedding count mismatch")
	}
	if !IsEncodingError(err) {
		t.Errorf("expected EncodingError, got %T", err)
	}
}

func TestHTTPEncoder_ZeroNormEmbedding(t *testing.T) {
	server := newEmbedServer(t, [][]float32{{0, 0}})
	defer server.Close()

	enc, _ := NewHTTPEncoder(HTTPConfig{BaseURL: server.URL, Dimension: 2})

	_, err := enc.Encode(context.Background(), "void")
	if err == nil {
		t.Fatal("expected error for zero-norm embedding")
	}
}

func TestHTTPEncoder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	enc, _ := NewHTTPEncoder(HTTPConfig{BaseURL: server.URL})

	_, err := enc.Encode(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error for server failure")
	}
	if !IsEncodingError(err) {
		t.Errorf("expected EncodingError, got %T", err)
	}
}

func TestHTTPEncoder_EmptyInputRejectedLocally(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	enc, _ := NewHTTPEncoder(HTTPConfig{BaseURL: server.URL})

	if _, err := enc.Encode(context.Background(), "  "); err == nil {
		t.Fatal("expected error for whitespace input")
	}
	if called {
		t.Error("whitespace input should be rejected before any request")
	}
}

func TestHTTPEncoder_ModelDefaults(t *testing.T) {
	enc, err := NewHTTPEncoder(HTTPConfig{})
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}
	if enc.Model() != "nomic-embed-text" {
		t.Errorf("expected default model, got %q", enc.Model())
	}
	if enc.Dimension() != 768 {
		t.Errorf("expected default dimension 768, got %d", enc.Dimension())
	}
}
