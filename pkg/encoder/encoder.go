// Package encoder turns demand and profile text into vectors.
//
// Key components:
//   - Encoder: the text-to-vector contract shared by all implementations
//   - SimHashEncoder: deterministic local encoding via seeded token hashing
//   - HTTPEncoder: remote embeddings API (Ollama-compatible)
//
// Encoders are safe for concurrent use; the engine encodes participant
// profiles in parallel during matching.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kadirpekel/accord/pkg/vector"
)

// Common encoding errors.
var (
	// ErrEmptyInput is returned for empty or whitespace-only text.
	ErrEmptyInput = errors.New("empty input")

	// ErrZeroNorm is returned when encoding produces a zero-norm vector.
	ErrZeroNorm = errors.New("zero-norm vector")
)

// EncodingError reports a failed encoding.
type EncodingError struct {
	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error returns the error message.
func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoding failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("encoding failed: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *EncodingError) Unwrap() error {
	return e.Err
}

// IsEncodingError checks if an error is an encoding error.
func IsEncodingError(err error) bool {
	if err == nil {
		return false
	}
	var ee *EncodingError
	return errors.As(err, &ee)
}

// Encoder converts text to vectors.
//
// Implementations must be safe for concurrent use.
type Encoder interface {
	// Encode converts a single text to a vector.
	// Fails with *EncodingError on empty/whitespace input or zero-norm output.
	Encode(ctx context.Context, text string) (vector.Vector, error)

	// EncodeBatch converts multiple texts to vectors.
	// The same preconditions apply element-wise; one bad element fails the batch.
	EncodeBatch(ctx context.Context, texts []string) ([]vector.Vector, error)

	// Bundle combines multiple vectors into one: mean, then L2-normalize.
	// Fails when the mean vector has near-zero norm.
	Bundle(vectors []vector.Vector) (vector.Vector, error)

	// Dimension returns the produced vector dimension.
	Dimension() int
}

// bundle is the shared mean-then-normalize implementation.
func bundle(vs []vector.Vector) (vector.Vector, error) {
	if len(vs) == 0 {
		return nil, &EncodingError{Message: "no vectors to bundle", Err: ErrEmptyInput}
	}

	mean, err := vector.Mean(vs)
	if err != nil {
		return nil, &EncodingError{Message: "mean failed", Err: err}
	}

	normalized, err := vector.Normalize(mean)
	if err != nil {
		return nil, &EncodingError{Message: "bundle collapsed to zero norm", Err: ErrZeroNorm}
	}

	return normalized, nil
}

// validateInput rejects empty or whitespace-only text.
func validateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return &EncodingError{Message: "input is empty or whitespace", Err: ErrEmptyInput}
	}
	return nil
}
