package encoder

import (
	"context"
	"hash/fnv"
	"math/rand"
	"strings"
	"unicode"

	"github.com/kadirpekel/accord/pkg/vector"
)

// SimHashEncoder encodes text locally by summing seeded token vectors.
//
// Each token maps to a deterministic pseudo-random gaussian vector derived
// from its hash and the encoder seed; the text vector is the normalized sum.
// Same text, same seed, same vector - across processes and platforms.
type SimHashEncoder struct {
	dimension int
	seed      int64
}

// NewSimHashEncoder creates a deterministic local encoder.
func NewSimHashEncoder(dimension int, seed int64) (*SimHashEncoder, error) {
	if dimension <= 0 {
		return nil, &EncodingError{Message: "dimension must be positive"}
	}
	return &SimHashEncoder{dimension: dimension, seed: seed}, nil
}

// Encode converts a single text to a vector.
func (e *SimHashEncoder) Encode(ctx context.Context, text string) (vector.Vector, error) {
	if err := validateInput(text); err != nil {
		return nil, err
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, &EncodingError{Message: "no tokens in input", Err: ErrEmptyInput}
	}

	sum := make([]float64, e.dimension)
	for token, count := range tokens {
		rng := rand.New(rand.NewSource(e.tokenSeed(token)))
		for i := 0; i < e.dimension; i++ {
			sum[i] += rng.NormFloat64() * float64(count)
		}
	}

	out := make(vector.Vector, e.dimension)
	for i, v := range sum {
		out[i] = float32(v)
	}

	normalized, err := vector.Normalize(out)
	if err != nil {
		return nil, &EncodingError{Message: "encoded vector has zero norm", Err: ErrZeroNorm}
	}
	return normalized, nil
}

// EncodeBatch converts multiple texts to vectors.
func (e *SimHashEncoder) EncodeBatch(ctx context.Context, texts []string) ([]vector.Vector, error) {
	out := make([]vector.Vector, 0, len(texts))
	for _, text := range texts {
		v, err := e.Encode(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Bundle combines multiple vectors into one.
func (e *SimHashEncoder) Bundle(vectors []vector.Vector) (vector.Vector, error) {
	return bundle(vectors)
}

// Dimension returns the produced vector dimension.
func (e *SimHashEncoder) Dimension() int {
	return e.dimension
}

// tokenSeed derives a per-token PRNG seed from the token hash and the
// encoder seed.
func (e *SimHashEncoder) tokenSeed(token string) int64 {
	h := fnv.New64a()
	h.Write([]byte(token))
	return int64(h.Sum64()) ^ e.seed
}

// tokenize lowercases and splits on non-letter/digit runes, returning
// token counts.
func tokenize(text string) map[string]int {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	counts := make(map[string]int, len(fields))
	for _, f := range fields {
		counts[f]++
	}
	return counts
}

// Ensure SimHashEncoder implements Encoder.
var _ Encoder = (*SimHashEncoder)(nil)
