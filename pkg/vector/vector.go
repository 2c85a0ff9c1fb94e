// Package vector provides the numeric vector primitives used by the
// resonance layer: dense float32 vectors with cosine similarity, and an
// optional SimHash projection onto packed binary vectors.
//
// Key components:
//   - Vector: fixed-dimension dense vector ([]float32)
//   - Dot, Norm, Cosine, Normalize, Mean: dense operations
//   - Projector: deterministic SimHash projection to BinaryVector
//   - BinaryVector: packed bit vector with Hamming similarity and bundling
package vector

import (
	"errors"
	"math"
)

// Epsilon is the norm threshold below which a vector is treated as zero.
// Cosine similarity involving a vector with norm below Epsilon is defined
// as 0 rather than NaN.
const Epsilon = 1e-10

// ErrZeroNorm is returned when an operation requires a non-zero vector.
var ErrZeroNorm = errors.New("vector has zero norm")

// ErrDimensionMismatch is returned when vectors of different dimensions
// are combined.
var ErrDimensionMismatch = errors.New("vector dimensions do not match")

// Vector is a fixed-dimension dense vector of 32-bit floats.
type Vector []float32

// Dot computes the dot product of a and b. Accumulation happens in
// float64 to limit rounding drift on long vectors. Returns 0 when the
// dimensions differ.
func Dot(a, b Vector) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm computes the L2 norm of v.
func Norm(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Cosine computes the cosine similarity between a and b.
// Defined as 0 when either norm is below Epsilon or dimensions differ,
// which keeps zero vectors deterministic instead of producing NaN.
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) {
		return 0
	}
	na := Norm(a)
	nb := Norm(b)
	if na < Epsilon || nb < Epsilon {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// Normalize returns a new L2-unit vector pointing in the direction of v.
// Returns ErrZeroNorm when the norm of v is below Epsilon.
func Normalize(v Vector) (Vector, error) {
	n := Norm(v)
	if n < Epsilon {
		return nil, ErrZeroNorm
	}
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

// Mean computes the element-wise mean of vs. All vectors must share the
// same dimension. Returns an error on an empty input or a dimension
// mismatch.
func Mean(vs []Vector) (Vector, error) {
	if len(vs) == 0 {
		return nil, errors.New("no vectors to average")
	}
	dim := len(vs[0])
	acc := make([]float64, dim)
	for _, v := range vs {
		if len(v) != dim {
			return nil, ErrDimensionMismatch
		}
		for i, x := range v {
			acc[i] += float64(x)
		}
	}
	out := make(Vector, dim)
	for i, sum := range acc {
		out[i] = float32(sum / float64(len(vs)))
	}
	return out, nil
}
