package vector

import (
	"fmt"
	"math/bits"
	"math/rand"
)

// ============================================================================
// SIMHASH PROJECTION - DENSE TO BINARY
// ============================================================================

// BinaryVector is a packed bit vector of fixed width. Bits beyond the
// declared width are always zero.
type BinaryVector struct {
	words []uint64
	width int
}

// NewBinaryVector creates an all-zero binary vector of the given width.
func NewBinaryVector(width int) BinaryVector {
	return BinaryVector{
		words: make([]uint64, (width+63)/64),
		width: width,
	}
}

// Width returns the bit width of the vector.
func (b BinaryVector) Width() int { return b.width }

// SetBit sets bit i to 1.
func (b BinaryVector) SetBit(i int) {
	b.words[i/64] |= 1 << (uint(i) % 64)
}

// Bit reports whether bit i is set.
func (b BinaryVector) Bit(i int) bool {
	return b.words[i/64]&(1<<(uint(i)%64)) != 0
}

// HammingSimilarity computes 1 - popcount(a XOR b)/width.
// Returns 0 when the widths differ.
func HammingSimilarity(a, b BinaryVector) float64 {
	if a.width != b.width || a.width == 0 {
		return 0
	}
	var diff int
	for i := range a.words {
		diff += bits.OnesCount64(a.words[i] ^ b.words[i])
	}
	return 1 - float64(diff)/float64(a.width)
}

// Projector maps dense vectors onto binary vectors via the sign of the
// dot product with a set of random hyperplanes. Hyperplanes are drawn
// from a seeded generator so that every process produces identical
// projections for the same (inputDim, width, seed) triple.
type Projector struct {
	inputDim    int
	width       int
	seed        int64
	hyperplanes []Vector
}

// NewProjector creates a projector from inputDim-dimensional dense
// vectors to width-bit binary vectors.
func NewProjector(inputDim, width int, seed int64) (*Projector, error) {
	if inputDim <= 0 {
		return nil, fmt.Errorf("projector input dimension must be positive, got %d", inputDim)
	}
	if width <= 0 {
		return nil, fmt.Errorf("projector width must be positive, got %d", width)
	}

	rng := rand.New(rand.NewSource(seed))
	planes := make([]Vector, width)
	for i := range planes {
		plane := make(Vector, inputDim)
		for j := range plane {
			plane[j] = float32(rng.NormFloat64())
		}
		planes[i] = plane
	}

	return &Projector{
		inputDim:    inputDim,
		width:       width,
		seed:        seed,
		hyperplanes: planes,
	}, nil
}

// InputDim returns the expected dense input dimension.
func (p *Projector) InputDim() int { return p.inputDim }

// Width returns the binary output width.
func (p *Projector) Width() int { return p.width }

// Project maps v onto a binary vector. Bit i is set when the dot product
// of v with hyperplane i is non-negative.
func (p *Projector) Project(v Vector) (BinaryVector, error) {
	if len(v) != p.inputDim {
		return BinaryVector{}, fmt.Errorf("%w: projector expects %d, got %d", ErrDimensionMismatch, p.inputDim, len(v))
	}
	out := NewBinaryVector(p.width)
	for i, plane := range p.hyperplanes {
		if Dot(v, plane) >= 0 {
			out.SetBit(i)
		}
	}
	return out, nil
}

// Bundle combines binary vectors by bitwise majority vote. Ties at even
// input counts are broken by a pseudo-random bit drawn from the seeded
// generator, so bundling is deterministic for a given (inputs, seed).
// All inputs must share the same width.
func Bundle(vs []BinaryVector, seed int64) (BinaryVector, error) {
	if len(vs) == 0 {
		return BinaryVector{}, fmt.Errorf("no vectors to bundle")
	}
	width := vs[0].width
	for _, v := range vs[1:] {
		if v.width != width {
			return BinaryVector{}, ErrDimensionMismatch
		}
	}

	rng := rand.New(rand.NewSource(seed))
	out := NewBinaryVector(width)
	half := len(vs) / 2
	even := len(vs)%2 == 0
	for i := 0; i < width; i++ {
		ones := 0
		for _, v := range vs {
			if v.Bit(i) {
				ones++
			}
		}
		switch {
		case ones > half, even && ones == half && rng.Intn(2) == 1:
			out.SetBit(i)
		}
	}
	return out, nil
}
