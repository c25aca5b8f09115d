package similarity

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDimensionMismatch is returned when two embeddings of different length are compared.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrUnusableVector is returned by ValidateVector for empty, all-zero or non-finite vectors.
	ErrUnusableVector = errors.New("unusable vector")
)

// CosineSimilarity computes the cosine similarity between two float32 vectors.
// Returns 0 when either vector has zero magnitude, and ErrDimensionMismatch
// if the lengths differ.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	if len(a) == 0 {
		return 0, nil
	}

	var dot, normA, normB float64
	for i := range a {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	cos := dot / math.Sqrt(normA*normB)
	// Rounding can push identical vectors a hair past 1.
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return cos, nil
}

// ValidateVector reports whether v can be used as an embedding.
func ValidateVector(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty", ErrUnusableVector)
	}
	nonZero := false
	for i, f := range v {
		x := float64(f)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: non-finite value at %d", ErrUnusableVector, i)
		}
		if f != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return fmt.Errorf("%w: zero magnitude", ErrUnusableVector)
	}
	return nil
}
