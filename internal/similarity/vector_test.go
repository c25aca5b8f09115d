package similarity

import (
	"errors"
	"math"
	"testing"
)

func TestCosineSimilarity_IdenticalVectors(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5}
	score, err := CosineSimilarity(a, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(score-1.0) > 1e-9 {
		t.Errorf("expected ~1.0 for identical vectors, got %f", score)
	}
}

func TestCosineSimilarity_OppositeVectors(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-1, -2, -3}
	score, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(score+1.0) > 1e-9 {
		t.Errorf("expected ~-1.0 for opposite vectors, got %f", score)
	}
}

func TestCosineSimilarity_OrthogonalVectors(t *testing.T) {
	score, err := CosineSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(score) > 1e-9 {
		t.Errorf("expected ~0.0 for orthogonal vectors, got %f", score)
	}
}

func TestCosineSimilarity_KnownPair(t *testing.T) {
	// cos(45°) ≈ 0.7071
	score, err := CosineSimilarity([]float32{1, 0}, []float32{1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(score-1.0/math.Sqrt(2.0)) > 1e-6 {
		t.Errorf("expected ~0.7071, got %f", score)
	}
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
	}{
		{"zero a", []float32{0, 0, 0}, []float32{1, 2, 3}},
		{"zero b", []float32{1, 2, 3}, []float32{0, 0, 0}},
		{"both empty", []float32{}, []float32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if score != 0 {
				t.Errorf("expected 0, got %f", score)
			}
		})
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2})
	if err == nil {
		t.Fatal("expected error for dimension mismatch")
	}
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestValidateVector(t *testing.T) {
	tests := []struct {
		name    string
		v       []float32
		wantErr bool
	}{
		{"usable", []float32{0.1, 0, 0.3}, false},
		{"empty", nil, true},
		{"all zero", []float32{0, 0, 0}, true},
		{"nan", []float32{1, float32(math.NaN())}, true},
		{"inf", []float32{float32(math.Inf(1)), 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVector(tt.v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateVector() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnusableVector) {
				t.Errorf("expected ErrUnusableVector, got %v", err)
			}
		})
	}
}
