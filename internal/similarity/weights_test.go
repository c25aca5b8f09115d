package similarity

import (
	"errors"
	"math"
	"testing"
)

func TestWeights_Normalize(t *testing.T) {
	w, err := Weights{Description: 6, Keywords: 3, Mood: 1}.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(w.Description-0.6) > 1e-9 || math.Abs(w.Keywords-0.3) > 1e-9 || math.Abs(w.Mood-0.1) > 1e-9 {
		t.Errorf("unexpected normalized weights: %+v", w)
	}
}

func TestWeights_NormalizeInvalid(t *testing.T) {
	tests := []struct {
		name string
		w    Weights
	}{
		{"all zero", Weights{}},
		{"negative", Weights{Description: -1, Keywords: 1}},
		{"nan", Weights{Description: math.NaN(), Keywords: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.w.Normalize()
			if !errors.Is(err, ErrInvalidWeights) {
				t.Errorf("expected ErrInvalidWeights, got %v", err)
			}
		})
	}
}

func TestWeights_CombineClamps(t *testing.T) {
	w, _ := DefaultWeights.Normalize()
	if got := w.Combine(1, 1, 1); math.Abs(got-1) > 1e-9 {
		t.Errorf("expected 1 for maximal signals, got %f", got)
	}
	if got := w.Combine(-1, 0, 0); got != 0 {
		t.Errorf("expected negative combination clamped to 0, got %f", got)
	}
}

func TestClamp01(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-0.5, 0}, {0.25, 0.25}, {1.5, 1}, {math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := Clamp01(tt.in); got != tt.want {
			t.Errorf("Clamp01(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
