package embedcache

import (
	"math"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{"simple", []float32{1, 2, 3}},
		{"negative", []float32{-1, -0.5, 0, 0.5, 1}},
		{"extremes", []float32{math.MaxFloat32, math.SmallestNonzeroFloat32, float32(math.Inf(-1))}},
		{"embedding sized", make([]float32, 1536)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeEmbedding(EncodeEmbedding(tt.vec))
			if len(got) != len(tt.vec) {
				t.Fatalf("length = %d, want %d", len(got), len(tt.vec))
			}
			for i := range tt.vec {
				if got[i] != tt.vec[i] {
					t.Errorf("index %d: got %v, want %v", i, got[i], tt.vec[i])
				}
			}
		})
	}
}

func TestDecodeEmbedding_Short(t *testing.T) {
	if DecodeEmbedding(nil) != nil {
		t.Error("expected nil for empty input")
	}
	if DecodeEmbedding([]byte{1, 2, 3}) != nil {
		t.Error("expected nil for partial float")
	}
	if got := DecodeEmbedding(make([]byte, 9)); len(got) != 2 {
		t.Errorf("expected trailing byte ignored, got %d values", len(got))
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash("nomic-embed-text", "cats")
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if a != ContentHash("nomic-embed-text", "cats") {
		t.Error("expected hash to be deterministic")
	}
	if a == ContentHash("mxbai-embed-large", "cats") {
		t.Error("expected model to change the hash")
	}
	if ContentHash("ab", "c") == ContentHash("a", "bc") {
		t.Error("expected separator between model and text")
	}
}
