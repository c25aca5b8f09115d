package similarity

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidWeights is returned when weights are negative, non-finite or all zero.
var ErrInvalidWeights = errors.New("invalid weights")

// Weights sets the relative importance of the three cluster signals.
// Values need not sum to 1; Normalize rescales them.
type Weights struct {
	Description float64 `yaml:"description" json:"description"`
	Keywords    float64 `yaml:"keywords" json:"keywords"`
	Mood        float64 `yaml:"mood" json:"mood"`
}

// DefaultWeights favours semantic description similarity.
var DefaultWeights = Weights{Description: 0.6, Keywords: 0.3, Mood: 0.1}

// Normalize returns w rescaled to sum to 1.
func (w Weights) Normalize() (Weights, error) {
	for name, v := range map[string]float64{
		"description": w.Description,
		"keywords":    w.Keywords,
		"mood":        w.Mood,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Weights{}, fmt.Errorf("%w: %s weight %v", ErrInvalidWeights, name, v)
		}
	}

	sum := w.Description + w.Keywords + w.Mood
	if sum == 0 {
		return Weights{}, fmt.Errorf("%w: all weights are zero", ErrInvalidWeights)
	}

	return Weights{
		Description: w.Description / sum,
		Keywords:    w.Keywords / sum,
		Mood:        w.Mood / sum,
	}, nil
}

// Combine returns the weighted average of the three signals, clamped to [0, 1].
// w must already be normalized.
func (w Weights) Combine(description, keywords, mood float64) float64 {
	return Clamp01(w.Description*description + w.Keywords*keywords + w.Mood*mood)
}

// Clamp01 limits v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
