package facematch

import (
	"math"
	"testing"
)

func TestEuclideanDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"unit apart", []float32{0, 0, 0}, []float32{1, 0, 0}, 1},
		{"pythagorean", []float32{0, 0}, []float32{3, 4}, 5},
		{"negative components", []float32{-1, -1}, []float32{1, 1}, 2 * math.Sqrt2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EuclideanDistance(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("EuclideanDistance = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEuclideanDistanceSymmetric(t *testing.T) {
	a := []float32{0.1, -0.7, 0.3, 0.9}
	b := []float32{-0.2, 0.4, 0.8, -0.1}
	if EuclideanDistance(a, b) != EuclideanDistance(b, a) {
		t.Error("distance must be symmetric")
	}
}

func TestEuclideanDistanceInvalidInput(t *testing.T) {
	if !math.IsInf(EuclideanDistance([]float32{1, 2}, []float32{1}), 1) {
		t.Error("mismatched lengths must return +Inf")
	}
	if !math.IsInf(EuclideanDistance(nil, nil), 1) {
		t.Error("empty vectors must return +Inf")
	}
}
