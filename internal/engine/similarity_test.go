package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"empty a", []float64{}, []float64{1, 2, 3}, 0},
		{"nil both", nil, nil, 0},
		{"identical", []float64{1, 0}, []float64{1, 0}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 2}, []float64{-1, -2}, -1},
		{"zero norm", []float64{0, 0}, []float64{1, 1}, 0},
		{"scaled", []float64{2, 0}, []float64{5, 0}, 1},
		{"diagonal", []float64{1, 1}, []float64{1, 0}, 1 / math.Sqrt2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCosineSimilarityTinyValues(t *testing.T) {
	got := CosineSimilarity([]float64{1e-200, 0}, []float64{1e-200, 0})
	assert.False(t, math.IsNaN(got))
}
