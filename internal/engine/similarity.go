package engine

import "math"

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 when either vector is empty or has zero norm. Vectors of
// different length are compared over their common prefix; callers are
// expected to pass commensurate vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}

	normA := norm(a)
	normB := norm(b)
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (normA * normB)
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}

func norm(vec []float64) float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	return math.Sqrt(sum)
}
