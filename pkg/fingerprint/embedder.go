// Package fingerprint derives the SimHash, embedding, tool-schema hash,
// mode, temperature bucket, and model family that together identify a
// request for cache lookup.
package fingerprint

import (
	"context"
	"math"
)

// Embedder is the injected vector-embedding collaborator. The core treats
// it as an external dependency wrapped by a circuit breaker; it never
// trains or hosts a model itself.
type Embedder interface {
	// Embed returns a vector for text. The core L2-normalizes the result
	// if the embedder has not already done so.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dim returns the fixed dimensionality of vectors this embedder
	// produces. It must be runtime-invariant after start-up.
	Dim() int
	// Ready reports whether the embedder is currently able to serve
	// requests, independent of the circuit breaker's own state.
	Ready() bool
}

// Normalize scales v to unit L2 norm in place and returns it. A zero vector
// is returned unchanged.
func Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
	return v
}

// CosineSimilarity returns the cosine similarity of two equal-length
// vectors, or 0 if either is a zero vector.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
