// Package embedding maps text to vectors through a cached, batching and
// retrying client in front of an embedding Provider.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/barekit/ragchat/pkg/errdefs"
)

// Provider is an external embedding service. It returns exactly one vector
// per input text, in input order.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is an optional persistent tier behind the in-memory cache. Get
// returns (nil, nil) for unknown texts.
type Store interface {
	Get(ctx context.Context, text string) ([]float32, error)
	Put(ctx context.Context, text string, vector []float32) error
	Close() error
}

// Similarity returns the cosine similarity of a and b. It fails on vectors of
// different dimension and on zero-magnitude vectors.
func Similarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: dimension mismatch %d != %d", errdefs.ErrValidation, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("%w: similarity undefined for zero vector", errdefs.ErrValidation)
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
