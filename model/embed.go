package model

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"resumerag/types"
)

// Passages are sent to the backend in groups of this size.
const BatchSize = 10

// Embedder turns passages and queries into unit-length vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Backend is a raw embedding transport. It must return one vector per input.
type Backend interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// BatchEmbedder applies the shared normalization, batching and dimension
// check on top of a Backend.
type BatchEmbedder struct {
	backend   Backend
	dimension int
}

func NewEmbedder(backend Backend, dimension int) *BatchEmbedder {
	log.Printf("[EMBEDDER] uses %s for embeddings (dim %d)", backend.Name(), dimension)
	return &BatchEmbedder{
		backend:   backend,
		dimension: dimension,
	}
}

func (e *BatchEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *BatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += BatchSize {
		end := min(start+BatchSize, len(texts))

		batch := make([]string, 0, end-start)
		for _, t := range texts[start:end] {
			n := NormalizeText(t)
			if n == "" {
				return nil, &types.EmbeddingError{Err: errors.New("empty text")}
			}
			batch = append(batch, n)
		}

		vecs, err := e.backend.EmbedTexts(ctx, batch)
		if err != nil {
			return nil, &types.EmbeddingError{Err: err}
		}
		if len(vecs) != len(batch) {
			return nil, &types.EmbeddingError{Err: fmt.Errorf("backend returned %d vectors for %d inputs", len(vecs), len(batch))}
		}
		for _, v := range vecs {
			if len(v) != e.dimension {
				return nil, &types.EmbeddingError{Err: fmt.Errorf("dimension mismatch: got %d, want %d", len(v), e.dimension)}
			}
			out = append(out, normalize(v))
		}
	}
	return out, nil
}

// NormalizeText collapses whitespace runs and trims the ends.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// normalize scales vec to unit length in place.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i, x := range vec {
		vec[i] = float32(float64(x) / norm)
	}
	return vec
}
