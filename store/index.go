package store

import (
	"context"

	"resumerag/types"
)

// VectorIndex is a namespaced vector index with cosine similarity.
type VectorIndex interface {
	// EnsureIndex creates the index (dimension, cosine metric) when missing.
	EnsureIndex(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, namespace string, records []types.Record) error
	// Query returns at most topK matches of namespace with metadata, best first.
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]types.Match, error)
	DeleteNamespace(ctx context.Context, namespace string) error
	DescribeStats(ctx context.Context) (types.IndexStats, error)
	Close() error
}
