package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumerag/config"
)

func TestNewLocalContainer(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := &config.Config{
		Vector:   config.VectorConfig{Backend: "memory"},
		Catalog:  config.CatalogConfig{Backend: "sqlite", Path: filepath.Join(dir, "catalog.db")},
		Embedder: "hash",
		LLM:      config.LLMConfig{URL: "http://127.0.0.1:1/api/generate", Model: "test", MaxRetries: 1},
		Chunk:    config.ChunkConfig{Size: 500, Overlap: 50},
		RAG:      config.RAGConfig{TopK: 5, ScoreThreshold: 0.1, SessionTTL: time.Minute, MaxSessions: 2},
	}

	c, err := New(ctx, cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, c.Close(ctx)) }()

	for _, id := range []string{"a", "b", "c"} {
		c.Sessions.Get(id)
	}
	assert.Equal(t, 2, c.Sessions.Len())

	path := filepath.Join(dir, "jane.txt")
	require.NoError(t, os.WriteFile(path, []byte("Jane Doe\n\nSKILLS\nGo, Kubernetes\n"), 0o644))

	doc, err := c.Indexer.IndexFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "jane.txt", doc.Filename)

	res, err := c.Retriever.Search(ctx, "Go Kubernetes", 5)
	require.NoError(t, err)
	assert.True(t, res.Found())
}

func TestNewRejectsUnreachablePostgres(t *testing.T) {
	cfg := &config.Config{
		Vector:  config.VectorConfig{Backend: "pgvector"},
		Catalog: config.CatalogConfig{Backend: "postgres"},
		PG:      config.PGConfig{Host: "127.0.0.1", Port: 1, User: "u", DBName: "db", Table: "t"},
	}
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
