package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumerag/types"
)

type countingBackend struct {
	inner Backend
	calls [][]string
}

func (c *countingBackend) Name() string { return "counting" }

func (c *countingBackend) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, append([]string(nil), texts...))
	return c.inner.EmbedTexts(ctx, texts)
}

type fixedBackend struct {
	vec []float32
	err error
}

func (f fixedBackend) Name() string { return "fixed" }

func (f fixedBackend) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = append([]float32(nil), f.vec...)
	}
	return out, nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestEmbedDeterministicAndNormalized(t *testing.T) {
	e := NewEmbedder(NewHashEmbedder(types.Dimension), types.Dimension)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Senior Go engineer at Acme")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "  Senior   Go engineer\nat Acme ")
	require.NoError(t, err)

	assert.Len(t, a, types.Dimension)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, norm(a), 1e-5)
}

func TestEmbedBatchMatchesSingle(t *testing.T) {
	counting := &countingBackend{inner: NewHashEmbedder(types.Dimension)}
	e := NewEmbedder(counting, types.Dimension)
	ctx := context.Background()

	texts := make([]string, 23)
	for i := range texts {
		texts[i] = fmt.Sprintf("passage number %d about kubernetes", i)
	}
	vecs, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	require.Len(t, counting.calls, 3)
	assert.Len(t, counting.calls[0], 10)
	assert.Len(t, counting.calls[2], 3)

	single, err := e.Embed(ctx, texts[17])
	require.NoError(t, err)
	assert.Equal(t, single, vecs[17])
}

func TestEmbedDimensionMismatch(t *testing.T) {
	e := NewEmbedder(fixedBackend{vec: []float32{1, 2, 3}}, types.Dimension)
	_, err := e.Embed(context.Background(), "x")

	var embErr *types.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestEmbedBackendFailure(t *testing.T) {
	e := NewEmbedder(fixedBackend{err: errors.New("connection refused")}, types.Dimension)
	_, err := e.Embed(context.Background(), "x")

	var embErr *types.EmbeddingError
	assert.ErrorAs(t, err, &embErr)
}

func TestEmbedEmptyText(t *testing.T) {
	e := NewEmbedder(NewHashEmbedder(types.Dimension), types.Dimension)
	_, err := e.Embed(context.Background(), "   \n ")
	var embErr *types.EmbeddingError
	assert.ErrorAs(t, err, &embErr)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OllamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)

		resp := OllamaEmbeddingResponse{}
		for range req.Input {
			v := make([]float64, types.Dimension)
			v[0] = 3
			v[1] = 4
			resp.Embeddings = append(resp.Embeddings, v)
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewEmbedder(NewOllamaEmbedder(srv.URL, "all-minilm"), types.Dimension)
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 0.6, vecs[0][0], 1e-6)
	assert.InDelta(t, 0.8, vecs[0][1], 1e-6)
}

func TestOllamaEmbedderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "x").EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "status 404")
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "sys", req.System)
		json.NewEncoder(w).Encode(GenerateResponse{Response: "Go and Rust", Done: true})
	}))
	defer srv.Close()

	llm := NewOllama(srv.URL, "", "llama", 1, 5*time.Second)
	out, err := llm.Generate(context.Background(), "sys", "what languages?")
	require.NoError(t, err)
	assert.Equal(t, "Go and Rust", out)
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, `{"response":"part one ","done":false}`)
		fmt.Fprintln(w, `{"response":"part two","done":true}`)
	}))
	defer srv.Close()

	llm := NewOllama(srv.URL, "", "llama", 3, 5*time.Second)
	out, err := llm.Generate(context.Background(), "", "q")
	require.NoError(t, err)
	assert.Equal(t, "part one part two", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	llm := NewOllama(srv.URL, "", "llama", 3, 5*time.Second)
	_, err := llm.Generate(context.Background(), "", "q")
	assert.ErrorContains(t, err, "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		require.Len(t, req.Messages, 2)
		for _, part := range []string{"Hel", "lo", "!"} {
			b, _ := json.Marshal(ChatResponse{Message: ChatMessage{Role: "assistant", Content: part}})
			fmt.Fprintln(w, string(b))
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	llm := NewOllama("", srv.URL, "llama", 2, 5*time.Second)
	var parts []string
	out, err := llm.StreamChat(context.Background(), []ChatMessage{
		{Role: "system", Content: "s"},
		{Role: "user", Content: "hi"},
	}, func(s string) error {
		parts = append(parts, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", out)
	assert.Equal(t, []string{"Hel", "lo", "!"}, parts)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, 3, func() (string, error) { return "ok", nil })
	assert.ErrorIs(t, err, context.Canceled)
}
