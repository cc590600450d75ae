package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumerag/observability"
	"resumerag/types"
)

type fixedEmbedder struct {
	err error
}

func (f fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type fakeSource struct {
	matches  map[string][]types.Match
	failing  map[string]bool
	sections []string
}

func (f *fakeSource) ListNamespaces(ctx context.Context) ([]string, error) {
	var out []string
	for ns := range f.matches {
		out = append(out, ns)
	}
	for ns := range f.failing {
		out = append(out, ns)
	}
	return out, nil
}

func (f *fakeSource) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]types.Match, error) {
	if f.failing[namespace] {
		return nil, errors.New("namespace unavailable")
	}
	m := f.matches[namespace]
	if len(m) > topK {
		m = m[:topK]
	}
	return append([]types.Match(nil), m...), nil
}

func (f *fakeSource) Sections(ctx context.Context) ([]string, error) {
	return f.sections, nil
}

type staticSelector []string

func (s staticSelector) RelevantSections(ctx context.Context, query string, catalog []string) []string {
	return s
}

func match(id, text, section string, score float64, start bool) types.Match {
	return types.Match{
		ID:    id,
		Score: score,
		Metadata: map[string]any{
			"text":          text,
			"section":       section,
			"section_start": start,
			"chunk_index":   0,
		},
	}
}

func ids(matches []types.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ID
	}
	return out
}

func TestSearchNoDocuments(t *testing.T) {
	metrics := observability.NewMetrics("test")
	r := NewRetriever(fixedEmbedder{}, &fakeSource{}, WithMetrics(metrics))

	res, err := r.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, types.NoDocuments, res.Empty)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EmptyRetrievals().WithLabelValues("no_documents")))
}

func TestSearchMergesAndTruncates(t *testing.T) {
	src := &fakeSource{matches: map[string][]types.Match{
		"document_0": {
			match("a", "alpha", "", 0.9, false),
			match("b", "beta", "", 0.5, false),
			match("c", "gamma", "", 0.3, false),
		},
		"document_1": {
			match("d", "delta", "", 0.8, false),
			match("e", "epsilon", "", 0.7, false),
			match("f", "zeta", "", 0.6, false),
			match("g", "eta", "", 0.4, false),
		},
	}}
	r := NewRetriever(fixedEmbedder{}, src)

	res, err := r.Search(context.Background(), "unrelated words", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d", "e", "f", "b"}, ids(res.Matches))
	for i := 1; i < len(res.Matches); i++ {
		assert.GreaterOrEqual(t, res.Matches[i-1].Score, res.Matches[i].Score)
	}
}

func TestSearchThresholdIsExclusive(t *testing.T) {
	src := &fakeSource{matches: map[string][]types.Match{
		"document_0": {
			match("at", "x", "", 0.1, false),
			match("above", "y", "", 0.1001, false),
		},
	}}
	r := NewRetriever(fixedEmbedder{}, src)

	res, err := r.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"above"}, ids(res.Matches))

	src.matches["document_0"] = []types.Match{match("at", "x", "", 0.1, false)}
	res, err = r.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, types.BelowThreshold, res.Empty)
}

func TestSearchNoMatches(t *testing.T) {
	src := &fakeSource{matches: map[string][]types.Match{"document_0": nil}}
	r := NewRetriever(fixedEmbedder{}, src)

	res, err := r.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, types.NoMatches, res.Empty)
}

func TestSearchSkipsFailingNamespace(t *testing.T) {
	src := &fakeSource{
		matches: map[string][]types.Match{"document_0": {match("a", "x", "", 0.5, false)}},
		failing: map[string]bool{"document_1": true},
	}
	r := NewRetriever(fixedEmbedder{}, src)

	res, err := r.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(res.Matches))
}

func TestSearchAllNamespacesFail(t *testing.T) {
	src := &fakeSource{failing: map[string]bool{"document_0": true, "document_1": true}}
	r := NewRetriever(fixedEmbedder{}, src)

	_, err := r.Search(context.Background(), "q", 5)
	var indexErr *types.IndexError
	assert.ErrorAs(t, err, &indexErr)
}

func TestSearchEmbeddingError(t *testing.T) {
	r := NewRetriever(fixedEmbedder{err: &types.EmbeddingError{Err: errors.New("down")}}, &fakeSource{})

	_, err := r.Search(context.Background(), "q", 5)
	var embErr *types.EmbeddingError
	assert.ErrorAs(t, err, &embErr)
}

func TestSearchSectionFilter(t *testing.T) {
	src := &fakeSource{
		matches: map[string][]types.Match{"document_0": {
			match("skills", "Go, Python", "SKILLS", 0.9, false),
			match("exp", "Worked at Acme", "EXPERIENCE", 0.5, false),
		}},
		sections: []string{"EXPERIENCE", "SKILLS"},
	}

	r := NewRetriever(fixedEmbedder{}, src, WithSectionSelector(staticSelector{" experience ", "Hobbies"}))
	res, err := r.Search(context.Background(), "where did they work", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"EXPERIENCE"}, res.Sections)
	assert.Equal(t, []string{"exp"}, ids(res.Matches))
}

func TestSearchSectionFilterFallsBack(t *testing.T) {
	src := &fakeSource{
		matches:  map[string][]types.Match{"document_0": {match("skills", "Go", "SKILLS", 0.9, false)}},
		sections: []string{"EDUCATION", "SKILLS"},
	}

	r := NewRetriever(fixedEmbedder{}, src, WithSectionSelector(staticSelector{"Education"}))
	res, err := r.Search(context.Background(), "degree", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"skills"}, ids(res.Matches))
}

func TestRerank(t *testing.T) {
	matches := []types.Match{
		match("plain", "nothing shared", "", 0.50, false),
		match("start", "nothing shared", "", 0.45, true),
		match("overlap", "kubernetes and go daily", "", 0.40, false),
	}
	out := Rerank("Go Kubernetes experience", matches)

	assert.Equal(t, []string{"start", "plain", "overlap"}, ids(out))
	assert.InDelta(t, 0.54, out[0].Score, 1e-9)
	assert.InDelta(t, 0.50, out[1].Score, 1e-9)
	assert.InDelta(t, 0.48, out[2].Score, 1e-9)
	assert.Equal(t, 0.50, matches[0].Score, "input is not modified")
}
