package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"resumerag/model"
	"resumerag/observability"
	"resumerag/types"
)

const (
	// MaxResults bounds the passages handed to the prompt.
	MaxResults = 5

	DefaultThreshold = 0.1

	sectionStartBoost = 1.2
	overlapBoost      = 0.1
)

// NamespaceSource is the part of the document store the retriever reads.
type NamespaceSource interface {
	ListNamespaces(ctx context.Context) ([]string, error)
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]types.Match, error)
	Sections(ctx context.Context) ([]string, error)
}

// SectionSelector picks the catalog sections a query is about. An empty
// result means no section filter.
type SectionSelector interface {
	RelevantSections(ctx context.Context, query string, catalog []string) []string
}

type Retriever struct {
	embedder  model.Embedder
	source    NamespaceSource
	selector  SectionSelector
	threshold float64
	metrics   *observability.Metrics
	logger    *slog.Logger
}

type Option func(*Retriever)

func WithSectionSelector(s SectionSelector) Option {
	return func(r *Retriever) { r.selector = s }
}

func WithThreshold(t float64) Option {
	return func(r *Retriever) { r.threshold = t }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Retriever) { r.metrics = m }
}

func NewRetriever(embedder model.Embedder, source NamespaceSource, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:  embedder,
		source:    source,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search returns at most MaxResults passages scoring above the threshold,
// best first. An empty result is reported through Retrieval.Empty.
func (r *Retriever) Search(ctx context.Context, query string, topK int) (res types.Retrieval, err error) {
	ctx, span := observability.StartSpan(ctx, "retriever.search", attribute.Int("rag.top_k", topK))
	defer func() {
		if err == nil {
			span.SetAttributes(
				attribute.Int("rag.matches", len(res.Matches)),
				attribute.String("rag.empty", string(res.Empty)),
			)
		}
		observability.EndSpan(span, err)
	}()

	if topK <= 0 {
		topK = MaxResults
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return types.Retrieval{}, err
	}

	namespaces, err := r.source.ListNamespaces(ctx)
	if err != nil {
		return types.Retrieval{}, err
	}
	if len(namespaces) == 0 {
		return r.empty(types.NoDocuments, nil), nil
	}

	sections := r.candidateSections(ctx, query)

	matches, err := r.fanOut(ctx, namespaces, vector, topK)
	if err != nil {
		return types.Retrieval{}, err
	}
	matches = filterSections(matches, sections)
	if len(matches) == 0 {
		return r.empty(types.NoMatches, sections), nil
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}

	matches = Rerank(query, matches)

	kept := matches[:0]
	for _, m := range matches {
		if m.Score > r.threshold {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return r.empty(types.BelowThreshold, sections), nil
	}
	if len(kept) > MaxResults {
		kept = kept[:MaxResults]
	}
	return types.Retrieval{Matches: kept, Sections: sections}, nil
}

func (r *Retriever) empty(reason types.EmptyReason, sections []string) types.Retrieval {
	r.metrics.RecordEmptyRetrieval(string(reason))
	return types.Retrieval{Sections: sections, Empty: reason}
}

// candidateSections asks the selector for sections and keeps only labels
// present in the catalog, compared case-insensitively.
func (r *Retriever) candidateSections(ctx context.Context, query string) []string {
	if r.selector == nil {
		return nil
	}
	catalog, err := r.source.Sections(ctx)
	if err != nil {
		r.logger.Warn("section catalog unavailable", "error", err)
		return nil
	}
	if len(catalog) == 0 {
		return nil
	}

	known := make(map[string]string, len(catalog))
	for _, label := range catalog {
		known[strings.ToLower(strings.TrimSpace(label))] = label
	}

	var out []string
	seen := make(map[string]bool)
	for _, s := range r.selector.RelevantSections(ctx, query, catalog) {
		key := strings.ToLower(strings.TrimSpace(s))
		label, ok := known[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, label)
	}
	return out
}

// fanOut queries every namespace concurrently. Failing namespaces are
// skipped unless all of them fail.
func (r *Retriever) fanOut(ctx context.Context, namespaces []string, vector []float32, topK int) ([]types.Match, error) {
	var (
		mu       sync.Mutex
		matches  []types.Match
		failures []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, ns := range namespaces {
		g.Go(func() error {
			found, err := r.source.Query(gctx, ns, vector, topK)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Warn("namespace query failed", "namespace", ns, "error", err)
				failures = append(failures, err)
				return nil
			}
			matches = append(matches, found...)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(failures) == len(namespaces) {
		return nil, &types.IndexError{
			Op:  "query",
			Err: fmt.Errorf("all %d namespaces failed: %w", len(namespaces), errors.Join(failures...)),
		}
	}
	return matches, nil
}

// filterSections keeps matches whose section is one of sections. When no
// match survives, the unfiltered matches are returned.
func filterSections(matches []types.Match, sections []string) []types.Match {
	if len(sections) == 0 {
		return matches
	}
	want := make(map[string]bool, len(sections))
	for _, s := range sections {
		want[strings.ToLower(strings.TrimSpace(s))] = true
	}

	var out []types.Match
	for _, m := range matches {
		if want[strings.ToLower(strings.TrimSpace(m.Section()))] {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return matches
	}
	return out
}

// Rerank boosts section-start passages and passages sharing words with the
// query, then re-sorts by the adjusted score.
func Rerank(query string, matches []types.Match) []types.Match {
	terms := tokenSet(query)
	out := make([]types.Match, len(matches))
	for i, m := range matches {
		score := m.Score
		if m.SectionStart() {
			score *= sectionStartBoost
		}
		overlap := 0
		words := tokenSet(m.Text())
		for t := range terms {
			if words[t] {
				overlap++
			}
		}
		score *= 1 + overlapBoost*float64(overlap)
		m.Score = score
		out[i] = m
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}
