package service

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"resumerag/config"
	"resumerag/loader/internal"
	"resumerag/model"
	"resumerag/observability"
	"resumerag/store"
	"resumerag/types"
)

// Indexer turns a file on disk into an indexed document.
type Indexer struct {
	extractor *internal.Extractor
	chunker   *internal.Chunker
	embedder  model.Embedder
	docs      *store.Documents
	metrics   *observability.Metrics
}

func NewIndexer(docs *store.Documents, embedder model.Embedder, chunk config.ChunkConfig, metrics *observability.Metrics) *Indexer {
	return &Indexer{
		extractor: internal.NewExtractor(),
		chunker:   internal.NewChunker(chunk.Size, chunk.Overlap),
		embedder:  embedder,
		docs:      docs,
		metrics:   metrics,
	}
}

// IndexFile extracts, chunks and embeds the file at path and stores it under
// its base name. Re-indexing a known filename replaces its vectors.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (doc types.Document, err error) {
	filename := filepath.Base(path)
	ctx, span := observability.StartSpan(ctx, "indexer.index_file", attribute.String("document.filename", filename))
	defer func() {
		ix.metrics.RecordIndexed(doc.VectorCount, err)
		observability.EndSpan(span, err)
	}()

	start := time.Now()
	text, err := ix.extractor.Extract(path)
	if err != nil {
		return types.Document{}, err
	}

	passages := ix.chunker.Chunk(text)
	if len(passages) == 0 {
		return types.Document{}, &types.ExtractionError{Path: path, Err: fmt.Errorf("no passages produced")}
	}

	texts := make([]string, len(passages))
	var sections []string
	for i := range passages {
		passages[i].Filename = filename
		texts[i] = passages[i].Text
		if passages[i].SectionStart && passages[i].Section != "" {
			sections = append(sections, passages[i].Section)
		}
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return types.Document{}, err
	}

	doc, err = ix.docs.Insert(ctx, filename, passages, vectors)
	if err != nil {
		return types.Document{}, err
	}
	if err := ix.docs.AddSections(ctx, sections); err != nil {
		log.Printf("[INDEXER] section catalog not updated for %s: %v", filename, err)
	}

	log.Printf("[INDEXER] %s: %d passages, %d sections indexed in %v", filename, len(passages), len(sections), time.Since(start))
	return doc, nil
}

func (ix *Indexer) Delete(ctx context.Context, filename string) (bool, error) {
	return ix.docs.Delete(ctx, filename)
}

func (ix *Indexer) List(ctx context.Context) ([]types.Document, error) {
	return ix.docs.List(ctx)
}

func (ix *Indexer) Reconcile(ctx context.Context) ([]string, error) {
	return ix.docs.Reconcile(ctx)
}
