package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"resumerag/observability"
	"resumerag/types"
)

// Vectors are written to the index in batches of this size.
const UpsertBatchSize = 16

func NamespaceName(n int) string {
	return fmt.Sprintf("document_%d", n)
}

// Documents maps uploaded files to index namespaces and keeps the catalog
// consistent with what the index actually holds.
type Documents struct {
	index   VectorIndex
	catalog Catalog
	logger  *slog.Logger

	allocMu sync.Mutex

	filesMu sync.Mutex
	files   map[string]*fileLock
}

type fileLock struct {
	mu   sync.Mutex
	refs int
}

func NewDocuments(index VectorIndex, catalog Catalog) *Documents {
	return &Documents{
		index:   index,
		catalog: catalog,
		logger:  slog.Default(),
		files:   make(map[string]*fileLock),
	}
}

// lockFile serializes inserts and deletes of the same filename.
func (d *Documents) lockFile(filename string) func() {
	d.filesMu.Lock()
	l, ok := d.files[filename]
	if !ok {
		l = &fileLock{}
		d.files[filename] = l
	}
	l.refs++
	d.filesMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.filesMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.files, filename)
		}
		d.filesMu.Unlock()
	}
}

func (d *Documents) tryLockFile(filename string) (func(), bool) {
	d.filesMu.Lock()
	defer d.filesMu.Unlock()
	if _, busy := d.files[filename]; busy {
		return nil, false
	}
	l := &fileLock{refs: 1}
	l.mu.Lock()
	d.files[filename] = l
	return func() {
		l.mu.Unlock()
		d.filesMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.files, filename)
		}
		d.filesMu.Unlock()
	}, true
}

// Insert writes the passages of filename into its namespace. A filename that
// is already indexed keeps its namespace and has its old vectors replaced.
func (d *Documents) Insert(ctx context.Context, filename string, passages []types.Passage, vectors [][]float32) (doc types.Document, err error) {
	ctx, span := observability.StartSpan(ctx, "documents.insert",
		attribute.String("document.filename", filename),
		attribute.Int("document.passages", len(passages)),
	)
	defer func() { observability.EndSpan(span, err) }()

	if len(passages) == 0 {
		return types.Document{}, fmt.Errorf("document %s has no passages", filename)
	}
	if len(passages) != len(vectors) {
		return types.Document{}, fmt.Errorf("got %d vectors for %d passages", len(vectors), len(passages))
	}

	unlock := d.lockFile(filename)
	defer unlock()

	stats, _, err := d.reconcile(ctx, filename)
	if err != nil {
		return types.Document{}, err
	}

	namespace, reused, err := d.namespaceFor(ctx, filename, stats)
	if err != nil {
		return types.Document{}, err
	}
	if reused {
		if err := d.index.DeleteNamespace(ctx, namespace); err != nil {
			return types.Document{}, err
		}
	}

	records := buildRecords(namespace, filename, passages, vectors)
	for start := 0; start < len(records); start += UpsertBatchSize {
		end := min(start+UpsertBatchSize, len(records))
		if err := d.index.Upsert(ctx, namespace, records[start:end]); err != nil {
			d.rollback(ctx, filename, namespace, reused)
			return types.Document{}, wrapIndex("upsert", namespace, err)
		}
	}

	doc = types.Document{
		Filename:    filename,
		Namespace:   namespace,
		VectorCount: len(records),
		IndexedAt:   time.Now().UTC(),
	}
	if err := d.catalog.Put(ctx, doc); err != nil {
		d.rollback(ctx, filename, namespace, reused)
		return types.Document{}, err
	}

	d.logger.Info("document indexed", "filename", filename, "namespace", namespace, "vectors", len(records), "reused", reused)
	return doc, nil
}

// namespaceFor reuses the live namespace of filename or allocates the next
// one that is not live in the index.
func (d *Documents) namespaceFor(ctx context.Context, filename string, stats types.IndexStats) (string, bool, error) {
	existing, err := d.catalog.Get(ctx, filename)
	switch {
	case err == nil:
		if _, live := stats.Namespaces[existing.Namespace]; live {
			return existing.Namespace, true, nil
		}
	case !errors.Is(err, ErrNotFound):
		return "", false, err
	}

	d.allocMu.Lock()
	defer d.allocMu.Unlock()
	// the index may hold partitions the catalog does not know about
	for {
		n, err := d.catalog.NextNamespace(ctx)
		if err != nil {
			return "", false, err
		}
		name := NamespaceName(n)
		if _, live := stats.Namespaces[name]; !live {
			return name, false, nil
		}
		d.logger.Warn("skipping namespace still present in the index", "namespace", name)
	}
}

func (d *Documents) rollback(ctx context.Context, filename, namespace string, reused bool) {
	if err := d.index.DeleteNamespace(context.WithoutCancel(ctx), namespace); err != nil {
		d.logger.Warn("rollback: namespace not dropped", "namespace", namespace, "error", err)
	}
	if reused {
		if err := d.catalog.Remove(context.WithoutCancel(ctx), filename); err != nil {
			d.logger.Warn("rollback: catalog entry not removed", "filename", filename, "error", err)
		}
	}
}

func buildRecords(namespace, filename string, passages []types.Passage, vectors [][]float32) []types.Record {
	personName := personName(passages[0].Text)
	records := make([]types.Record, len(passages))
	for i, p := range passages {
		meta := map[string]any{
			"filename":      filename,
			"text":          p.Text,
			"chunk_index":   p.Sequence,
			"section":       p.Section,
			"section_start": p.SectionStart,
		}
		if personName != "" {
			meta["person_name"] = personName
		}
		records[i] = types.Record{
			ID:       fmt.Sprintf("%s_%d", namespace, p.Sequence),
			Vector:   vectors[i],
			Metadata: meta,
		}
	}
	return records
}

// personName is the second line of the first passage, where resumes usually
// carry the candidate name after a title line.
func personName(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return ""
	}
	return strings.TrimSpace(lines[1])
}

// Reconcile drops catalog entries whose namespace no longer exists in the
// index and returns their filenames.
func (d *Documents) Reconcile(ctx context.Context) ([]string, error) {
	_, removed, err := d.reconcile(ctx, "")
	return removed, err
}

// reconcile lists the catalog before reading index stats, so an entry is
// only ever compared with stats taken after it was written. held is a
// filename whose lock the caller already owns.
func (d *Documents) reconcile(ctx context.Context, held string) (types.IndexStats, []string, error) {
	docs, err := d.catalog.List(ctx)
	if err != nil {
		return types.IndexStats{}, nil, err
	}
	stats, err := d.index.DescribeStats(ctx)
	if err != nil {
		return types.IndexStats{}, nil, wrapIndex("stats", "", err)
	}

	var removed []string
	for _, doc := range docs {
		if _, ok := stats.Namespaces[doc.Namespace]; ok {
			continue
		}
		dropped, err := d.dropIfStale(ctx, doc.Filename, doc.Filename == held)
		if err != nil {
			return types.IndexStats{}, removed, err
		}
		if dropped {
			removed = append(removed, doc.Filename)
		}
	}
	return stats, removed, nil
}

// dropIfStale re-checks one entry under its file lock before removing it.
// Entries locked by a running insert or delete are left to that operation.
func (d *Documents) dropIfStale(ctx context.Context, filename string, locked bool) (bool, error) {
	if !locked {
		unlock, ok := d.tryLockFile(filename)
		if !ok {
			return false, nil
		}
		defer unlock()
	}

	doc, err := d.catalog.Get(ctx, filename)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	stats, err := d.index.DescribeStats(ctx)
	if err != nil {
		return false, wrapIndex("stats", "", err)
	}
	if _, ok := stats.Namespaces[doc.Namespace]; ok {
		return false, nil
	}

	if err := d.catalog.Remove(ctx, filename); err != nil {
		return false, err
	}
	d.logger.Info("removed stale catalog entry", "filename", filename, "namespace", doc.Namespace)
	return true, nil
}

// Delete removes the vectors and catalog entry of filename. Unknown
// filenames are ignored.
func (d *Documents) Delete(ctx context.Context, filename string) (bool, error) {
	unlock := d.lockFile(filename)
	defer unlock()

	doc, err := d.catalog.Get(ctx, filename)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := d.index.DeleteNamespace(ctx, doc.Namespace); err != nil {
		return false, wrapIndex("delete", doc.Namespace, err)
	}
	if err := d.catalog.Remove(ctx, filename); err != nil {
		return false, err
	}
	d.logger.Info("document deleted", "filename", filename, "namespace", doc.Namespace)
	return true, nil
}

// List returns the reconciled catalog.
func (d *Documents) List(ctx context.Context) ([]types.Document, error) {
	if _, _, err := d.reconcile(ctx, ""); err != nil {
		return nil, err
	}
	return d.catalog.List(ctx)
}

func (d *Documents) Get(ctx context.Context, filename string) (types.Document, error) {
	return d.catalog.Get(ctx, filename)
}

// ListNamespaces returns the namespaces of all catalogued documents.
func (d *Documents) ListNamespaces(ctx context.Context) ([]string, error) {
	docs, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(docs))
	for i, doc := range docs {
		out[i] = doc.Namespace
	}
	return out, nil
}

func (d *Documents) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]types.Match, error) {
	matches, err := d.index.Query(ctx, namespace, vector, topK)
	if err != nil {
		return nil, wrapIndex("query", namespace, err)
	}
	return matches, nil
}

func (d *Documents) AddSections(ctx context.Context, labels []string) error {
	return d.catalog.AddSections(ctx, labels)
}

func (d *Documents) Sections(ctx context.Context) ([]string, error) {
	return d.catalog.Sections(ctx)
}

func wrapIndex(op, namespace string, err error) error {
	var ie *types.IndexError
	if errors.As(err, &ie) {
		return err
	}
	return &types.IndexError{Op: op, Namespace: namespace, Err: err}
}
