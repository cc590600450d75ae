package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"resumerag/types"
)

// MemoryIndex is an in-process VectorIndex doing exact cosine search.
type MemoryIndex struct {
	mu         sync.RWMutex
	dimension  int
	namespaces map[string]map[string]types.Record
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		dimension:  types.Dimension,
		namespaces: make(map[string]map[string]types.Record),
	}
}

func (m *MemoryIndex) EnsureIndex(ctx context.Context, dimension int) error {
	m.mu.Lock()
	m.dimension = dimension
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Upsert(ctx context.Context, namespace string, records []types.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]types.Record)
		m.namespaces[namespace] = ns
	}
	for _, r := range records {
		if len(r.Vector) != m.dimension {
			return fmt.Errorf("record %s: dimension %d, index expects %d", r.ID, len(r.Vector), m.dimension)
		}
		ns[r.ID] = types.Record{
			ID:       r.ID,
			Vector:   append([]float32(nil), r.Vector...),
			Metadata: copyMetadata(r.Metadata),
		}
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]types.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns := m.namespaces[namespace]
	matches := make([]types.Match, 0, len(ns))
	for _, r := range ns {
		matches = append(matches, types.Match{
			ID:        r.ID,
			Namespace: namespace,
			Score:     cosine(vector, r.Vector),
			Metadata:  copyMetadata(r.Metadata),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if topK >= 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *MemoryIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	m.mu.Lock()
	delete(m.namespaces, namespace)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) DescribeStats(ctx context.Context) (types.IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.IndexStats{Dimension: m.dimension, Namespaces: make(map[string]int, len(m.namespaces))}
	for name, ns := range m.namespaces {
		if len(ns) > 0 {
			stats.Namespaces[name] = len(ns)
		}
	}
	return stats, nil
}

func (m *MemoryIndex) Close() error { return nil }

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func copyMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
