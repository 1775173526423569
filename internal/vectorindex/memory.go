package vectorindex

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process reference Client, useful for tests and for
// running the retrieval engine without a Postgres instance. Grounded on
// intelligencedev-manifold's memoryVector backend
// (internal/persistence/databases/memory_vector.go).
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]Point
	dims        map[string]int
}

// NewMemory constructs an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string][]Point),
		dims:        make(map[string]int),
	}
}

// EnsureCollection implements Client.
func (m *Memory) EnsureCollection(ctx context.Context, collection string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = nil
		m.dims[collection] = dim
	}
	return nil
}

// Upsert implements Client, replacing any existing point with the same ID.
func (m *Memory) Upsert(ctx context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.collections[collection]
	byID := make(map[string]int, len(existing))
	for i, p := range existing {
		byID[p.ID] = i
	}
	for _, p := range points {
		if i, ok := byID[p.ID]; ok {
			existing[i] = p
			continue
		}
		byID[p.ID] = len(existing)
		existing = append(existing, p)
	}
	m.collections[collection] = existing
	return nil
}

// Search implements Client with a linear scan, ranking by cosine
// similarity descending.
func (m *Memory) Search(ctx context.Context, collection string, query []float32, filter Filter, topK int) ([]ScoredPoint, error) {
	m.mu.RLock()
	points := m.collections[collection]
	m.mu.RUnlock()

	var candidates []ScoredPoint
	for _, p := range points {
		if !matchesFilter(p, filter) {
			continue
		}
		candidates = append(candidates, ScoredPoint{Point: p, Similarity: cosineSimilarity(query, p.Vector)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Snapshot.TimestampMs > candidates[j].Snapshot.TimestampMs
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}
