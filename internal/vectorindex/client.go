// Package vectorindex implements the Vector Index Client (component E,
// spec.md §4.E): storing snapshot embeddings and running filtered k-NN
// search over them. Grounded on intelligencedev-manifold's postgres_vector
// and memory_vector backends, wired through the teacher's sqlx/lib/pq
// persistence idiom (internal/persistence/postgres/trades_repo.go).
package vectorindex

import (
	"context"
	"fmt"
	"math"

	"github.com/sawpanic/ragpatterns/internal/domain/snapshot"
)

// Point is one embedded snapshot as stored in the index.
type Point struct {
	ID       string
	Vector   []float32
	Snapshot snapshot.Snapshot
	Text     string
}

// Filter constrains a Search to points whose snapshot matches every
// non-nil predicate (spec.md §4.G's regime pre-filters).
type Filter struct {
	Symbol          *string
	TimestampMin    *int64
	OIDeltaPct      *FloatRange
	FundingSignUp   *bool // funding_rate >= 0 when true, <= 0 when false
	VolatilityRatio *FloatRange
	ExcludeIDs      []string
}

// FloatRange bounds a float field inclusively on both ends when set.
type FloatRange struct {
	Min *float64
	Max *float64
}

// ScoredPoint is a search hit with its cosine similarity to the query.
type ScoredPoint struct {
	Point
	Similarity float64
}

// Client is the Vector Index Client contract every backend (Postgres,
// Memory) satisfies.
type Client interface {
	EnsureCollection(ctx context.Context, collection string, dim int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, query []float32, filter Filter, topK int) ([]ScoredPoint, error)
}

// PointID builds the canonical point identifier for a snapshot, used both
// at upsert time and for ExcludeIDs during retrieval (so a request's own
// current state, if it happens to already be indexed, never matches
// itself).
func PointID(symbol string, timestampMs int64) string {
	return fmt.Sprintf("%s:%d", symbol, timestampMs)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func matchesFilter(p Point, f Filter) bool {
	if f.Symbol != nil && p.Snapshot.Symbol != *f.Symbol {
		return false
	}
	if f.TimestampMin != nil && p.Snapshot.TimestampMs < *f.TimestampMin {
		return false
	}
	if f.OIDeltaPct != nil {
		oi := p.Snapshot.OIDeltaPct()
		if f.OIDeltaPct.Min != nil && oi < *f.OIDeltaPct.Min {
			return false
		}
		if f.OIDeltaPct.Max != nil && oi > *f.OIDeltaPct.Max {
			return false
		}
	}
	if f.FundingSignUp != nil {
		if *f.FundingSignUp && p.Snapshot.FundingRate < 0 {
			return false
		}
		if !*f.FundingSignUp && p.Snapshot.FundingRate > 0 {
			return false
		}
	}
	if f.VolatilityRatio != nil {
		ratio, ok := p.Snapshot.VolatilityRatio1h24h()
		if !ok {
			return false
		}
		if f.VolatilityRatio.Min != nil && ratio < *f.VolatilityRatio.Min {
			return false
		}
		if f.VolatilityRatio.Max != nil && ratio > *f.VolatilityRatio.Max {
			return false
		}
	}
	for _, id := range f.ExcludeIDs {
		if p.ID == id {
			return false
		}
	}
	return true
}
