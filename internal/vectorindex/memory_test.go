package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ragpatterns/internal/domain/snapshot"
)

func TestMemory_UpsertThenSearchRoundTrip(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()
	require.NoError(t, idx.EnsureCollection(ctx, "patterns", 4))

	vec := []float32{1, 0, 0, 0}
	snap := snapshot.Snapshot{Symbol: "BTCUSDT", TimestampMs: 1000, RSI14: 55}
	require.NoError(t, idx.Upsert(ctx, "patterns", []Point{{ID: "BTCUSDT:1000", Vector: vec, Snapshot: snap}}))

	results, err := idx.Search(ctx, "patterns", vec, Filter{}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.GreaterOrEqual(t, results[0].Similarity, 1-1e-4)
	assert.Equal(t, "BTCUSDT:1000", results[0].ID)
}

func TestMemory_UpsertReplacesExistingID(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()
	require.NoError(t, idx.EnsureCollection(ctx, "patterns", 2))

	snapA := snapshot.Snapshot{Symbol: "BTCUSDT", TimestampMs: 1, RSI14: 10}
	snapB := snapshot.Snapshot{Symbol: "BTCUSDT", TimestampMs: 1, RSI14: 90}
	require.NoError(t, idx.Upsert(ctx, "patterns", []Point{{ID: "dup", Vector: []float32{1, 0}, Snapshot: snapA}}))
	require.NoError(t, idx.Upsert(ctx, "patterns", []Point{{ID: "dup", Vector: []float32{1, 0}, Snapshot: snapB}}))

	results, err := idx.Search(ctx, "patterns", []float32{1, 0}, Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 90.0, results[0].Snapshot.RSI14)
}

func TestMemory_SearchAppliesSymbolFilter(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()
	require.NoError(t, idx.EnsureCollection(ctx, "patterns", 2))
	require.NoError(t, idx.Upsert(ctx, "patterns", []Point{
		{ID: "a", Vector: []float32{1, 0}, Snapshot: snapshot.Snapshot{Symbol: "BTCUSDT"}},
		{ID: "b", Vector: []float32{1, 0}, Snapshot: snapshot.Snapshot{Symbol: "ETHUSDT"}},
	}))

	sym := "ETHUSDT"
	results, err := idx.Search(ctx, "patterns", []float32{1, 0}, Filter{Symbol: &sym}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ETHUSDT", results[0].Snapshot.Symbol)
}

func TestMemory_SearchExcludesListedIDs(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()
	require.NoError(t, idx.EnsureCollection(ctx, "patterns", 2))
	require.NoError(t, idx.Upsert(ctx, "patterns", []Point{
		{ID: "self", Vector: []float32{1, 0}, Snapshot: snapshot.Snapshot{Symbol: "BTCUSDT"}},
		{ID: "other", Vector: []float32{1, 0}, Snapshot: snapshot.Snapshot{Symbol: "BTCUSDT"}},
	}))

	results, err := idx.Search(ctx, "patterns", []float32{1, 0}, Filter{ExcludeIDs: []string{"self"}}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "other", results[0].ID)
}

func TestMemory_SearchRespectsTopK(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()
	require.NoError(t, idx.EnsureCollection(ctx, "patterns", 1))
	for i := 0; i < 5; i++ {
		require.NoError(t, idx.Upsert(ctx, "patterns", []Point{{ID: string(rune('a' + i)), Vector: []float32{1}}}))
	}
	results, err := idx.Search(ctx, "patterns", []float32{1}, Filter{}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestVectorLiteralRoundTrip(t *testing.T) {
	v := []float32{0.5, -0.25, 1, 0}
	lit := toVectorLiteral(v)
	back := fromVectorLiteral(lit)
	require.Len(t, back, len(v))
	for i := range v {
		assert.InDelta(t, v[i], back[i], 1e-6)
	}
}
