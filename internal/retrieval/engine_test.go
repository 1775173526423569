package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ragpatterns/internal/domain/snapshot"
	"github.com/sawpanic/ragpatterns/internal/vectorindex"
)

// fakeEmbedder maps exact rendered text to a pre-chosen vector, so a test
// can control retrieval similarity without depending on a real embedding
// model's geometry.
type fakeEmbedder struct {
	byText  map[string][]float32
	fallback []float32
}

func (f *fakeEmbedder) Name() string   { return "fake" }
func (f *fakeEmbedder) Dimension() int { return 2 }
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.byText[t]; ok {
			out[i] = v
			continue
		}
		out[i] = f.fallback
	}
	return out, nil
}

// seedS1 builds the three-point index and current-state query from
// spec.md §8 scenario S1 ("happy path"), adjusted only where the spec's
// illustrative numbers sit exactly on a filter boundary (oi_delta_pct,
// funding_rate thresholds are strict '>' comparisons) — shifted enough to
// land unambiguously on one side so the test isn't boundary-fragile.
func seedS1(t *testing.T) (*Engine, Query, *fakeEmbedder) {
	t.Helper()
	idx := vectorindex.NewMemory()
	ctx := context.Background()
	require.NoError(t, idx.EnsureCollection(ctx, "patterns", 2))

	p1 := snapshot.Snapshot{
		Symbol: "BTCUSDT", TimestampMs: 1_725_552_000_000,
		RSI7: 82.1, MACD: 68.4, EMA20_4h: 1.009, EMA50_4h: 1.0,
		OpenInterestAvg24h: 1000, OpenInterestLatest: 1042, FundingRate: 0.00015,
		Outcome4h: f(-2.3), HitStopLoss: b(true), HitTakeProfit: b(false),
	}
	p2 := snapshot.Snapshot{
		Symbol: "BTCUSDT", TimestampMs: 1_724_342_400_000,
		RSI7: 84.3, MACD: 71.2, EMA20_4h: 1.011, EMA50_4h: 1.0,
		OpenInterestAvg24h: 1000, OpenInterestLatest: 1051, FundingRate: 0.00012,
		Outcome4h: f(1.1), HitStopLoss: b(false), HitTakeProfit: b(true),
	}
	p3 := snapshot.Snapshot{
		Symbol: "BTCUSDT", TimestampMs: 1_722_000_000_000,
		RSI7: 30.0, MACD: -40.0, EMA20_4h: 0.990, EMA50_4h: 1.0,
		OpenInterestAvg24h: 1000, OpenInterestLatest: 940, FundingRate: -0.00020,
		Outcome4h: f(0.3), HitStopLoss: b(false), HitTakeProfit: b(false),
	}
	current := snapshot.Snapshot{
		Symbol: "BTCUSDT", TimestampMs: 1_730_811_225_000,
		RSI7: 83.6, MACD: 72.8, EMA20_4h: 1.009, EMA50_4h: 1.0,
		OpenInterestAvg24h: 1000, OpenInterestLatest: 1060, FundingRate: 0.00015,
	}

	textP1 := snapshot.RenderText(p1)
	textP2 := snapshot.RenderText(p2)
	textP3 := snapshot.RenderText(p3)
	textQuery := snapshot.RenderText(current)

	embedder := &fakeEmbedder{
		byText: map[string][]float32{
			textP1:    {0.95, 0.312},
			textP2:    {0.93, 0.367},
			textP3:    {0.2, 0.98},
			textQuery: {1, 0},
		},
		fallback: []float32{0, 1},
	}

	vecP1, _ := embedder.EmbedBatch(ctx, []string{textP1})
	vecP2, _ := embedder.EmbedBatch(ctx, []string{textP2})
	vecP3, _ := embedder.EmbedBatch(ctx, []string{textP3})
	require.NoError(t, idx.Upsert(ctx, "patterns", []vectorindex.Point{
		{ID: vectorindex.PointID(p1.Symbol, p1.TimestampMs), Vector: vecP1[0], Snapshot: p1, Text: textP1},
		{ID: vectorindex.PointID(p2.Symbol, p2.TimestampMs), Vector: vecP2[0], Snapshot: p2, Text: textP2},
		{ID: vectorindex.PointID(p3.Symbol, p3.TimestampMs), Vector: vecP3[0], Snapshot: p3, Text: textP3},
	}))

	engine := &Engine{Embedder: embedder, Index: idx, Collection: "patterns", MinMatches: 1}
	query := Query{
		Symbol:       "BTCUSDT",
		TimestampMs:  current.TimestampMs,
		CurrentState: current,
		Config: QueryConfig{
			TopK:                 5,
			MinSimilarity:        0.7,
			IncludeRegimeFilters: true,
		},
	}
	return engine, query, embedder
}

func TestEngine_S1HappyPath(t *testing.T) {
	engine, query, _ := seedS1(t)
	result, err := engine.Run(context.Background(), query)
	require.NoError(t, err)

	ids := make([]string, len(result.Matches))
	for i, m := range result.Matches {
		ids[i] = m.ID
	}
	assert.Contains(t, ids, "BTCUSDT:1725552000000")
	assert.Contains(t, ids, "BTCUSDT:1724342400000")
	assert.NotContains(t, ids, "BTCUSDT:1722000000000")

	require.NotNil(t, result.Statistics.WinRate)
	assert.Equal(t, 0.5, *result.Statistics.WinRate)
	assert.Equal(t, 1, result.Statistics.StopLossHits)
	assert.Equal(t, 1, result.Statistics.TakeProfitHits)
}

func TestEngine_S2InsufficientMatches(t *testing.T) {
	engine, query, _ := seedS1(t)
	query.Config.MinSimilarity = 0.99

	_, err := engine.Run(context.Background(), query)
	require.Error(t, err)
	var insufficient *ErrInsufficientMatches
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0, insufficient.Found)
	assert.Equal(t, 1, insufficient.Required)
}

func TestEngine_NarrowLookbackIsInsufficientNotUnknown(t *testing.T) {
	engine, query, _ := seedS1(t)
	query.Config.LookbackDays = 1 // excludes every seeded point, all far older than 1 day

	_, err := engine.Run(context.Background(), query)
	require.Error(t, err)
	var insufficient *ErrInsufficientMatches
	require.ErrorAs(t, err, &insufficient, "a narrow lookback on a known symbol must report INSUFFICIENT_MATCHES, not SYMBOL_UNKNOWN")
	assert.Equal(t, 0, insufficient.Found)
}

func TestEngine_UnindexedSymbolIsUnknown(t *testing.T) {
	engine, query, _ := seedS1(t)
	query.Symbol = "ETHUSDT"
	query.CurrentState.Symbol = "ETHUSDT"

	_, err := engine.Run(context.Background(), query)
	require.Error(t, err)
	var unknown *ErrSymbolUnknown
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ETHUSDT", unknown.Symbol)
}

func TestEngine_FiltersAppliedListedInMetadata(t *testing.T) {
	engine, query, _ := seedS1(t)
	result, err := engine.Run(context.Background(), query)
	require.NoError(t, err)
	assert.Contains(t, result.Metadata.FiltersApplied, "symbol")
	assert.Contains(t, result.Metadata.FiltersApplied, "timerange")
	assert.Contains(t, result.Metadata.FiltersApplied, "oi_delta")
	assert.Contains(t, result.Metadata.FiltersApplied, "funding_sign")
}

func TestEngine_RegimeFiltersDisabledWhenRequested(t *testing.T) {
	engine, query, _ := seedS1(t)
	query.Config.IncludeRegimeFilters = false

	result, err := engine.Run(context.Background(), query)
	require.NoError(t, err)
	assert.NotContains(t, result.Metadata.FiltersApplied, "oi_delta")
}
