package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ragpatterns/internal/domain/snapshot"
)

func f(v float64) *float64 { return &v }
func b(v bool) *bool       { return &v }

func matchWithOutcome(outcome float64) HistoricalMatch {
	return HistoricalMatch{Similarity: 0.9, Snapshot: snapshot.Snapshot{Outcome4h: f(outcome)}}
}

// TestAggregate_FiveElementExample implements spec.md §8 property 8:
// outcomes_4h = [a,b,c,d,e] sorted -> p10=sorted[0], p90=sorted[4],
// median=sorted[2], win_rate = |{x>0}| / 5.
func TestAggregate_FiveElementExample(t *testing.T) {
	values := []float64{-4, -1, 0, 2, 9} // already ascending
	matches := make([]HistoricalMatch, len(values))
	for i, v := range values {
		matches[i] = matchWithOutcome(v)
	}

	stats := Aggregate(matches)
	require.NotNil(t, stats.Outcome4hP10)
	require.NotNil(t, stats.Outcome4hP90)
	require.NotNil(t, stats.Outcome4hMedian)
	require.NotNil(t, stats.WinRate)

	assert.Equal(t, values[0], *stats.Outcome4hP10)
	assert.Equal(t, values[4], *stats.Outcome4hP90)
	assert.Equal(t, values[2], *stats.Outcome4hMedian)
	assert.Equal(t, 2.0/5.0, *stats.WinRate) // {2, 9} > 0, zero excluded from both counts
}

func TestAggregate_EmptyOutcomesYieldNilStatistics(t *testing.T) {
	matches := []HistoricalMatch{{Similarity: 0.8, Snapshot: snapshot.Snapshot{}}}
	stats := Aggregate(matches)
	assert.Nil(t, stats.Outcome4hMean)
	assert.Nil(t, stats.Outcome4hMedian)
	assert.Nil(t, stats.WinRate)
	assert.Equal(t, 1, stats.TotalMatches)
}

func TestAggregate_MedianLinearInterpolationEvenCount(t *testing.T) {
	matches := []HistoricalMatch{matchWithOutcome(1), matchWithOutcome(2), matchWithOutcome(3), matchWithOutcome(4)}
	stats := Aggregate(matches)
	require.NotNil(t, stats.Outcome4hMedian)
	assert.Equal(t, 2.5, *stats.Outcome4hMedian)
}

func TestAggregate_StopLossAndTakeProfitHits(t *testing.T) {
	matches := []HistoricalMatch{
		{Snapshot: snapshot.Snapshot{Outcome4h: f(-2.3), HitStopLoss: b(true), HitTakeProfit: b(false)}},
		{Snapshot: snapshot.Snapshot{Outcome4h: f(1.1), HitStopLoss: b(false), HitTakeProfit: b(true)}},
	}
	stats := Aggregate(matches)
	assert.Equal(t, 1, stats.StopLossHits)
	assert.Equal(t, 1, stats.TakeProfitHits)
	require.NotNil(t, stats.WinRate)
	assert.Equal(t, 0.5, *stats.WinRate)
}

func TestAggregate_SimilarityRange(t *testing.T) {
	matches := []HistoricalMatch{
		{Similarity: 0.95, Snapshot: snapshot.Snapshot{Outcome4h: f(1)}},
		{Similarity: 0.72, Snapshot: snapshot.Snapshot{Outcome4h: f(1)}},
		{Similarity: 0.88, Snapshot: snapshot.Snapshot{Outcome4h: f(1)}},
	}
	stats := Aggregate(matches)
	assert.Equal(t, 0.72, stats.SimilarityMin)
	assert.Equal(t, 0.95, stats.SimilarityMax)
	assert.InDelta(t, (0.95+0.72+0.88)/3, stats.AvgSimilarity, 1e-9)
}
