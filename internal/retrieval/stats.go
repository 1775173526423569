package retrieval

import (
	"math"
	"sort"
)

// OutcomeStatistics aggregates forward outcomes across a set of matches
// (spec.md §3.4/§4.H). Every outcome_4h-derived field is a pointer: it is
// nil exactly when the non-null outcome_4h count is zero, matching
// spec.md §9's "aggregator returns tagged optional values; RPC serializer
// emits null for absent statistics rather than 0."
type OutcomeStatistics struct {
	TotalMatches   int
	AvgSimilarity  float64
	SimilarityMin  float64
	SimilarityMax  float64
	Outcome4hMean   *float64
	Outcome4hMedian *float64
	Outcome4hP10    *float64
	Outcome4hP90    *float64
	PositiveCount  int
	NegativeCount  int
	WinRate        *float64
	StopLossHits   int
	TakeProfitHits int
}

// Aggregate computes OutcomeStatistics over matches, per spec.md §4.H.
func Aggregate(matches []HistoricalMatch) OutcomeStatistics {
	stats := OutcomeStatistics{TotalMatches: len(matches)}
	if len(matches) == 0 {
		return stats
	}

	var simSum float64
	simMin, simMax := matches[0].Similarity, matches[0].Similarity
	for _, m := range matches {
		simSum += m.Similarity
		if m.Similarity < simMin {
			simMin = m.Similarity
		}
		if m.Similarity > simMax {
			simMax = m.Similarity
		}
		if m.Snapshot.HitStopLoss != nil && *m.Snapshot.HitStopLoss {
			stats.StopLossHits++
		}
		if m.Snapshot.HitTakeProfit != nil && *m.Snapshot.HitTakeProfit {
			stats.TakeProfitHits++
		}
	}
	stats.AvgSimilarity = simSum / float64(len(matches))
	stats.SimilarityMin = simMin
	stats.SimilarityMax = simMax

	var outcomes []float64
	for _, m := range matches {
		if m.Snapshot.Outcome4h != nil {
			outcomes = append(outcomes, *m.Snapshot.Outcome4h)
		}
	}
	if len(outcomes) == 0 {
		return stats
	}
	sort.Float64s(outcomes)

	var sum float64
	for _, v := range outcomes {
		sum += v
		if v > 0 {
			stats.PositiveCount++
		} else if v < 0 {
			stats.NegativeCount++
		}
	}
	mean := sum / float64(len(outcomes))
	med := median(outcomes)
	p10 := nearestRankPercentile(outcomes, 0.10)
	p90 := nearestRankPercentile(outcomes, 0.90)
	stats.Outcome4hMean = &mean
	stats.Outcome4hMedian = &med
	stats.Outcome4hP10 = &p10
	stats.Outcome4hP90 = &p90

	// win_rate's denominator is every non-null outcome_4h value, not just
	// the ones that are strictly positive or negative — a zero outcome
	// counts toward non_null_count without counting as a win or a loss
	// (spec.md §3.4/§4.H).
	denom := len(outcomes)
	if denom > 0 {
		rate := float64(stats.PositiveCount) / float64(denom)
		stats.WinRate = &rate
	}

	return stats
}

// nearestRankPercentile implements spec.md §4.H's exact formula on an
// ascending-sorted, non-empty slice: index = round((n-1) * q), 0-indexed.
func nearestRankPercentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	idx := int(math.Round(float64(n-1) * q))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// median implements linear interpolation between the two middle elements
// for an even-length slice, exact middle for odd length.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
