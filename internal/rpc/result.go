package rpc

import (
	"time"

	"github.com/sawpanic/ragpatterns/internal/retrieval"
)

// marketState is the indicator subset spec.md §3.3 documents for a
// HistoricalMatch row.
type marketState struct {
	RSI7        float64 `json:"rsi_7"`
	RSI14       float64 `json:"rsi_14"`
	MACD        float64 `json:"macd"`
	EMARatio    float64 `json:"ema_ratio"`
	OIDeltaPct  float64 `json:"oi_delta_pct"`
	FundingRate float64 `json:"funding_rate"`
}

type outcomes struct {
	Outcome1h      *float64 `json:"outcome_1h"`
	Outcome4h      *float64 `json:"outcome_4h"`
	Outcome24h     *float64 `json:"outcome_24h"`
	MaxRunup1h     *float64 `json:"max_runup_1h"`
	MaxDrawdown1h  *float64 `json:"max_drawdown_1h"`
	HitStopLoss    *bool    `json:"hit_stop_loss"`
	HitTakeProfit  *bool    `json:"hit_take_profit"`
}

type historicalMatchWire struct {
	Similarity  float64     `json:"similarity"`
	TimestampMs int64       `json:"timestamp_ms"`
	Date        string      `json:"date"`
	MarketState marketState `json:"market_state"`
	Outcomes    outcomes    `json:"outcomes"`
}

type similarityRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type outcome4hStats struct {
	Mean          *float64 `json:"mean"`
	Median        *float64 `json:"median"`
	P10           *float64 `json:"p10"`
	P90           *float64 `json:"p90"`
	PositiveCount int      `json:"positive_count"`
	NegativeCount int      `json:"negative_count"`
	WinRate       *float64 `json:"win_rate"`
}

type statisticsWire struct {
	TotalMatches    int             `json:"total_matches"`
	AvgSimilarity   float64         `json:"avg_similarity"`
	SimilarityRange similarityRange `json:"similarity_range"`
	Outcome4h       outcome4hStats  `json:"outcome_4h"`
	StopLossHits    int             `json:"stop_loss_hits"`
	TakeProfitHits  int             `json:"take_profit_hits"`
}

type metadataWire struct {
	QueryDurationMs     int64    `json:"query_duration_ms"`
	EmbeddingDurationMs int64    `json:"embedding_duration_ms"`
	RetrievalDurationMs int64    `json:"retrieval_duration_ms"`
	FiltersApplied      []string `json:"filters_applied"`
	SchemaVersion       int      `json:"schema_version"`
	FeatureVersion      string   `json:"feature_version"`
	EmbeddingModel      string   `json:"embedding_model"`
	Warnings            []string `json:"warnings,omitempty"`
}

type queryPatternsResult struct {
	Matches    []historicalMatchWire `json:"matches"`
	Statistics statisticsWire        `json:"statistics"`
	Metadata   metadataWire          `json:"metadata"`
}

func renderResult(r retrieval.Result) queryPatternsResult {
	matches := make([]historicalMatchWire, len(r.Matches))
	for i, m := range r.Matches {
		matches[i] = renderMatch(m)
	}

	s := r.Statistics
	filters := r.Metadata.FiltersApplied
	if filters == nil {
		filters = []string{}
	}

	return queryPatternsResult{
		Matches: matches,
		Statistics: statisticsWire{
			TotalMatches:    s.TotalMatches,
			AvgSimilarity:   s.AvgSimilarity,
			SimilarityRange: similarityRange{Min: s.SimilarityMin, Max: s.SimilarityMax},
			Outcome4h: outcome4hStats{
				Mean:          s.Outcome4hMean,
				Median:        s.Outcome4hMedian,
				P10:           s.Outcome4hP10,
				P90:           s.Outcome4hP90,
				PositiveCount: s.PositiveCount,
				NegativeCount: s.NegativeCount,
				WinRate:       s.WinRate,
			},
			StopLossHits:   s.StopLossHits,
			TakeProfitHits: s.TakeProfitHits,
		},
		Metadata: metadataWire{
			QueryDurationMs:     r.Metadata.QueryDurationMs,
			EmbeddingDurationMs: r.Metadata.EmbeddingDurationMs,
			RetrievalDurationMs: r.Metadata.RetrievalDurationMs,
			FiltersApplied:      filters,
			SchemaVersion:       r.Metadata.SchemaVersion,
			FeatureVersion:      r.Metadata.FeatureVersion,
			EmbeddingModel:      r.Metadata.EmbeddingModel,
			Warnings:            r.Metadata.Warnings,
		},
	}
}

func renderMatch(m retrieval.HistoricalMatch) historicalMatchWire {
	s := m.Snapshot
	date := s.Date
	if date == "" {
		date = time.UnixMilli(s.TimestampMs).UTC().Format(time.RFC3339)
	}
	return historicalMatchWire{
		Similarity:  m.Similarity,
		TimestampMs: s.TimestampMs,
		Date:        date,
		MarketState: marketState{
			RSI7:        s.RSI7,
			RSI14:       s.RSI14,
			MACD:        s.MACD,
			EMARatio:    s.EMARatio20to50(),
			OIDeltaPct:  s.OIDeltaPct(),
			FundingRate: s.FundingRate,
		},
		Outcomes: outcomes{
			Outcome1h:     s.Outcome1h,
			Outcome4h:     s.Outcome4h,
			Outcome24h:    s.Outcome24h,
			MaxRunup1h:    s.MaxRunup1h,
			MaxDrawdown1h: s.MaxDrawdown1h,
			HitStopLoss:   s.HitStopLoss,
			HitTakeProfit: s.HitTakeProfit,
		},
	}
}
