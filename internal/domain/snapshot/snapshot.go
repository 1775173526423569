// Package snapshot defines the point-in-time feature vector that is the
// atomic unit indexed and retrieved by the rest of this repository.
package snapshot

import "math"

// Snapshot is the atomic indexed unit: a point-in-time market state plus,
// when available, what happened to price afterward. Fields are grouped the
// way the wire payload groups them (identity, short horizon, long horizon,
// microstructure, forward outcomes).
type Snapshot struct {
	// Identity
	Symbol      string
	TimestampMs int64
	Price       float64

	// Short-horizon indicators (3m cadence, current point)
	RSI7   float64
	RSI14  float64
	MACD   float64
	EMA20  float64

	// Short-horizon series, last 10 samples oldest-first. Partial (<10) is
	// allowed; callers should treat a nil/short slice as "insufficient
	// history" rather than an error.
	MidPrices  []float64
	EMA20Vals  []float64
	MACDVals   []float64
	RSI7Vals   []float64
	RSI14Vals  []float64

	// Long-horizon context (4h cadence, current point)
	EMA20_4h        float64
	EMA50_4h        float64
	ATR3_4h         float64
	ATR14_4h        float64
	CurrentVolume4h float64
	AvgVolume4h     float64

	// Long-horizon series, last 10 4h samples oldest-first.
	MACD4hVals  []float64
	RSI14_4hVals []float64

	// Microstructure
	OpenInterestLatest float64
	OpenInterestAvg24h float64
	FundingRate        float64
	PriceChange1h      *float64
	PriceChange4h      *float64

	// Placeholder flags, set by the extractor when the backing store had no
	// real OI/funding record and placeholder zeros were substituted
	// (SPEC_FULL.md §4.G policy).
	OIIsPlaceholder      bool
	FundingIsPlaceholder bool

	// Forward outcomes, nil until filled by the extractor from future
	// candles. Never populated from data at or before TimestampMs.
	Outcome15m *float64
	Outcome1h  *float64
	Outcome4h  *float64
	Outcome24h *float64

	MaxRunup1h     *float64
	MaxDrawdown1h  *float64
	HitStopLoss    *bool
	HitTakeProfit  *bool

	// Provenance, stamped by the pipeline at upsert time so a later change
	// to rendering or the indicator set can be detected at query time
	// (SPEC_FULL.md §3.5, spec.md §9 "schema evolution of payloads").
	SchemaVersion  int
	FeatureVersion string
	EmbeddingModel string
	EmbeddingDim   int
	BuildID        string
	Date           string
}

const (
	// StopLossThresholdPct and TakeProfitThresholdPct are the fixed
	// thresholds over the 1h forward window (spec.md §3.1).
	StopLossThresholdPct   = -2.00
	TakeProfitThresholdPct = 3.00
)

// EMARatio20to50 returns ema_ratio_20_50 := ema_20_4h / ema_50_4h, defined
// as 1.0 when the denominator is approximately zero (spec.md §3.1).
func (s Snapshot) EMARatio20to50() float64 {
	return ratio(s.EMA20_4h, s.EMA50_4h)
}

func ratio(numerator, denominator float64) float64 {
	if math.Abs(denominator) < 1e-12 {
		return 1.0
	}
	return numerator / denominator
}

// OIDeltaPct returns oi_delta_pct := 100 * (oi_latest - oi_avg_24h) /
// oi_avg_24h, 0 when the denominator is approximately zero.
func (s Snapshot) OIDeltaPct() float64 {
	if math.Abs(s.OpenInterestAvg24h) < 1e-12 {
		return 0
	}
	return 100 * (s.OpenInterestLatest - s.OpenInterestAvg24h) / s.OpenInterestAvg24h
}

// VolatilityRatio1h24h returns price_change_1h / price_change_4h when both
// are present and the denominator is non-zero, and ok=false otherwise. The
// denominator is the 4h price change: a Snapshot carries no 24h price
// change.
func (s Snapshot) VolatilityRatio1h24h() (ratio float64, ok bool) {
	if s.PriceChange1h == nil || s.PriceChange4h == nil {
		return 0, false
	}
	if math.Abs(*s.PriceChange4h) <= 1e-9 {
		return 0, false
	}
	return *s.PriceChange1h / *s.PriceChange4h, true
}

// OLSSlope computes the ordinary least-squares slope of series against
// x = 0..len(series)-1. Returns 0 for fewer than two points.
func OLSSlope(series []float64) float64 {
	n := len(series)
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if math.Abs(denom) < 1e-12 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}

// IsFinite reports whether every numeric field relevant to validation is
// finite (no NaN/Inf), per spec.md §3.1's ingest invariant.
func (s Snapshot) IsFinite() bool {
	vals := []float64{
		s.Price, s.RSI7, s.RSI14, s.MACD, s.EMA20,
		s.EMA20_4h, s.EMA50_4h, s.ATR3_4h, s.ATR14_4h,
		s.CurrentVolume4h, s.AvgVolume4h,
		s.OpenInterestLatest, s.OpenInterestAvg24h, s.FundingRate,
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for _, series := range [][]float64{
		s.MidPrices, s.EMA20Vals, s.MACDVals, s.RSI7Vals, s.RSI14Vals,
		s.MACD4hVals, s.RSI14_4hVals,
	} {
		for _, v := range series {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// RSIInRange reports whether rsi_7 and rsi_14 are within [0, 100].
func (s Snapshot) RSIInRange() bool {
	return inRange(s.RSI7, 0, 100) && inRange(s.RSI14, 0, 100)
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
