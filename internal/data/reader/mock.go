package reader

import (
	"context"
	"math"
	"math/rand"

	"github.com/sawpanic/ragpatterns/internal/domain/indicators"
)

// Mock is a synthetic Store implementation that generates internally
// consistent candles and indicators for any symbol/timestamp pair on
// demand, deterministically seeded from (symbol, timestamp) so repeated
// reads of the same point always return the same record — required for
// the extractor's leakage tests and for S1-S6 (spec.md §8) to be
// reproducible across runs. Grounded on the teacher's deterministic
// MockDerivProvider idiom (internal/providers/derivs/mocks.go), generalized
// from "one fixed metrics blob per symbol" to "a full synthetic time
// series" since the extractor needs dense coverage over a range.
type Mock struct {
	symbols map[string]bool
	// Prices come from basePrice, a random walk around 50,000 seeded by
	// hashing the symbol and hour, so two Mock instances agree.
}

// NewMock constructs a mock store that serves the given symbols; reads for
// any other symbol return ok=false, matching a real store's "unknown
// symbol" behavior.
func NewMock(symbols []string) *Mock {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return &Mock{symbols: set}
}

func seedFor(symbol string, ts int64) int64 {
	h := int64(2166136261)
	for _, c := range symbol {
		h = (h ^ int64(c)) * 16777619
	}
	return h ^ ts
}

func (m *Mock) basePrice(symbol string, ts int64) float64 {
	r := rand.New(rand.NewSource(seedFor(symbol, ts/3_600_000)))
	walk := 0.0
	steps := int(ts / 3_600_000)
	if steps < 0 {
		steps = -steps
	}
	for i := 0; i < min(steps%500, 500); i++ {
		walk += r.NormFloat64() * 5
	}
	return 50_000 + walk
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ReadPoint implements Store.
func (m *Mock) ReadPoint(ctx context.Context, table Table, symbol string, ts int64) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !m.symbols[symbol] {
		return nil, false, nil
	}
	r := rand.New(rand.NewSource(seedFor(symbol, ts)))
	price := m.basePrice(symbol, ts) + r.NormFloat64()*20

	switch table {
	case CandlesThreeM, CandlesFourH:
		spread := math.Abs(r.NormFloat64()) * 10
		return Record{
			"open":   price - spread/2,
			"high":   price + spread,
			"low":    price - spread,
			"close":  price,
			"volume": 100 + math.Abs(r.NormFloat64())*50,
		}, true, nil

	case IndicatorsThreeM:
		prices := m.priceWindow(symbol, ts, 3*60_000, 30)
		rec := Record{
			"rsi_7":        indicators.RSI(prices, 7),
			"rsi_14":       indicators.RSI(prices, 14),
			"macd":         indicators.MACD(prices, 12, 26),
			"ema_20":       indicators.EMA(prices, 20),
			"open_interest_latest":  1_000_000_000 + r.NormFloat64()*1e7,
			"open_interest_avg_24h": 1_000_000_000,
			"funding_rate":          r.NormFloat64() * 0.0002,
		}
		return rec, true, nil

	case IndicatorsFourH:
		prices := m.priceWindow(symbol, ts, 4*3_600_000, 60)
		bars := make([]indicators.PriceBar, len(prices))
		for i, p := range prices {
			bars[i] = indicators.PriceBar{High: p * 1.001, Low: p * 0.999, Close: p}
		}
		rec := Record{
			"ema_20_4h":         indicators.EMA(prices, 20),
			"ema_50_4h":         indicators.EMA(prices, 50),
			"atr_3_4h":          indicators.ATR(bars, 3),
			"atr_14_4h":         indicators.ATR(bars, 14),
			"current_volume_4h": 1000 + math.Abs(r.NormFloat64())*200,
			"avg_volume_4h":     1000,
			"macd_4h":           indicators.MACD(prices, 12, 26),
			"rsi_14_4h":         indicators.RSI(prices, 14),
		}
		return rec, true, nil
	}
	return nil, false, nil
}

func (m *Mock) priceWindow(symbol string, endTs int64, stepMs int64, count int) []float64 {
	out := make([]float64, 0, count)
	for i := count - 1; i >= 0; i-- {
		ts := endTs - int64(i)*stepMs
		out = append(out, m.basePrice(symbol, ts))
	}
	return out
}

// ReadSeries implements Store by repeated ReadPoint calls stepping back.
func (m *Mock) ReadSeries(ctx context.Context, table Table, symbol string, endTs int64, stepMs int64, count int) ([]Sample, error) {
	var out []Sample
	for i := count - 1; i >= 0; i-- {
		ts := endTs - int64(i)*stepMs
		rec, ok, err := m.ReadPoint(ctx, table, symbol, ts)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, Sample{TimestampMs: ts, Record: rec})
	}
	return out, nil
}

// RangeTimestamps implements Store by enumerating every cadence-aligned
// point in range; the mock assumes a 3-minute grid for all tables.
func (m *Mock) RangeTimestamps(ctx context.Context, table Table, symbol string, startTs, endTs int64) ([]int64, error) {
	if !m.symbols[symbol] {
		return nil, nil
	}
	var out []int64
	const step = 3 * 60_000
	for ts := startTs; ts < endTs; ts += step {
		out = append(out, ts)
	}
	return out, nil
}
