// Package indicators computes the technical indicators used to synthesize
// realistic historical fixtures for the mock reader (internal/data/reader).
// The real deployment reads precomputed indicators straight out of the
// historical store (spec.md §1), so this package is exercised by tests and
// the `--data-source=mock` path, not by the live extraction path.
package indicators

import "math"

// RSI computes the Relative Strength Index over prices using Wilder's
// smoothing, the same two-stage (SMA seed, then EMA) method the teacher's
// indicator layer uses. Returns 50 (neutral) when there isn't enough
// history to seed the average.
func RSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50.0
	}

	changes := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		changes[i-1] = prices[i] - prices[i-1]
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss += -changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period; i < len(changes); i++ {
		gain, loss := 0.0, 0.0
		if changes[i] > 0 {
			gain = changes[i]
		} else {
			loss = -changes[i]
		}
		avgGain = avgGain*(1-alpha) + gain*alpha
		avgLoss = avgLoss*(1-alpha) + loss*alpha
	}

	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// EMA computes the exponential moving average of prices for the given
// period, seeding with a simple average of the first `period` samples.
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		period = len(prices)
	}
	var seed float64
	for i := 0; i < period; i++ {
		seed += prices[i]
	}
	seed /= float64(period)

	alpha := 2.0 / (float64(period) + 1.0)
	ema := seed
	for i := period; i < len(prices); i++ {
		ema = prices[i]*alpha + ema*(1-alpha)
	}
	return ema
}

// MACD returns the difference between a fast and slow EMA of prices (the
// MACD line; no separate signal-line smoothing is needed by this repo's
// feature schema, which only stores the MACD value and its recent series).
func MACD(prices []float64, fastPeriod, slowPeriod int) float64 {
	return EMA(prices, fastPeriod) - EMA(prices, slowPeriod)
}

// PriceBar is an OHLC bar used by ATR.
type PriceBar struct {
	High  float64
	Low   float64
	Close float64
}

// ATR computes the Average True Range over bars using Wilder's smoothing.
func ATR(bars []PriceBar, period int) float64 {
	if len(bars) < period+1 {
		return 0
	}
	trueRanges := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		trueRanges[i-1] = math.Max(hl, math.Max(hc, lc))
	}

	var atr float64
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period; i < len(trueRanges); i++ {
		atr = atr*(1-alpha) + trueRanges[i]*alpha
	}
	return atr
}
