// Package ingest implements the offline half of the core: walking a
// historical time range into Snapshots (the Extractor, spec.md §4.C) and
// orchestrating render -> embed -> upsert batches (the Pipeline, §4.F).
package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/ragpatterns/internal/data/reader"
	"github.com/sawpanic/ragpatterns/internal/domain/snapshot"
)

const (
	threeMinMs = 3 * 60_000
	fourHourMs = 4 * 60 * 60_000

	outcome15mMs = 15 * 60_000
	outcome1hMs  = 60 * 60_000
	outcome4hMs  = 4 * 60 * 60_000
	outcome24hMs = 24 * 60 * 60_000
)

// ExtractorConfig controls the Snapshot Extractor's validation policy
// (spec.md §4.C step 7, SPEC_FULL.md §4.G placeholder-field policy).
type ExtractorConfig struct {
	MinSeriesSamples         int // default 5, out of the 10-sample series
	TreatZeroOIAsPlaceholder bool
}

// DefaultExtractorConfig returns spec.md's documented defaults.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		MinSeriesSamples:         5,
		TreatZeroOIAsPlaceholder: true,
	}
}

// Stats reports counts from a single Walk run (spec.md §4.F "Report
// {snapshots_created, ...}" feeds from these).
type Stats struct {
	TicksVisited      int
	SkippedNoIndicator int
	SkippedValidation  int
	SnapshotsEmitted   int
}

// Walk produces Snapshots for symbol over [startTs, endTs) at the given
// cadence (minutes), invoking onSnapshot for each one in chronological
// order — a lazy sequence rather than a fully materialized slice, so the
// Ingestion Pipeline (pipeline.go) can batch without holding the whole
// range in memory. store should be wrapped with reader.WithViewHorizon by
// the caller when running in walk-forward evaluation mode (spec.md §9).
func Walk(ctx context.Context, store reader.Store, cfg ExtractorConfig, symbol string, startTs, endTs int64, cadenceMinutes int, onSnapshot func(snapshot.Snapshot) error) (Stats, error) {
	var stats Stats
	cadenceMs := int64(cadenceMinutes) * 60_000
	if cadenceMs <= 0 {
		return stats, fmt.Errorf("ingest: cadence must be positive, got %d minutes", cadenceMinutes)
	}

	for t := startTs; t < endTs; t += cadenceMs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.TicksVisited++

		s, skip, err := extractOne(ctx, store, cfg, symbol, t)
		if err != nil {
			return stats, err
		}
		switch skip {
		case skipNoIndicator:
			stats.SkippedNoIndicator++
			continue
		case skipValidation:
			stats.SkippedValidation++
			continue
		}

		stats.SnapshotsEmitted++
		if err := onSnapshot(s); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

type skipReason int

const (
	skipNone skipReason = iota
	skipNoIndicator
	skipValidation
)

func extractOne(ctx context.Context, store reader.Store, cfg ExtractorConfig, symbol string, t int64) (snapshot.Snapshot, skipReason, error) {
	ind3m, ok, err := store.ReadPoint(ctx, reader.IndicatorsThreeM, symbol, t)
	if err != nil {
		return snapshot.Snapshot{}, skipNone, err
	}
	if !ok {
		// step 1: indicators_3m missing at t -> skip (spec.md §4.C)
		return snapshot.Snapshot{}, skipNoIndicator, nil
	}

	s := snapshot.Snapshot{
		Symbol:      symbol,
		TimestampMs: t,
		RSI7:        ind3m["rsi_7"],
		RSI14:       ind3m["rsi_14"],
		MACD:        ind3m["macd"],
		EMA20:       ind3m["ema_20"],
	}

	// step 2: short-horizon series, 3m step, up to 10 samples oldest-first
	shortSeries, err := store.ReadSeries(ctx, reader.IndicatorsThreeM, symbol, t, threeMinMs, 10)
	if err != nil {
		return snapshot.Snapshot{}, skipNone, err
	}
	s.MidPrices = fieldSeries(shortSeries, "mid_price")
	if len(s.MidPrices) == 0 {
		// fall back to candle close as a stand-in mid price
		if candles, err := store.ReadSeries(ctx, reader.CandlesThreeM, symbol, t, threeMinMs, 10); err == nil {
			s.MidPrices = fieldSeries(candles, "close")
		}
	}
	s.EMA20Vals = fieldSeries(shortSeries, "ema_20")
	s.MACDVals = fieldSeries(shortSeries, "macd")
	s.RSI7Vals = fieldSeries(shortSeries, "rsi_7")
	s.RSI14Vals = fieldSeries(shortSeries, "rsi_14")

	// step 3: long-horizon context + series, 4h bar containing t
	fourHBar := floorTo(t, fourHourMs)
	ind4h, ok, err := store.ReadPoint(ctx, reader.IndicatorsFourH, symbol, fourHBar)
	if err != nil {
		return snapshot.Snapshot{}, skipNone, err
	}
	if ok {
		s.EMA20_4h = ind4h["ema_20_4h"]
		s.EMA50_4h = ind4h["ema_50_4h"]
		s.ATR3_4h = ind4h["atr_3_4h"]
		s.ATR14_4h = ind4h["atr_14_4h"]
		s.CurrentVolume4h = ind4h["current_volume_4h"]
		s.AvgVolume4h = ind4h["avg_volume_4h"]
	}
	longSeries, err := store.ReadSeries(ctx, reader.IndicatorsFourH, symbol, fourHBar, fourHourMs, 10)
	if err != nil {
		return snapshot.Snapshot{}, skipNone, err
	}
	s.MACD4hVals = fieldSeries(longSeries, "macd_4h")
	s.RSI14_4hVals = fieldSeries(longSeries, "rsi_14_4h")

	// step 4: price from candles_3m at t
	candle, ok, err := store.ReadPoint(ctx, reader.CandlesThreeM, symbol, t)
	if err != nil {
		return snapshot.Snapshot{}, skipNone, err
	}
	if ok {
		s.Price = candle["close"]
	}

	// step 5: microstructure, with placeholder tracking (SPEC_FULL.md §4.G)
	populateMicrostructure(&s, ind3m, cfg)

	// step 6: forward outcomes, strictly from ts > t (leakage rule)
	if err := fillForwardOutcomes(ctx, store, symbol, t, &s); err != nil {
		return snapshot.Snapshot{}, skipNone, err
	}

	// step 7: validation
	if !s.IsFinite() {
		log.Debug().Str("symbol", symbol).Int64("ts", t).Msg("rejecting snapshot: non-finite value")
		return snapshot.Snapshot{}, skipValidation, nil
	}
	if !s.RSIInRange() {
		log.Debug().Str("symbol", symbol).Int64("ts", t).Msg("rejecting snapshot: RSI out of range")
		return snapshot.Snapshot{}, skipValidation, nil
	}
	// either horizon falling short of the minimum is disqualifying on its
	// own — a healthy long-horizon series does not excuse a near-empty
	// short-horizon one, or vice versa (spec.md §4.C step 7).
	if countPresent(s.MidPrices, s.EMA20Vals, s.MACDVals, s.RSI7Vals, s.RSI14Vals) < cfg.MinSeriesSamples ||
		countPresent(s.MACD4hVals, s.RSI14_4hVals) < cfg.MinSeriesSamples {
		log.Debug().Str("symbol", symbol).Int64("ts", t).Msg("rejecting snapshot: insufficient series history")
		return snapshot.Snapshot{}, skipValidation, nil
	}

	return s, skipNone, nil
}

func populateMicrostructure(s *snapshot.Snapshot, ind3m reader.Record, cfg ExtractorConfig) {
	oiLatest, haveOILatest := ind3m["open_interest_latest"]
	oiAvg, haveOIAvg := ind3m["open_interest_avg_24h"]
	funding, haveFunding := ind3m["funding_rate"]

	s.OpenInterestLatest = oiLatest
	s.OpenInterestAvg24h = oiAvg
	s.FundingRate = funding

	if cfg.TreatZeroOIAsPlaceholder {
		s.OIIsPlaceholder = !haveOILatest && !haveOIAvg
		s.FundingIsPlaceholder = !haveFunding
	}

	if v, ok := ind3m["price_change_1h"]; ok {
		s.PriceChange1h = &v
	}
	if v, ok := ind3m["price_change_4h"]; ok {
		s.PriceChange4h = &v
	}
}

func fillForwardOutcomes(ctx context.Context, store reader.Store, symbol string, t int64, s *snapshot.Snapshot) error {
	basePrice := s.Price
	if basePrice == 0 {
		return nil
	}

	read := func(offsetMs int64) (float64, bool, error) {
		ts := t + offsetMs
		if ts <= t {
			return 0, false, fmt.Errorf("ingest: forward read at or before snapshot timestamp (leakage guard)")
		}
		rec, ok, err := store.ReadPoint(ctx, reader.CandlesThreeM, symbol, ts)
		if err != nil || !ok {
			return 0, false, err
		}
		return rec["close"], true, nil
	}

	pctChange := func(future float64) float64 { return 100 * (future - basePrice) / basePrice }

	if v, ok, err := read(outcome15mMs); err != nil {
		return err
	} else if ok {
		out := pctChange(v)
		s.Outcome15m = &out
	}
	if v, ok, err := read(outcome1hMs); err != nil {
		return err
	} else if ok {
		out := pctChange(v)
		s.Outcome1h = &out
	}
	if v, ok, err := read(outcome4hMs); err != nil {
		return err
	} else if ok {
		out := pctChange(v)
		s.Outcome4h = &out
	}
	if v, ok, err := read(outcome24hMs); err != nil {
		return err
	} else if ok {
		out := pctChange(v)
		s.Outcome24h = &out
	}

	return fillRunupDrawdown(ctx, store, symbol, t, basePrice, s)
}

// fillRunupDrawdown scans every 3m candle strictly within (t, t+1h] to find
// the max run-up / drawdown and stop/target hits (spec.md §4.C step 6).
func fillRunupDrawdown(ctx context.Context, store reader.Store, symbol string, t int64, basePrice float64, s *snapshot.Snapshot) error {
	timestamps, err := store.RangeTimestamps(ctx, reader.CandlesThreeM, symbol, t+1, t+outcome1hMs+1)
	if err != nil {
		return err
	}
	if len(timestamps) == 0 {
		return nil
	}

	maxPrice, minPrice := basePrice, basePrice
	any := false
	for _, ts := range timestamps {
		rec, ok, err := store.ReadPoint(ctx, reader.CandlesThreeM, symbol, ts)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		any = true
		if h, ok := rec["high"]; ok && h > maxPrice {
			maxPrice = h
		}
		if l, ok := rec["low"]; ok && l < minPrice {
			minPrice = l
		}
		if c, ok := rec["close"]; ok {
			if c > maxPrice {
				maxPrice = c
			}
			if c < minPrice {
				minPrice = c
			}
		}
	}
	if !any {
		return nil
	}

	runup := 100 * (maxPrice - basePrice) / basePrice
	drawdown := 100 * (minPrice - basePrice) / basePrice
	s.MaxRunup1h = &runup
	s.MaxDrawdown1h = &drawdown

	hitStop := drawdown <= snapshot.StopLossThresholdPct
	hitTP := runup >= snapshot.TakeProfitThresholdPct
	s.HitStopLoss = &hitStop
	s.HitTakeProfit = &hitTP
	return nil
}

func floorTo(ts, bucketMs int64) int64 {
	return (ts / bucketMs) * bucketMs
}

func fieldSeries(samples []reader.Sample, field string) []float64 {
	out := make([]float64, 0, len(samples))
	for _, sample := range samples {
		if v, ok := sample.Record[field]; ok {
			out = append(out, v)
		}
	}
	return out
}

func countPresent(series ...[]float64) int {
	max := 0
	for _, s := range series {
		if len(s) > max {
			max = len(s)
		}
	}
	return max
}
