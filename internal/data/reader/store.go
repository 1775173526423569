// Package reader provides read-only, concurrent-safe access to the
// historical time-series store (spec.md §4.B / §6.3): an ordered
// key-value store of candles and pre-computed indicators, keyed
// "SYMBOL:TIMESTAMP_MS" with a fixed-width decimal timestamp so range scans
// stay monotonic in time. The real store (a memory-mapped engine) is an
// external collaborator this core never writes to (spec.md §1) — this
// package only defines the contract and two reference implementations used
// by tests, demos, and the `mock` data source.
package reader

import "context"

// Table names the four logical tables spec.md §4.B requires.
type Table string

const (
	CandlesThreeM    Table = "candles_3m"
	CandlesFourH     Table = "candles_4h"
	IndicatorsThreeM Table = "indicators_3m"
	IndicatorsFourH  Table = "indicators_4h"
)

// Record is the per-bar JSON object stored under a key. For candle tables
// the well-known fields are "open", "high", "low", "close", "volume"; for
// indicator tables the keys match the field names in spec.md §3.1 (e.g.
// "rsi_7", "macd", "ema_20_4h", "open_interest_latest", "funding_rate").
// Missing keys simply mean that field wasn't recorded at this bar.
type Record map[string]float64

// Sample pairs a record with the timestamp it was read at.
type Sample struct {
	TimestampMs int64
	Record      Record
}

// Store is the read-only contract the Snapshot Extractor depends on.
// Implementations must be safe for concurrent use by multiple readers.
type Store interface {
	// ReadPoint returns the record at exactly ts, or ok=false if absent.
	// A missing key is not an error (spec.md §4.B failure semantics).
	ReadPoint(ctx context.Context, table Table, symbol string, ts int64) (rec Record, ok bool, err error)

	// ReadSeries returns up to count samples ending at or before endTs,
	// stepping backward by stepMs, oldest first. Missing samples are
	// omitted, so the result may have fewer than count entries.
	ReadSeries(ctx context.Context, table Table, symbol string, endTs int64, stepMs int64, count int) ([]Sample, error)

	// RangeTimestamps enumerates every timestamp present for symbol in
	// [startTs, endTs), ascending.
	RangeTimestamps(ctx context.Context, table Table, symbol string, startTs, endTs int64) ([]int64, error)
}
