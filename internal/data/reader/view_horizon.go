package reader

import (
	"context"
	"fmt"
)

// ViewHorizon wraps a Store so that, in walk-forward evaluation mode, reads
// at or beyond a fixed upper-bound timestamp are refused outright rather
// than silently returning future data. This is the leakage guard spec.md
// §4.C/§9 calls for: "the reader must never present data beyond end_ts
// when the extractor is run in walk-forward evaluation mode." Violations
// raise at test time (an error), not in production, where horizon is left
// unset (0 disables the guard).
type ViewHorizon struct {
	inner   Store
	horizon int64 // 0 = disabled
}

// WithViewHorizon returns a Store that rejects any read at ts >= horizon.
// Pass horizon <= 0 to disable the guard (ordinary production reads).
func WithViewHorizon(inner Store, horizon int64) *ViewHorizon {
	return &ViewHorizon{inner: inner, horizon: horizon}
}

func (v *ViewHorizon) check(ts int64) error {
	if v.horizon > 0 && ts >= v.horizon {
		return fmt.Errorf("reader: leakage guard violated, read at ts=%d >= view horizon %d", ts, v.horizon)
	}
	return nil
}

func (v *ViewHorizon) ReadPoint(ctx context.Context, table Table, symbol string, ts int64) (Record, bool, error) {
	if err := v.check(ts); err != nil {
		return nil, false, err
	}
	return v.inner.ReadPoint(ctx, table, symbol, ts)
}

func (v *ViewHorizon) ReadSeries(ctx context.Context, table Table, symbol string, endTs int64, stepMs int64, count int) ([]Sample, error) {
	if err := v.check(endTs); err != nil {
		return nil, err
	}
	return v.inner.ReadSeries(ctx, table, symbol, endTs, stepMs, count)
}

func (v *ViewHorizon) RangeTimestamps(ctx context.Context, table Table, symbol string, startTs, endTs int64) ([]int64, error) {
	if err := v.check(endTs - 1); err != nil {
		return nil, err
	}
	return v.inner.RangeTimestamps(ctx, table, symbol, startTs, endTs)
}
