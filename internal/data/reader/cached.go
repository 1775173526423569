package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sawpanic/ragpatterns/internal/cache"
)

// Cached wraps a Store with a read-through byte cache for ReadPoint
// lookups (SPEC_FULL.md §2.2). Historical records never change once
// written, so there is no invalidation path — only a TTL, set generously
// short of "forever" so a long-lived server eventually reflects store
// corrections rather than serving a stale record indefinitely.
type Cached struct {
	inner Store
	cache cache.Cache
	ttl   time.Duration
}

// WithCache returns a Store that serves ReadPoint from cache when
// present, falling back to inner on a miss and populating the cache
// afterward. ReadSeries and RangeTimestamps pass straight through to
// inner uncached; the point reads inner makes for them do not go through
// this cache.
func WithCache(inner Store, c cache.Cache, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: c, ttl: ttl}
}

func cacheKey(table Table, symbol string, ts int64) string {
	return fmt.Sprintf("hist:%s:%s:%d", table, symbol, ts)
}

func (c *Cached) ReadPoint(ctx context.Context, table Table, symbol string, ts int64) (Record, bool, error) {
	key := cacheKey(table, symbol, ts)
	if raw, ok := c.cache.Get(ctx, key); ok {
		if len(raw) == 0 {
			return nil, false, nil // cached negative result
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err == nil {
			return rec, true, nil
		}
	}

	rec, ok, err := c.inner.ReadPoint(ctx, table, symbol, ts)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		c.cache.Set(ctx, key, nil, c.ttl)
		return nil, false, nil
	}
	if raw, err := json.Marshal(rec); err == nil {
		c.cache.Set(ctx, key, raw, c.ttl)
	}
	return rec, true, nil
}

func (c *Cached) ReadSeries(ctx context.Context, table Table, symbol string, endTs int64, stepMs int64, count int) ([]Sample, error) {
	return c.inner.ReadSeries(ctx, table, symbol, endTs, stepMs, count)
}

func (c *Cached) RangeTimestamps(ctx context.Context, table Table, symbol string, startTs, endTs int64) ([]int64, error) {
	return c.inner.RangeTimestamps(ctx, table, symbol, startTs, endTs)
}
