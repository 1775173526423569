package reader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ragpatterns/internal/cache"
)

type countingStore struct {
	inner Store
	reads int
}

func (c *countingStore) ReadPoint(ctx context.Context, table Table, symbol string, ts int64) (Record, bool, error) {
	c.reads++
	return c.inner.ReadPoint(ctx, table, symbol, ts)
}

func (c *countingStore) ReadSeries(ctx context.Context, table Table, symbol string, endTs int64, stepMs int64, count int) ([]Sample, error) {
	return c.inner.ReadSeries(ctx, table, symbol, endTs, stepMs, count)
}

func (c *countingStore) RangeTimestamps(ctx context.Context, table Table, symbol string, startTs, endTs int64) ([]int64, error) {
	return c.inner.RangeTimestamps(ctx, table, symbol, startTs, endTs)
}

func TestCached_SecondReadPointServesFromCache(t *testing.T) {
	mock := NewMock([]string{"BTCUSDT"})
	counting := &countingStore{inner: mock}
	cached := WithCache(counting, cache.NewMemory(), time.Minute)

	ctx := context.Background()
	a, ok, err := cached.ReadPoint(ctx, IndicatorsThreeM, "BTCUSDT", 1000)
	require.NoError(t, err)
	require.True(t, ok)

	b, ok, err := cached.ReadPoint(ctx, IndicatorsThreeM, "BTCUSDT", 1000)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, counting.reads)
}

func TestCached_CachesNegativeResult(t *testing.T) {
	mock := NewMock([]string{"BTCUSDT"})
	counting := &countingStore{inner: mock}
	cached := WithCache(counting, cache.NewMemory(), time.Minute)

	ctx := context.Background()
	_, ok, err := cached.ReadPoint(ctx, IndicatorsThreeM, "ETHUSDT", 1000)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = cached.ReadPoint(ctx, IndicatorsThreeM, "ETHUSDT", 1000)
	require.NoError(t, err)
	require.False(t, ok)
	assert.Equal(t, 1, counting.reads)
}
