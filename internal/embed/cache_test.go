package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ragpatterns/internal/cache"
)

func TestCachedEmbedder_SecondCallServesFromCache(t *testing.T) {
	counting := &countingEmbedder{inner: NewDeterministic(16)}
	c := NewCachedEmbedder(counting, cache.NewMemory(), time.Minute)

	a, err := c.EmbedBatch(context.Background(), []string{"rsi bullish"})
	require.NoError(t, err)
	b, err := c.EmbedBatch(context.Background(), []string{"rsi bullish"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, counting.calls, "second EmbedBatch for the same text should be served from cache")
}

func TestCachedEmbedder_PartialHitOnlyEmbedsMisses(t *testing.T) {
	counting := &countingEmbedder{inner: NewDeterministic(16)}
	c := NewCachedEmbedder(counting, cache.NewMemory(), time.Minute)

	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)

	out, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 2, counting.calls)
	assert.Equal(t, 1, counting.lastBatchSize, "only the uncached text should reach the inner embedder")
}

func TestCachedEmbedder_PreservesInputOrder(t *testing.T) {
	counting := &countingEmbedder{inner: NewDeterministic(16)}
	c := NewCachedEmbedder(counting, cache.NewMemory(), time.Minute)

	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)

	direct, err := NewDeterministic(16).EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	out, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, direct[0], out[0])
	assert.Equal(t, direct[1], out[1])
}

type countingEmbedder struct {
	inner         Embedder
	calls         int
	lastBatchSize int
}

func (c *countingEmbedder) Name() string   { return c.inner.Name() }
func (c *countingEmbedder) Dimension() int { return c.inner.Dimension() }

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.lastBatchSize = len(texts)
	return c.inner.EmbedBatch(ctx, texts)
}
