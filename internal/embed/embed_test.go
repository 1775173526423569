package embed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministic_SameTextSameVector(t *testing.T) {
	e := NewDeterministic(64)
	a, err := e.EmbedBatch(context.Background(), []string{"rsi bullish momentum rising"})
	require.NoError(t, err)
	b, err := e.EmbedBatch(context.Background(), []string{"rsi bullish momentum rising"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDeterministic_DifferentTextDifferentVector(t *testing.T) {
	e := NewDeterministic(64)
	a, err := e.EmbedBatch(context.Background(), []string{"uptrend rising"})
	require.NoError(t, err)
	b, err := e.EmbedBatch(context.Background(), []string{"downtrend dropping significantly"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDeterministic_VectorIsUnitNorm(t *testing.T) {
	e := NewDeterministic(32)
	vecs, err := e.EmbedBatch(context.Background(), []string{"bearish oversold funding negative"})
	require.NoError(t, err)
	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)
}

func TestDeterministic_EmptyTextYieldsUnitVector(t *testing.T) {
	e := NewDeterministic(8)
	vecs, err := e.EmbedBatch(context.Background(), []string{""})
	require.NoError(t, err)
	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	var inFlight int32
	var maxObserved int32
	blocking := blockingEmbedder{
		fn: func() {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxObserved)
				if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		},
	}
	pool := NewPool(blocking, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = pool.EmbedBatch(context.Background(), []string{"x"})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, int(maxObserved), 2)
}

type blockingEmbedder struct {
	fn func()
}

func (b blockingEmbedder) Name() string   { return "blocking" }
func (b blockingEmbedder) Dimension() int { return 1 }
func (b blockingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.fn()
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}
