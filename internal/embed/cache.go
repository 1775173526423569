package embed

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sawpanic/ragpatterns/internal/cache"
)

// CachedEmbedder wraps an Embedder with a read-through cache keyed on the
// exact rendered text (SPEC_FULL.md §2.2): render_text is a pure function
// of a Snapshot's fields (spec.md §8 property 1), so two snapshots that
// render identically are genuinely the same embedding request and re-
// ingesting or re-querying the same state should not re-pay the ~30-50ms
// per-text embedding cost (spec.md §4.D).
type CachedEmbedder struct {
	inner Embedder
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedEmbedder returns a caching wrapper around inner.
func NewCachedEmbedder(inner Embedder, c cache.Cache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: c, ttl: ttl}
}

func (c *CachedEmbedder) Name() string    { return c.inner.Name() }
func (c *CachedEmbedder) Dimension() int  { return c.inner.Dimension() }

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.inner.Name() + "\x00" + text))
	return fmt.Sprintf("embed:%x", sum)
}

// EmbedBatch serves every text it can from cache and embeds the remainder
// in one inner call, preserving input order in the result.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if raw, ok := c.cache.Get(ctx, c.cacheKey(t)); ok {
			if vec, err := decodeVector(raw); err == nil {
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embed cache: expected %d vectors from inner embedder, got %d", len(missTexts), len(vectors))
	}

	for j, idx := range missIdx {
		out[idx] = vectors[j]
		if raw, err := encodeVector(vectors[j]); err == nil {
			c.cache.Set(ctx, c.cacheKey(texts[idx]), raw, c.ttl)
		}
	}
	return out, nil
}

func encodeVector(v []float32) ([]byte, error) {
	return json.Marshal(v)
}

func decodeVector(raw []byte) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
