package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Deterministic hashes 3-grams of the input text into a fixed-width
// vector and L2-normalizes the result. It needs no network access and
// produces the same vector for the same text every time, which makes it
// the default embedder for tests and for offline fixture generation.
// Grounded on intelligencedev-manifold's deterministicEmbedder
// (internal/rag/embedder/embedder.go).
type Deterministic struct {
	dim int
}

// NewDeterministic returns a Deterministic embedder producing vectors of
// the given dimension.
func NewDeterministic(dim int) *Deterministic {
	if dim <= 0 {
		dim = 256
	}
	return &Deterministic{dim: dim}
}

func (d *Deterministic) Name() string    { return "deterministic-hash" }
func (d *Deterministic) Dimension() int  { return d.dim }

// EmbedBatch implements Embedder.
func (d *Deterministic) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *Deterministic) embedOne(text string) []float32 {
	vec := make([]float64, d.dim)
	normalized := strings.ToLower(strings.TrimSpace(text))
	grams := threeGrams(normalized)
	if len(grams) == 0 {
		grams = []string{normalized}
	}
	for _, g := range grams {
		h := fnv.New64a()
		_, _ = h.Write([]byte(g))
		idx := int(h.Sum64() % uint64(d.dim))
		vec[idx] += 1.0
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, d.dim)
	if norm < 1e-12 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func threeGrams(s string) []string {
	runes := []rune(s)
	if len(runes) < 3 {
		if len(runes) == 0 {
			return nil
		}
		return []string{s}
	}
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, string(runes[i:i+3]))
	}
	return out
}
