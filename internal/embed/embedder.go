// Package embed turns rendered snapshot text into vectors (component D,
// spec.md §4.D). Grounded on intelligencedev-manifold's rag/embedder
// package since the teacher carries no embedding concern of its own.
package embed

import "context"

// Embedder converts a batch of texts into L2-normalized vectors of a fixed
// Dimension. Implementations must return vectors in the same order as the
// input texts.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
}
