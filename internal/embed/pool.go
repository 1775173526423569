package embed

import "context"

// Pool bounds concurrent embedding calls to a fixed depth, shared across
// all RPC connections and ingestion jobs so a burst of retrieval requests
// cannot overrun the embedding backend (spec.md §5's per-process resource
// budget). Grounded on the teacher's per-host rate limiter idiom
// (internal/net/ratelimit/limiter.go), reshaped into a semaphore since the
// embedder has no per-host concept.
type Pool struct {
	inner Embedder
	sem   chan struct{}
}

// NewPool wraps inner with an admission semaphore of the given depth.
// depth <= 0 is treated as 64, the default queue depth spec.md §5 assigns
// to the embedder pool.
func NewPool(inner Embedder, depth int) *Pool {
	if depth <= 0 {
		depth = 64
	}
	return &Pool{inner: inner, sem: make(chan struct{}, depth)}
}

func (p *Pool) Name() string   { return p.inner.Name() }
func (p *Pool) Dimension() int { return p.inner.Dimension() }

// EmbedBatch implements Embedder, blocking until a pool slot is free or
// ctx is canceled.
func (p *Pool) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.sem }()

	return p.inner.EmbedBatch(ctx, texts)
}
