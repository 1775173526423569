// Package cache provides an optional read-through byte cache for the
// Historical Reader and the Embedder (SPEC_FULL.md §2.2's "Optional
// read-through cache" row). Grounded on the teacher's data/cache/cache.go:
// an in-process map by default, upgraded to Redis when an address is
// configured, behind the same two-method interface so callers never know
// which backend is live.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a byte-oriented get/set contract small enough that both
// backends below satisfy it trivially.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

// NewMemory returns a process-local cache with no persistence or
// cross-instance sharing; the default when no Redis address is
// configured.
func NewMemory() Cache {
	return &memory{entries: make(map[string]entry)}
}

type memory struct {
	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	val []byte
	exp time.Time
}

func (m *memory) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(m.entries, key)
		return nil, false
	}
	return e.val, true
}

func (m *memory) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	m.entries[key] = e
}

// redisCache is a thin Cache adapter over go-redis; misses and errors are
// both treated as cache misses so a down Redis degrades to "no cache"
// rather than failing the caller's read.
type redisCache struct {
	client *redis.Client
}

// NewRedis connects to addr (host:port) and returns a Cache backed by it.
// Connection errors surface lazily on the first Get/Set, not here.
func NewRedis(addr string, db int) Cache {
	return &redisCache{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	_ = r.client.Set(ctx, key, val, ttl).Err()
}

// NewFromAddr returns NewMemory() when addr is empty, otherwise a Redis
// cache pointed at addr — the same "auto" idiom as the teacher's
// cache.NewAuto(), but with the address threaded through config instead
// of read from an environment variable directly (spec.md's non-goal list
// excludes ad hoc env-var configuration from this core).
func NewFromAddr(addr string, db int) Cache {
	if addr == "" {
		return NewMemory()
	}
	return NewRedis(addr, db)
}
