package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemory_SetThenGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"), time.Minute)
	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestMemory_MissingKey(t *testing.T) {
	c := NewMemory()
	_, ok := c.Get(context.Background(), "absent")
	assert.False(t, ok)
}

func TestMemory_ExpiresAfterTTL(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemory_ZeroTTLNeverExpires(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"), 0)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)
}

func TestNewFromAddr_EmptyAddrReturnsMemory(t *testing.T) {
	c := NewFromAddr("", 0)
	_, isMemory := c.(*memory)
	assert.True(t, isMemory)
}

func TestNewFromAddr_NonEmptyAddrReturnsRedis(t *testing.T) {
	c := NewFromAddr("localhost:6379", 0)
	_, isRedis := c.(*redisCache)
	assert.True(t, isRedis)
}
