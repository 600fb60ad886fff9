package memory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultSize = 1024

// LRU is an in-process response cache bounded by entry count.
type LRU struct {
	entries *expirable.LRU[string, string]
}

// New returns a cache holding at most size responses. A zero ttl keeps
// entries until they are evicted by size.
func New(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = defaultSize
	}
	return &LRU{entries: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (c *LRU) Name() string { return "memory" }

func (c *LRU) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.entries.Get(key)
	return v, ok, nil
}

func (c *LRU) Set(_ context.Context, key, value string) error {
	c.entries.Add(key, value)
	return nil
}

func (c *LRU) Delete(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

func (c *LRU) Len() int {
	return c.entries.Len()
}
