package server

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// resultCache maps request digests to encoded responses. A nil cache never
// hits, which is how caching is disabled.
type resultCache struct {
	lru *expirable.LRU[string, []byte]
}

func newResultCache(size int, ttl time.Duration) *resultCache {
	if ttl <= 0 || size <= 0 {
		return nil
	}
	return &resultCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *resultCache) get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

func (c *resultCache) put(key string, body []byte) {
	if c == nil {
		return
	}
	c.lru.Add(key, body)
}
