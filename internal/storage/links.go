package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LinkCache serves presigned download URLs through a TTL-bounded LRU so a
// URL is not regenerated on every request. Cached entries expire at half
// the presign TTL, so a URL handed out from the cache always has at least
// half its lifetime remaining.
type LinkCache struct {
	remote Remote
	cache  *expirable.LRU[string, string]
	ttl    time.Duration
}

// NewLinkCache creates a link cache in front of the remote store.
// Size bounds the number of cached URLs; ttl is the presign lifetime.
func NewLinkCache(remote Remote, size int, ttl time.Duration) *LinkCache {
	if size <= 0 {
		size = 256
	}
	return &LinkCache{
		remote: remote,
		cache:  expirable.NewLRU[string, string](size, nil, ttl/2),
		ttl:    ttl,
	}
}

// URL returns a presigned fetch URL for the key, from cache when possible.
func (c *LinkCache) URL(ctx context.Context, key string) (string, error) {
	if url, ok := c.cache.Get(key); ok {
		return url, nil
	}

	url, err := c.remote.Presign(ctx, key, c.ttl)
	if err != nil {
		return "", err
	}

	c.cache.Add(key, url)
	return url, nil
}

// Invalidate drops the cached URL for a key, if any.
// Called after deletion so a removed object's link dies with it.
func (c *LinkCache) Invalidate(key string) {
	c.cache.Remove(key)
}
