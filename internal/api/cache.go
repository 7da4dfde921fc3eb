package api

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ResponseCache is an in-process TTL cache for computed API responses. It is
// strictly best-effort: a miss or failure always falls through to
// recomputation and never fails a request.
type ResponseCache struct {
	store *gocache.Cache
}

// NewResponseCache creates a cache whose entries expire after ttl
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		store: gocache.New(ttl, 2*ttl),
	}
}

// Key builds a cache key from its parts
func (c *ResponseCache) Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Get returns the cached response for key, if present and fresh
func (c *ResponseCache) Get(key string) (any, bool) {
	return c.store.Get(key)
}

// Set stores a response under key with the default TTL
func (c *ResponseCache) Set(key string, value any) {
	c.store.Set(key, value, gocache.DefaultExpiration)
}
