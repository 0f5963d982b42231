// Package enrich implements the asynchronous cosmetic/identity resolvers
// and the shared cache contract they all follow: cache-first with TTL,
// at-most-one-in-flight per key, and negative caching.
package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/you/chatglass/internal/core"
)

// Patch merges resolved fields into an already-emitted message. It must
// only touch enrichment fields.
type Patch func(*core.ChatMessage)

// Resolver is one independent enrichment lookup. Resolve never blocks
// message display; the pipeline calls it from its own goroutine and
// applies the returned patch if the message is still buffered.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, msg core.ChatMessage) (Patch, bool)
}

type cacheEntry struct {
	value     any
	ok        bool
	expiresAt time.Time
}

type inflight struct {
	done  chan struct{}
	value any
	ok    bool
}

// Cache is an explicit injectable lookup cache. A TTL of zero or less
// means entries live for the session. Not-found results are cached the
// same as hits, with ok=false, so absent cosmetics are not refetched
// inside the TTL window.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	pending map[string]*inflight

	now func() time.Time // test hook
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		pending: make(map[string]*inflight),
		now:     time.Now,
	}
}

// Do returns the cached value for key, or runs fetch exactly once while
// concurrent callers for the same key wait and share the result.
func (c *Cache) Do(ctx context.Context, key string, fetch func(context.Context) (any, bool)) (any, bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && (c.ttl <= 0 || c.now().Before(e.expiresAt)) {
		c.mu.Unlock()
		return e.value, e.ok
	}
	if fl, ok := c.pending[key]; ok {
		c.mu.Unlock()
		select {
		case <-fl.done:
			return fl.value, fl.ok
		case <-ctx.Done():
			return nil, false
		}
	}
	fl := &inflight{done: make(chan struct{})}
	c.pending[key] = fl
	c.mu.Unlock()

	value, ok := fetch(ctx)

	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, ok: ok, expiresAt: c.now().Add(c.ttl)}
	delete(c.pending, key)
	c.mu.Unlock()

	fl.value, fl.ok = value, ok
	close(fl.done)
	return value, ok
}

// Reset drops all cached entries. In-flight fetches complete normally and
// re-populate.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
