package websearch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cached wraps a Provider with a TTL cache. Identical concurrent queries are
// coalesced into one upstream request.
type Cached struct {
	provider Provider
	ttl      time.Duration
	group    singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	results []Result
	expires time.Time
}

// NewCached returns provider wrapped in a cache. A non-positive ttl keeps
// entries for the lifetime of the Cached value.
func NewCached(provider Provider, ttl time.Duration) *Cached {
	return &Cached{
		provider: provider,
		ttl:      ttl,
		entries:  make(map[string]cacheEntry),
	}
}

// Name implements Provider.
func (c *Cached) Name() string { return c.provider.Name() }

// Search implements Provider.
func (c *Cached) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	key := fmt.Sprintf("%d|%s", limitCount(maxResults), strings.ToLower(strings.Join(strings.Fields(query), " ")))

	if results, ok := c.lookup(key); ok {
		return results, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if results, ok := c.lookup(key); ok {
			return results, nil
		}
		results, err := c.provider.Search(ctx, query, maxResults)
		if err != nil {
			return nil, err
		}
		c.store(key, results)
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneResults(v.([]Result)), nil
}

func (c *Cached) lookup(key string) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return cloneResults(e.results), true
}

func (c *Cached) store(key string, results []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{results: cloneResults(results), expires: time.Now().Add(c.ttl)}
}

// Len returns the number of cached queries.
func (c *Cached) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cloneResults(in []Result) []Result {
	out := make([]Result, len(in))
	copy(out, in)
	return out
}
