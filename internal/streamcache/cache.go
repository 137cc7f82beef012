// Package streamcache caches ephemeral direct-media URLs so repeated
// playback requests do not pay for a fresh resolution call.
package streamcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds how long a resolved URL is trusted. Upstream media URLs
// expire on their own schedule; two hours stays safely inside it.
const DefaultTTL = 2 * time.Hour

// Resolver produces a fresh direct media URL for a content id.
type Resolver func(ctx context.Context, contentID string) (string, error)

type entry struct {
	url       string
	fetchedAt time.Time
}

// Cache is a TTL-bounded map of content id to resolved URL. A single coarse
// lock guards lookup and insert; write frequency is at most one per content
// id per TTL window. Entries are replaced on expiry, never evicted, so the
// map grows with content-id cardinality over process lifetime.
type Cache struct {
	resolve Resolver
	ttl     time.Duration

	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group

	now func() time.Time
}

// New builds a cache around the given resolver. A non-positive ttl falls
// back to DefaultTTL.
func New(resolve Resolver, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		resolve: resolve,
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached URL when fresh, otherwise resolves exactly once
// (concurrent misses for the same id share one resolution) and replaces the
// entry.
func (c *Cache) Get(ctx context.Context, contentID string) (string, error) {
	c.mu.Lock()
	if e, ok := c.entries[contentID]; ok && c.now().Sub(e.fetchedAt) <= c.ttl {
		c.mu.Unlock()
		return e.url, nil
	}
	c.mu.Unlock()

	url, err, _ := c.group.Do(contentID, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have refreshed
		// the entry while this one waited on the group.
		c.mu.Lock()
		if e, ok := c.entries[contentID]; ok && c.now().Sub(e.fetchedAt) <= c.ttl {
			c.mu.Unlock()
			return e.url, nil
		}
		c.mu.Unlock()

		resolved, err := c.resolve(ctx, contentID)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[contentID] = entry{url: resolved, fetchedAt: c.now()}
		c.mu.Unlock()
		return resolved, nil
	})
	if err != nil {
		return "", err
	}
	return url.(string), nil
}

// Len reports the number of cached entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
