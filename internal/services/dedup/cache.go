// -----------------------------------------------------------------------
// Dedup Cache - recently-seen URL hashes in front of the queue store
// -----------------------------------------------------------------------

package dedup

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/interfaces"
)

// DefaultTTL is how long a url_hash stays in the fast path after it was
// last enqueued. Storage remains the authoritative dedup check; the TTL
// only bounds how stale the fast path can get.
const DefaultTTL = 5 * time.Minute

// defaultMaxEntries bounds the cache; at one entry per canonical URL this
// covers weeks of rotation output.
const defaultMaxEntries = 100_000

// Cache implements interfaces.DedupCache on ristretto with per-entry TTL
type Cache struct {
	cache  *ristretto.Cache[string, struct{}]
	ttl    time.Duration
	logger arbor.ILogger
}

// NewCache creates a dedup cache. A zero ttl or maxEntries selects the
// defaults.
func NewCache(ttl time.Duration, maxEntries int64, logger arbor.ILogger) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	logger.Debug().
		Dur("ttl", ttl).
		Int64("max_entries", maxEntries).
		Msg("Dedup cache initialized")

	return &Cache{
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Check reports whether the url_hash was seen within the TTL window
func (c *Cache) Check(urlHash string) bool {
	_, found := c.cache.Get(urlHash)
	return found
}

// Set records a url_hash as seen
func (c *Cache) Set(urlHash string) {
	c.cache.SetWithTTL(urlHash, struct{}{}, 1, c.ttl)
}

// SetMany records a batch and waits for the writes to become visible, so
// a rotation's own enqueues dedup against each other immediately.
func (c *Cache) SetMany(urlHashes []string) {
	for _, h := range urlHashes {
		c.cache.SetWithTTL(h, struct{}{}, 1, c.ttl)
	}
	c.cache.Wait()
}

// Wait blocks until buffered writes are applied. Set is asynchronous in
// ristretto; callers that need read-your-write call this.
func (c *Cache) Wait() {
	c.cache.Wait()
}

// Stats returns hit/miss counters from the cache metrics
func (c *Cache) Stats() interfaces.DedupStats {
	m := c.cache.Metrics
	added := m.KeysAdded()
	evicted := m.KeysEvicted()
	var entries uint64
	if added > evicted {
		entries = added - evicted
	}
	return interfaces.DedupStats{
		Hits:    m.Hits(),
		Misses:  m.Misses(),
		Entries: entries,
	}
}

// Close releases the cache
func (c *Cache) Close() {
	c.cache.Close()
}
