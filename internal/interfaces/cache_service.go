// Package interfaces provides service interfaces for dependency injection.
package interfaces

// DedupStats reports dedup cache effectiveness for the status endpoint
type DedupStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries uint64 `json:"entries"`
}

// DedupCache is the fast-path duplicate check sitting in front of the
// queue store. Entries expire on a TTL; a miss is never authoritative, the
// caller still consults storage before enqueueing.
type DedupCache interface {
	// Check reports whether the url_hash was seen recently.
	Check(urlHash string) bool

	// Set records a url_hash as seen.
	Set(urlHash string)

	// SetMany records a batch of url_hashes, e.g. after a rotation enqueue.
	SetMany(urlHashes []string)

	// Stats returns hit/miss counters.
	Stats() DedupStats

	// Close releases the cache.
	Close()
}
