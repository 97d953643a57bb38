package search

import (
	"time"

	"github.com/Johnmclane5/TgSearchBot/internal/catalog"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultTTL bounds how stale a cached result page may be served.
	DefaultTTL = time.Second * 300

	// DefaultMaxEntries bounds the cache size. Scope cardinality is small
	// by construction so this is generous headroom, not a tuning knob.
	DefaultMaxEntries = 512
)

type (
	// Key identifies one cached result page: a sanitized query scoped to
	// a single channel, at a given page of the result set. Callers must
	// sanitize the query before building the key so that equivalent
	// queries share an entry.
	Key struct {
		Query     string
		ChannelID int64
		Page      int
	}

	// Cache is the short-lived search result cache. Entries expire after
	// the TTL and whole scopes are dropped when ingestion changes their
	// result set. Each process holds its own cache; there is no cross
	// process coherence beyond the TTL.
	Cache struct {
		lru *expirable.LRU[Key, *catalog.SearchPage]
	}
)

// NewCache creates a search cache holding up to maxEntries pages, each
// served for at most ttl after being stored.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		lru: expirable.NewLRU[Key, *catalog.SearchPage](maxEntries, nil, ttl),
	}
}

// Get returns the cached page for the key, or (nil, false) when the entry
// is absent or has outlived the TTL.
func (cache *Cache) Get(key Key) (*catalog.SearchPage, bool) {
	return cache.lru.Get(key)
}

// Put stores a result page against the key, stamping it with the current
// time. Nothing is evicted proactively beyond the size bound.
func (cache *Cache) Put(key Key, page *catalog.SearchPage) {
	cache.lru.Add(key, page)
}

// InvalidateScope removes every cached page belonging to the channel
// given. Invoked after ingestion completes for that channel so queries
// never serve results which pre-date the newly catalogued files.
func (cache *Cache) InvalidateScope(channelID int64) {
	for _, key := range cache.lru.Keys() {
		if key.ChannelID == channelID {
			cache.lru.Remove(key)
		}
	}
}

// Len reports the number of live entries, expired entries included until
// the underlying store reaps them.
func (cache *Cache) Len() int {
	return cache.lru.Len()
}
