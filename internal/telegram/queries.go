package telegram

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Callback data is limited to 64 bytes, far too small to carry a query
// string through a pagination round-trip. The registry parks queries under
// a short ID instead; entries expire so the map cannot grow unbounded.
const queryTTL = 30 * time.Minute

type (
	queryEntry struct {
		query   string
		expires time.Time
	}

	queryRegistry struct {
		mu      sync.Mutex
		entries map[string]queryEntry
	}
)

func newQueryRegistry() *queryRegistry {
	return &queryRegistry{entries: make(map[string]queryEntry)}
}

func (registry *queryRegistry) register(query string) string {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.evictExpired()

	id := uuid.NewString()[:8]
	registry.entries[id] = queryEntry{query: query, expires: time.Now().Add(queryTTL)}
	return id
}

func (registry *queryRegistry) lookup(id string) (string, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	entry, ok := registry.entries[id]
	if !ok || time.Now().After(entry.expires) {
		delete(registry.entries, id)
		return "", false
	}

	return entry.query, true
}

func (registry *queryRegistry) evictExpired() {
	now := time.Now()
	for id, entry := range registry.entries {
		if now.After(entry.expires) {
			delete(registry.entries, id)
		}
	}
}
