// Package session tracks per-user retrieval counters used to rate-limit
// how many files a user may fetch in one session. Counters live in memory
// only; a restart resets every session, which is acceptable because the
// limit exists to curb abuse, not to meter usage durably.
package session

import "sync"

// DefaultMaxFilesPerSession caps how many objects a single user can
// request before an operator reset is required.
const DefaultMaxFilesPerSession = 10

type (
	Store interface {
		// Increment records one retrieval for the user and reports the new
		// total alongside whether the user is still within the limit.
		Increment(userID int64) (count int, allowed bool)
		Count(userID int64) int
		Reset(userID int64)
		ResetAll()
	}

	memoryStore struct {
		mu       sync.Mutex
		counts   map[int64]int
		maxFiles int
	}
)

func NewStore(maxFiles int) *memoryStore {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFilesPerSession
	}

	return &memoryStore{counts: make(map[int64]int), maxFiles: maxFiles}
}

func (store *memoryStore) Increment(userID int64) (int, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.counts[userID] >= store.maxFiles {
		return store.counts[userID], false
	}

	store.counts[userID]++
	return store.counts[userID], true
}

func (store *memoryStore) Count(userID int64) int {
	store.mu.Lock()
	defer store.mu.Unlock()

	return store.counts[userID]
}

func (store *memoryStore) Reset(userID int64) {
	store.mu.Lock()
	defer store.mu.Unlock()

	delete(store.counts, userID)
}

func (store *memoryStore) ResetAll() {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.counts = make(map[int64]int)
}
