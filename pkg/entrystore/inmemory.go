package entrystore

import (
	"context"
	"sync"
	"time"
)

// inMemoryItem pairs an entry with the deadline after which the janitor may
// evict it.
type inMemoryItem struct {
	entry   CacheEntry
	evictAt time.Time
}

// InMemoryStore is a thread-safe, in-memory EntryStore used for local runs
// and tests. Like the durable backends, eviction is asynchronous: an expired
// entry remains readable until the janitor's next sweep, so the reader's
// stale-fallback path behaves the same as against Redis or Firestore.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]inMemoryItem

	janitorStop chan struct{}
	stopOnce    sync.Once
}

// NewInMemoryStore creates an in-memory store. If janitorInterval is greater
// than zero a background sweeper removes entries whose TTL deadline has
// passed; with zero, entries persist until overwritten or deleted.
func NewInMemoryStore(janitorInterval time.Duration) *InMemoryStore {
	s := &InMemoryStore{
		items:       make(map[string]inMemoryItem),
		janitorStop: make(chan struct{}),
	}
	if janitorInterval > 0 {
		go s.janitor(janitorInterval)
	}
	return s
}

// GetEntry returns the stored entry for key, or ErrEntryNotFound. Expired
// entries that the janitor has not yet swept are still returned.
func (s *InMemoryStore) GetEntry(_ context.Context, key string) (CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[key]
	if !ok {
		return CacheEntry{}, ErrEntryNotFound
	}
	return item.entry, nil
}

// PutEntry replaces any prior entry for entry.ID in a single map write.
func (s *InMemoryStore) PutEntry(_ context.Context, entry CacheEntry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[entry.ID] = inMemoryItem{entry: entry, evictAt: time.Now().Add(ttl)}
	return nil
}

// DeleteEntry removes the entry for key. Deleting an absent key is a no-op.
func (s *InMemoryStore) DeleteEntry(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// janitor periodically sweeps entries whose eviction deadline has passed.
func (s *InMemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.janitorStop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, item := range s.items {
				if now.After(item.evictAt) {
					delete(s.items, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the janitor goroutine if one is running.
func (s *InMemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.janitorStop) })
	return nil
}
