package entrystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/illmade-knight/go-newscache/pkg/news"
)

// ErrEntryNotFound is returned by GetEntry when no entry exists for a key.
// Backends map their native miss signal (redis.Nil, Firestore NotFound) to
// this sentinel so callers never see backend types.
var ErrEntryNotFound = errors.New("cache entry not found")

// CacheEntry is the unit of storage: the full merged article list for one
// topic, stamped with its fetch and expiry times. Entries are only ever
// replaced whole; no backend mutates an entry in place.
type CacheEntry struct {
	ID        string         `json:"id" firestore:"id"`
	Articles  []news.Article `json:"articles" firestore:"articles"`
	FetchedAt time.Time      `json:"fetched_at" firestore:"fetchedAt"`
	ExpiresAt time.Time      `json:"expires_at" firestore:"expiresAt"`
}

// Fresh reports whether the entry is still within its TTL at the given time.
// An entry that is present but not fresh is stale: the backend has not yet
// evicted it, and the reader may fall back to it when a refresh fails.
func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// EntryStore is the contract over the durable key-value medium. Backends are
// responsible for eventual TTL eviction; callers must never assume eviction
// is synchronous with expiry.
type EntryStore interface {
	// GetEntry returns the stored entry for key, or ErrEntryNotFound.
	GetEntry(ctx context.Context, key string) (CacheEntry, error)
	// PutEntry stores the entry whole, fully replacing any prior entry for
	// entry.ID, with the given ttl for eventual eviction.
	PutEntry(ctx context.Context, entry CacheEntry, ttl time.Duration) error
	// DeleteEntry removes the entry for key. Deleting an absent key is not
	// an error.
	DeleteEntry(ctx context.Context, key string) error
	io.Closer
}

// StoreError reports a failed store operation other than a simple miss.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("entry store: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
