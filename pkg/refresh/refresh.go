// Package refresh implements the cache/refresh engine: it decides what is
// fresh, reconciles scheduled background refreshes with concurrent on-demand
// reads, and guarantees callers never observe a half-written entry or treat
// an expired-but-undeleted entry as fresh.
package refresh

import (
	"context"
	"fmt"
	"strings"

	"github.com/illmade-knight/go-newscache/pkg/entrystore"
)

// Topic is a configured news query acting as the cache key.
type Topic struct {
	// ID is the cache key for the topic's entry.
	ID string `yaml:"id"`
	// Query is the search term passed to every article source.
	Query string `yaml:"query"`
}

// Refresher is the contract between the coordinator and its callers (the
// reader, the scheduler, the Pub/Sub trigger).
type Refresher interface {
	Refresh(ctx context.Context, topic Topic) (entrystore.CacheEntry, error)
}

// RefreshError reports a refresh where every configured source failed.
// Individual source failures never cross the refresh boundary on their own;
// only this aggregate does.
type RefreshError struct {
	Topic  string
	Causes []error
}

func (e *RefreshError) Error() string {
	msgs := make([]string, 0, len(e.Causes))
	for _, cause := range e.Causes {
		msgs = append(msgs, cause.Error())
	}
	return fmt.Sprintf("refresh of topic %q failed, all sources errored: %s",
		e.Topic, strings.Join(msgs, "; "))
}

// Unwrap exposes the per-source causes to errors.Is/As.
func (e *RefreshError) Unwrap() []error { return e.Causes }

// ReadError reports a read for which no data could be produced: nothing
// cached, not even stale, and the fallback refresh failed.
type ReadError struct {
	Topic string
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read of topic %q failed with no cached data: %v", e.Topic, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
