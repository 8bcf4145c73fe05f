package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-newscache/pkg/entrystore"
	"github.com/illmade-knight/go-newscache/pkg/news"
)

// ReaderConfig holds tuning for the cache reader.
type ReaderConfig struct {
	// RequestTimeout bounds how long a read blocks on a fallback refresh.
	// Defaults to 10s. On timeout the refresh counts as failed and the
	// degrade-to-stale policy applies; the refresh itself keeps running for
	// any other waiters.
	RequestTimeout time.Duration
}

// Reader serves read requests from the entry store. On a miss or a stale
// hit it falls back to a synchronous refresh, joining any refresh already in
// flight for the topic rather than issuing a duplicate fetch.
type Reader struct {
	cfg       ReaderConfig
	store     entrystore.EntryStore
	refresher Refresher
	logger    zerolog.Logger
}

// NewReader creates a Reader over the store and the refresh coordinator.
func NewReader(cfg ReaderConfig, store entrystore.EntryStore, refresher Refresher, logger zerolog.Logger) (*Reader, error) {
	if store == nil {
		return nil, errors.New("entry store cannot be nil")
	}
	if refresher == nil {
		return nil, errors.New("refresher cannot be nil")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Reader{
		cfg:       cfg,
		store:     store,
		refresher: refresher,
		logger:    logger.With().Str("component", "Reader").Logger(),
	}, nil
}

// Read returns the articles for a topic: the cached list on a fresh hit,
// the result of a synchronous refresh on a miss or stale hit, or the stale
// list when that refresh fails. It fails with *ReadError only when no data
// has ever been cached for the topic and the refresh failed too.
func (r *Reader) Read(ctx context.Context, topic Topic) ([]news.Article, error) {
	entry, err := r.store.GetEntry(ctx, topic.ID)
	if err != nil && !errors.Is(err, entrystore.ErrEntryNotFound) {
		r.logger.Error().Err(err).Str("topic", topic.ID).Msg("Store lookup failed.")
		return nil, &ReadError{Topic: topic.ID, Err: err}
	}

	haveStale := err == nil
	if haveStale && entry.Fresh(time.Now()) {
		r.logger.Debug().Str("topic", topic.ID).Msg("Cache hit.")
		return entry.Articles, nil
	}

	refreshCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	fresh, refreshErr := r.refresher.Refresh(refreshCtx, topic)
	if refreshErr == nil {
		return fresh.Articles, nil
	}

	if haveStale {
		// Degrade gracefully: a transient provider outage should not fail
		// a caller that has data, just old data.
		r.logger.Warn().Err(refreshErr).Str("topic", topic.ID).
			Time("fetched_at", entry.FetchedAt).
			Msg("Refresh failed, serving stale entry.")
		return entry.Articles, nil
	}

	r.logger.Error().Err(refreshErr).Str("topic", topic.ID).Msg("Refresh failed with no cached data.")
	return nil, &ReadError{Topic: topic.ID, Err: refreshErr}
}
