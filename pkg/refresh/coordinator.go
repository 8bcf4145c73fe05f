package refresh

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/illmade-knight/go-newscache/pkg/entrystore"
	"github.com/illmade-knight/go-newscache/pkg/news"
)

// CoordinatorConfig holds tuning for the refresh coordinator.
type CoordinatorConfig struct {
	// TTL is how long a refreshed entry stays fresh. Defaults to one hour,
	// matching the default scheduled refresh interval.
	TTL time.Duration
	// FetchTimeout bounds the total source-fetch time of one refresh.
	// Defaults to 10s; it also bounds how long an on-demand reader can be
	// blocked by its fallback refresh.
	FetchTimeout time.Duration
	// StoreTimeout bounds each store operation a refresh issues. Store calls
	// run on their own budget, detached from the fetch deadline: a fetch that
	// consumes the whole FetchTimeout must not starve the write that follows
	// it, or the failure-policy bookkeeping. Defaults to 5s.
	StoreTimeout time.Duration
	// FailureLimit is the number of consecutive total failures after which
	// an entry past the stale ceiling is explicitly deleted. Defaults to 3.
	FailureLimit int
	// StaleCeiling is the maximum age beyond which repeatedly-unrefreshable
	// data is deleted rather than served. Defaults to 3×TTL.
	StaleCeiling time.Duration
}

func (c *CoordinatorConfig) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.FailureLimit <= 0 {
		c.FailureLimit = 3
	}
	if c.StaleCeiling <= 0 {
		c.StaleCeiling = 3 * c.TTL
	}
}

// Coordinator orchestrates one refresh per topic: it fans out to every
// configured source, merges partial successes, and replaces the topic's
// cache entry in a single store write. It is the only writer of entries.
//
// Refreshes are single-flight per topic: concurrent calls for the same topic
// join one in-flight fetch instead of issuing duplicates, which also gives
// the store its one-writer-per-key guarantee without a global lock.
type Coordinator struct {
	cfg     CoordinatorConfig
	sources []news.ArticleSource
	store   entrystore.EntryStore
	logger  zerolog.Logger

	group singleflight.Group

	mu       sync.Mutex
	failures map[string]int
}

// NewCoordinator creates a Coordinator over the configured sources and store.
func NewCoordinator(
	cfg CoordinatorConfig,
	sources []news.ArticleSource,
	store entrystore.EntryStore,
	logger zerolog.Logger,
) (*Coordinator, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one article source is required")
	}
	if store == nil {
		return nil, errors.New("entry store cannot be nil")
	}
	cfg.applyDefaults()

	return &Coordinator{
		cfg:      cfg,
		sources:  sources,
		store:    store,
		logger:   logger.With().Str("component", "Coordinator").Logger(),
		failures: make(map[string]int),
	}, nil
}

// Refresh fetches the topic from every source, merges the successes and
// writes a new entry. If every source fails it returns a *RefreshError and
// performs zero store writes, leaving any prior entry untouched.
//
// Cancelling ctx abandons the wait but not the refresh itself: the in-flight
// work runs on a detached context bounded by FetchTimeout, so one caller's
// cancellation cannot poison the result other callers are waiting on.
func (c *Coordinator) Refresh(ctx context.Context, topic Topic) (entrystore.CacheEntry, error) {
	ch := c.group.DoChan(topic.ID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
		defer cancel()
		return c.doRefresh(fetchCtx, topic)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return entrystore.CacheEntry{}, res.Err
		}
		return res.Val.(entrystore.CacheEntry), nil
	case <-ctx.Done():
		return entrystore.CacheEntry{}, ctx.Err()
	}
}

// doRefresh is the single-flight body: fetch, merge, put.
func (c *Coordinator) doRefresh(ctx context.Context, topic Topic) (entrystore.CacheEntry, error) {
	refreshID := uuid.NewString()
	logger := c.logger.With().Str("refresh_id", refreshID).Str("topic", topic.ID).Logger()
	logger.Debug().Int("sources", len(c.sources)).Msg("Starting refresh.")

	// Fan out to all sources concurrently, keeping results in configured
	// source order so the merge is deterministic.
	results := make([][]news.Article, len(c.sources))
	fetchErrs := make([]error, len(c.sources))

	var wg sync.WaitGroup
	wg.Add(len(c.sources))
	for i, source := range c.sources {
		go func(i int, source news.ArticleSource) {
			defer wg.Done()
			articles, err := source.FetchArticles(ctx, topic.Query)
			if err != nil {
				logger.Warn().Err(err).Str("source", source.Name()).Msg("Source fetch failed.")
				fetchErrs[i] = err
				return
			}
			results[i] = articles
		}(i, source)
	}
	wg.Wait()

	var causes []error
	successes := 0
	for i := range c.sources {
		if fetchErrs[i] != nil {
			causes = append(causes, fetchErrs[i])
		} else {
			successes++
		}
	}

	// Store operations get their own budget: when the fetch phase ran the
	// FetchTimeout down to zero (hung providers), ctx is already spent and
	// a context-respecting backend would refuse every call on it.
	storeCtx, cancelStore := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StoreTimeout)
	defer cancelStore()

	if successes == 0 {
		c.recordTotalFailure(storeCtx, topic, logger)
		return entrystore.CacheEntry{}, &RefreshError{Topic: topic.ID, Causes: causes}
	}
	c.resetFailures(topic.ID)

	now := time.Now().UTC()
	entry := entrystore.CacheEntry{
		ID:        topic.ID,
		Articles:  mergeArticles(results),
		FetchedAt: now,
		ExpiresAt: now.Add(c.cfg.TTL),
	}

	if err := c.store.PutEntry(storeCtx, entry, c.cfg.TTL); err != nil {
		logger.Error().Err(err).Msg("Failed to store refreshed entry.")
		return entrystore.CacheEntry{}, err
	}

	logger.Info().
		Int("articles", len(entry.Articles)).
		Int("sources_ok", successes).
		Int("sources_failed", len(causes)).
		Time("expires_at", entry.ExpiresAt).
		Msg("Refresh complete.")
	return entry, nil
}

// recordTotalFailure tracks consecutive all-source failures for a topic.
// Once the configured limit is reached and the cached entry has aged past
// the stale ceiling, the entry is deleted: stale data is preferable to no
// data, but not indefinitely.
func (c *Coordinator) recordTotalFailure(ctx context.Context, topic Topic, logger zerolog.Logger) {
	c.mu.Lock()
	c.failures[topic.ID]++
	count := c.failures[topic.ID]
	c.mu.Unlock()

	logger.Warn().Int("consecutive_failures", count).Msg("All sources failed for topic.")
	if count < c.cfg.FailureLimit {
		return
	}

	entry, err := c.store.GetEntry(ctx, topic.ID)
	if err != nil {
		if !errors.Is(err, entrystore.ErrEntryNotFound) {
			logger.Error().Err(err).Msg("Could not inspect entry age after repeated failures.")
		}
		return
	}

	if age := time.Since(entry.FetchedAt); age > c.cfg.StaleCeiling {
		if err := c.store.DeleteEntry(ctx, topic.ID); err != nil {
			logger.Error().Err(err).Msg("Failed to delete entry past stale ceiling.")
			return
		}
		logger.Warn().Dur("age", age).Msg("Deleted entry past stale ceiling after repeated refresh failures.")
		c.resetFailures(topic.ID)
	}
}

func (c *Coordinator) resetFailures(topicID string) {
	c.mu.Lock()
	delete(c.failures, topicID)
	c.mu.Unlock()
}

// mergeArticles concatenates per-source results in source order, drops
// duplicates by (normalized title, source) keeping the first occurrence, and
// orders the result by publication time, newest first. The sort is stable so
// publication-time ties keep first-seen insertion order.
func mergeArticles(bySource [][]news.Article) []news.Article {
	seen := make(map[string]struct{})
	var merged []news.Article
	for _, articles := range bySource {
		for _, article := range articles {
			key := article.DedupeKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, article)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].PublishedAt.After(merged[j].PublishedAt)
	})
	return merged
}

// Close closes every configured source.
func (c *Coordinator) Close() error {
	var firstErr error
	for _, source := range c.sources {
		if err := source.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
