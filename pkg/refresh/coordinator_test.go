package refresh_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-newscache/pkg/entrystore"
	"github.com/illmade-knight/go-newscache/pkg/news"
	"github.com/illmade-knight/go-newscache/pkg/refresh"
)

// mockSource is a test double for news.ArticleSource with a fetch counter
// and an optional gate to hold fetches open.
type mockSource struct {
	name       string
	articles   []news.Article
	err        error
	gate       chan struct{}
	fetchCount atomic.Int32
}

func (m *mockSource) Name() string { return m.name }

func (m *mockSource) FetchArticles(ctx context.Context, query string) ([]news.Article, error) {
	m.fetchCount.Add(1)
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, &news.FetchError{Source: m.name, Query: query, Err: ctx.Err()}
		}
	}
	if m.err != nil {
		return nil, &news.FetchError{Source: m.name, Query: query, Err: m.err}
	}
	return m.articles, nil
}

func (m *mockSource) Close() error { return nil }

// countingStore wraps an EntryStore and counts writes and deletes.
type countingStore struct {
	entrystore.EntryStore
	putCount    atomic.Int32
	deleteCount atomic.Int32
}

func (s *countingStore) PutEntry(ctx context.Context, entry entrystore.CacheEntry, ttl time.Duration) error {
	s.putCount.Add(1)
	return s.EntryStore.PutEntry(ctx, entry, ttl)
}

func (s *countingStore) DeleteEntry(ctx context.Context, key string) error {
	s.deleteCount.Add(1)
	return s.EntryStore.DeleteEntry(ctx, key)
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	inner := entrystore.NewInMemoryStore(0)
	t.Cleanup(func() { _ = inner.Close() })
	return &countingStore{EntryStore: inner}
}

// contextStore refuses any operation whose context is already done, the way
// the redis and firestore backends do.
type contextStore struct {
	entrystore.EntryStore
}

func (s *contextStore) GetEntry(ctx context.Context, key string) (entrystore.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return entrystore.CacheEntry{}, &entrystore.StoreError{Op: "get", Key: key, Err: err}
	}
	return s.EntryStore.GetEntry(ctx, key)
}

func (s *contextStore) PutEntry(ctx context.Context, entry entrystore.CacheEntry, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return &entrystore.StoreError{Op: "put", Key: entry.ID, Err: err}
	}
	return s.EntryStore.PutEntry(ctx, entry, ttl)
}

func (s *contextStore) DeleteEntry(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return &entrystore.StoreError{Op: "delete", Key: key, Err: err}
	}
	return s.EntryStore.DeleteEntry(ctx, key)
}

// laggardSource ignores its context and returns well after any deadline.
type laggardSource struct {
	articles []news.Article
	delay    time.Duration
}

func (s *laggardSource) Name() string { return "laggard" }

func (s *laggardSource) FetchArticles(context.Context, string) ([]news.Article, error) {
	time.Sleep(s.delay)
	return s.articles, nil
}

func (s *laggardSource) Close() error { return nil }

var baseTime = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func article(title, source string, publishedAt time.Time) news.Article {
	return news.Article{Title: title, URL: "https://example.com/" + title, Source: source, PublishedAt: publishedAt}
}

func newCoordinator(t *testing.T, cfg refresh.CoordinatorConfig, store entrystore.EntryStore, sources ...news.ArticleSource) *refresh.Coordinator {
	t.Helper()
	coordinator, err := refresh.NewCoordinator(cfg, sources, store, zerolog.Nop())
	require.NoError(t, err)
	return coordinator
}

func TestCoordinator_Refresh_MergesAndSorts(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(t)

	// Source A returns 3 articles, source B returns 2 with one duplicating
	// an A article by (title, source). The merge must keep 4, newest first.
	sourceA := &mockSource{name: "alpha", articles: []news.Article{
		article("shared story", "alpha", baseTime.Add(-2*time.Hour)),
		article("alpha two", "alpha", baseTime.Add(-1*time.Hour)),
		article("alpha three", "alpha", baseTime.Add(-3*time.Hour)),
	}}
	sourceB := &mockSource{name: "beta", articles: []news.Article{
		article("Shared  STORY", "alpha", baseTime.Add(-30*time.Minute)), // duplicate of A's first
		article("beta one", "beta", baseTime),
	}}

	coordinator := newCoordinator(t, refresh.CoordinatorConfig{TTL: time.Hour}, store, sourceA, sourceB)
	entry, err := coordinator.Refresh(ctx, refresh.Topic{ID: "it", Query: "it"})
	require.NoError(t, err)

	require.Len(t, entry.Articles, 4, "one duplicate (title, source) pair should be dropped")
	titles := make([]string, 0, 4)
	for _, a := range entry.Articles {
		titles = append(titles, a.Title)
	}
	assert.Equal(t, []string{"beta one", "alpha two", "shared story", "alpha three"}, titles,
		"articles must be ordered by publishedAt descending, duplicate keeps first occurrence")

	for i := 1; i < len(entry.Articles); i++ {
		assert.False(t, entry.Articles[i].PublishedAt.After(entry.Articles[i-1].PublishedAt))
	}

	assert.Equal(t, int32(1), store.putCount.Load(), "exactly one store write per successful refresh")
	assert.True(t, entry.ExpiresAt.After(entry.FetchedAt))
}

func TestCoordinator_Refresh_PartialFailureStillWrites(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(t)

	working := &mockSource{name: "alpha", articles: []news.Article{article("only story", "alpha", baseTime)}}
	broken := &mockSource{name: "beta", err: errors.New("rate limited")}

	coordinator := newCoordinator(t, refresh.CoordinatorConfig{TTL: time.Hour}, store, working, broken)
	entry, err := coordinator.Refresh(ctx, refresh.Topic{ID: "it", Query: "it"})
	require.NoError(t, err, "one successful source is enough")
	assert.Len(t, entry.Articles, 1)
	assert.Equal(t, int32(1), store.putCount.Load())
}

func TestCoordinator_Refresh_TotalFailureWriteSkip(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(t)

	// Seed a valid prior entry.
	prior := entrystore.CacheEntry{
		ID:        "it",
		Articles:  []news.Article{article("old story", "alpha", baseTime.Add(-2*time.Hour))},
		FetchedAt: baseTime.Add(-30 * time.Minute),
		ExpiresAt: baseTime.Add(30 * time.Minute),
	}
	require.NoError(t, store.EntryStore.PutEntry(ctx, prior, time.Hour))

	brokenA := &mockSource{name: "alpha", err: errors.New("unreachable")}
	brokenB := &mockSource{name: "beta", err: errors.New("malformed response")}

	coordinator := newCoordinator(t, refresh.CoordinatorConfig{TTL: time.Hour}, store, brokenA, brokenB)
	_, err := coordinator.Refresh(ctx, refresh.Topic{ID: "it", Query: "it"})

	var refreshErr *refresh.RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, "it", refreshErr.Topic)
	assert.Len(t, refreshErr.Causes, 2)

	assert.Equal(t, int32(0), store.putCount.Load(), "total failure must not write")
	got, getErr := store.GetEntry(ctx, "it")
	require.NoError(t, getErr)
	assert.Equal(t, prior.FetchedAt, got.FetchedAt, "prior entry must be unchanged")
	assert.Equal(t, "old story", got.Articles[0].Title)
}

func TestCoordinator_Refresh_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(t)

	source := &mockSource{name: "alpha", articles: []news.Article{
		article("tie one", "alpha", baseTime),
		article("tie two", "alpha", baseTime), // same publishedAt: insertion order must hold
		article("older", "alpha", baseTime.Add(-time.Hour)),
	}}

	coordinator := newCoordinator(t, refresh.CoordinatorConfig{TTL: time.Hour}, store, source)

	first, err := coordinator.Refresh(ctx, refresh.Topic{ID: "it", Query: "it"})
	require.NoError(t, err)
	second, err := coordinator.Refresh(ctx, refresh.Topic{ID: "it", Query: "it"})
	require.NoError(t, err)

	assert.Equal(t, first.Articles, second.Articles, "identical source data must yield identical ordering")
	assert.Equal(t, "tie one", first.Articles[0].Title, "publishedAt ties keep first-seen order")
	assert.Equal(t, "tie two", first.Articles[1].Title)
}

func TestCoordinator_Refresh_SingleFlight(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(t)

	gate := make(chan struct{})
	source := &mockSource{
		name:     "alpha",
		articles: []news.Article{article("story", "alpha", baseTime)},
		gate:     gate,
	}

	coordinator := newCoordinator(t, refresh.CoordinatorConfig{TTL: time.Hour}, store, source)
	topic := refresh.Topic{ID: "it", Query: "it"}

	const readers = 10
	var wg sync.WaitGroup
	results := make([]error, readers)
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func(i int) {
			defer wg.Done()
			_, results[i] = coordinator.Refresh(ctx, topic)
		}(i)
	}

	// Give all callers time to join the in-flight refresh, then release it.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range results {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), source.fetchCount.Load(), "concurrent refreshes must share one fetch")
	assert.Equal(t, int32(1), store.putCount.Load())
}

func TestCoordinator_Refresh_DeletesEntryPastStaleCeiling(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(t)

	// An ancient entry, far past the stale ceiling.
	ancient := entrystore.CacheEntry{
		ID:        "it",
		Articles:  []news.Article{article("ancient", "alpha", baseTime.Add(-48*time.Hour))},
		FetchedAt: time.Now().Add(-48 * time.Hour),
		ExpiresAt: time.Now().Add(-47 * time.Hour),
	}
	require.NoError(t, store.EntryStore.PutEntry(ctx, ancient, time.Hour))

	broken := &mockSource{name: "alpha", err: errors.New("provider gone")}
	coordinator := newCoordinator(t, refresh.CoordinatorConfig{
		TTL:          time.Hour,
		FailureLimit: 2,
		StaleCeiling: 3 * time.Hour,
	}, store, broken)
	topic := refresh.Topic{ID: "it", Query: "it"}

	_, err := coordinator.Refresh(ctx, topic)
	require.Error(t, err)
	assert.Equal(t, int32(0), store.deleteCount.Load(), "first failure is below the limit")

	_, err = coordinator.Refresh(ctx, topic)
	require.Error(t, err)
	assert.Equal(t, int32(1), store.deleteCount.Load(), "repeated failures past the ceiling delete the entry")

	_, getErr := store.GetEntry(ctx, "it")
	require.ErrorIs(t, getErr, entrystore.ErrEntryNotFound)
}

func TestCoordinator_Refresh_DeletesPastCeilingWhenFetchExhaustsDeadline(t *testing.T) {
	ctx := context.Background()
	counting := newCountingStore(t)
	store := &contextStore{EntryStore: counting}

	ancient := entrystore.CacheEntry{
		ID:        "it",
		Articles:  []news.Article{article("ancient", "alpha", baseTime.Add(-48*time.Hour))},
		FetchedAt: time.Now().Add(-48 * time.Hour),
		ExpiresAt: time.Now().Add(-47 * time.Hour),
	}
	require.NoError(t, counting.EntryStore.PutEntry(ctx, ancient, time.Hour))

	// A hung provider: its gate is never closed, so the fetch only fails
	// once the fetch deadline itself expires.
	hung := &mockSource{name: "alpha", gate: make(chan struct{})}
	coordinator := newCoordinator(t, refresh.CoordinatorConfig{
		TTL:          time.Hour,
		FetchTimeout: 25 * time.Millisecond,
		FailureLimit: 1,
		StaleCeiling: time.Hour,
	}, store, hung)

	_, err := coordinator.Refresh(ctx, refresh.Topic{ID: "it", Query: "it"})
	var refreshErr *refresh.RefreshError
	require.ErrorAs(t, err, &refreshErr)

	assert.Equal(t, int32(1), counting.deleteCount.Load(),
		"deletion bookkeeping must not run on the exhausted fetch deadline")
	_, getErr := counting.GetEntry(ctx, "it")
	require.ErrorIs(t, getErr, entrystore.ErrEntryNotFound)
}

func TestCoordinator_Refresh_WritesWhenFetchFinishesAtDeadline(t *testing.T) {
	ctx := context.Background()
	counting := newCountingStore(t)
	store := &contextStore{EntryStore: counting}

	// The source returns successfully but only after the fetch deadline has
	// passed; the write that follows needs its own budget.
	slow := &laggardSource{
		articles: []news.Article{article("late story", "laggard", baseTime)},
		delay:    60 * time.Millisecond,
	}
	coordinator := newCoordinator(t, refresh.CoordinatorConfig{
		TTL:          time.Hour,
		FetchTimeout: 20 * time.Millisecond,
	}, store, slow)

	entry, err := coordinator.Refresh(ctx, refresh.Topic{ID: "it", Query: "it"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), counting.putCount.Load())
	assert.Equal(t, "late story", entry.Articles[0].Title)
}

func TestCoordinator_Refresh_CallerCancellation(t *testing.T) {
	store := newCountingStore(t)

	gate := make(chan struct{})
	source := &mockSource{
		name:     "alpha",
		articles: []news.Article{article("story", "alpha", baseTime)},
		gate:     gate,
	}

	coordinator := newCoordinator(t, refresh.CoordinatorConfig{TTL: time.Hour}, store, source)
	topic := refresh.Topic{ID: "it", Query: "it"}

	cancelCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := coordinator.Refresh(cancelCtx, topic)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled, "a cancelled caller stops waiting")

	// The in-flight refresh is detached from the caller and still completes.
	close(gate)
	require.Eventually(t, func() bool {
		_, err := store.GetEntry(context.Background(), "it")
		return err == nil
	}, time.Second, 10*time.Millisecond, "the detached refresh should still write the entry")
}
