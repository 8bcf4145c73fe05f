package news

import (
	"context"
	"fmt"
	"io"
)

// ArticleSource is the single contract the cache core requires from a
// provider integration. Authentication, query encoding and response parsing
// are the implementation's responsibility.
type ArticleSource interface {
	// Name identifies the provider; it is stamped onto every Article the
	// source returns and used as half of the deduplication key.
	Name() string
	// FetchArticles performs one fetch attempt for the given query. The core
	// never retries a failed call; any retry policy is internal to the source.
	FetchArticles(ctx context.Context, query string) ([]Article, error)
	io.Closer
}

// FetchError reports a failed fetch from a single provider. Fetch errors are
// collected per source and never cross the refresh boundary individually.
type FetchError struct {
	Source string
	Query  string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("source %s: fetch for query %q failed: %v", e.Source, e.Query, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
