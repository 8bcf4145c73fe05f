package news

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

const defaultGoogleNewsEndpoint = "https://news.google.com/rss/search"

// GoogleNewsConfig holds configuration for the Google News RSS source.
type GoogleNewsConfig struct {
	// Endpoint overrides the production RSS URL, used by tests.
	Endpoint string
	// Language and Country parameterize the feed (hl / gl query parameters).
	Language string
	Country  string
	// MaxItems caps the number of articles returned.
	MaxItems int
}

// GoogleNewsSource fetches articles from the Google News search RSS feed.
type GoogleNewsSource struct {
	cfg      GoogleNewsConfig
	ceidLang string
	parser   *gofeed.Parser
	logger   zerolog.Logger
}

// NewGoogleNewsSource creates a Google News RSS source.
func NewGoogleNewsSource(cfg GoogleNewsConfig, logger zerolog.Logger) *GoogleNewsSource {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultGoogleNewsEndpoint
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.Country == "" {
		cfg.Country = "US"
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	// ceid's language half is the bare language code, without the region
	// suffix hl carries ("ko" from "ko-KR").
	ceidLang, _, _ := strings.Cut(cfg.Language, "-")
	return &GoogleNewsSource{
		cfg:      cfg,
		ceidLang: ceidLang,
		parser:   gofeed.NewParser(),
		logger:   logger.With().Str("component", "GoogleNewsSource").Logger(),
	}
}

// Name identifies the provider on fetched articles.
func (s *GoogleNewsSource) Name() string { return "google-news" }

// FetchArticles parses the query-parameterized RSS feed and returns at most
// MaxItems articles in feed order.
func (s *GoogleNewsSource) FetchArticles(ctx context.Context, query string) ([]Article, error) {
	feedURL := fmt.Sprintf("%s?q=%s&hl=%s&gl=%s&ceid=%s:%s",
		s.cfg.Endpoint, url.QueryEscape(query),
		s.cfg.Language, s.cfg.Country, s.cfg.Country, s.ceidLang)

	feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, &FetchError{Source: s.Name(), Query: query, Err: err}
	}

	items := feed.Items
	if len(items) > s.cfg.MaxItems {
		items = items[:s.cfg.MaxItems]
	}

	articles := make([]Article, 0, len(items))
	for _, item := range items {
		var publishedAt time.Time
		if item.PublishedParsed != nil {
			publishedAt = *item.PublishedParsed
		}
		articles = append(articles, Article{
			Title:       CleanTitle(item.Title),
			URL:         item.Link,
			Source:      s.Name(),
			PublishedAt: publishedAt,
			Summary:     CleanTitle(item.Description),
		})
	}

	s.logger.Debug().Int("articles", len(articles)).Str("query", query).Msg("Google News fetch complete.")
	return articles, nil
}

// Close is a no-op; gofeed holds no persistent resources.
func (s *GoogleNewsSource) Close() error { return nil }
