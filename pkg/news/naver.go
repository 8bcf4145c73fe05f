package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const (
	defaultNaverEndpoint = "https://openapi.naver.com/v1/search/news.json"
	defaultNaverDisplay  = 50
	// Naver search results are heavy on near-duplicates from syndication, so
	// a fetch asks for far more items than it keeps.
	defaultMaxItems = 12
)

// NaverConfig holds configuration for the Naver news search API client.
type NaverConfig struct {
	ClientID     string
	ClientSecret string
	// Endpoint overrides the production API URL, used by tests.
	Endpoint string
	// Display is the number of raw results requested per call.
	Display int
	// MaxItems caps the number of articles returned after deduplication.
	MaxItems int
	Timeout  time.Duration
	RetryMax int
}

// NaverSource fetches articles from the Naver open news search API.
type NaverSource struct {
	cfg    NaverConfig
	client *http.Client
	logger zerolog.Logger
}

// naverItem mirrors one element of the API's "items" array.
type naverItem struct {
	Title        string `json:"title"`
	OriginalLink string `json:"originallink"`
	Link         string `json:"link"`
	Description  string `json:"description"`
	PubDate      string `json:"pubDate"`
}

// Article links carry an office/article id pair which survives syndication
// and is the most reliable duplicate marker.
var naverArticleID = regexp.MustCompile(`article/(\d+)/(\d+)`)

// NewNaverSource creates a Naver source. The underlying HTTP client retries
// transient failures a bounded number of times; the refresh core treats the
// whole call as a single attempt.
func NewNaverSource(cfg NaverConfig, logger zerolog.Logger) (*NaverSource, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("naver client id and secret are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultNaverEndpoint
	}
	if cfg.Display <= 0 {
		cfg.Display = defaultNaverDisplay
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil

	return &NaverSource{
		cfg:    cfg,
		client: rc.StandardClient(),
		logger: logger.With().Str("component", "NaverSource").Logger(),
	}, nil
}

// Name identifies the provider on fetched articles.
func (s *NaverSource) Name() string { return "naver" }

// FetchArticles queries the news search API sorted by date, cleans titles,
// collapses syndicated duplicates and caps the result at MaxItems.
func (s *NaverSource) FetchArticles(ctx context.Context, query string) ([]Article, error) {
	reqURL := fmt.Sprintf("%s?query=%s&display=%d&sort=date",
		s.cfg.Endpoint, url.QueryEscape(query), s.cfg.Display)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Source: s.Name(), Query: query, Err: err}
	}
	req.Header.Set("X-Naver-Client-Id", s.cfg.ClientID)
	req.Header.Set("X-Naver-Client-Secret", s.cfg.ClientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: s.Name(), Query: query, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			Source: s.Name(),
			Query:  query,
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var payload struct {
		Items []naverItem `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{Source: s.Name(), Query: query, Err: fmt.Errorf("decoding response: %w", err)}
	}

	s.logger.Debug().Int("raw_items", len(payload.Items)).Str("query", query).Msg("Naver API responded.")

	seen := make(map[string]struct{}, len(payload.Items))
	articles := make([]Article, 0, s.cfg.MaxItems)
	for _, item := range payload.Items {
		key := naverLinkKey(item.Link)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		publishedAt, err := time.Parse(time.RFC1123Z, item.PubDate)
		if err != nil {
			s.logger.Warn().Str("pub_date", item.PubDate).Msg("Unparseable pubDate, skipping item.")
			continue
		}

		articles = append(articles, Article{
			Title:       CleanTitle(item.Title),
			URL:         item.Link,
			Source:      s.Name(),
			PublishedAt: publishedAt,
			Summary:     CleanTitle(item.Description),
		})
		if len(articles) >= s.cfg.MaxItems {
			break
		}
	}

	s.logger.Debug().Int("articles", len(articles)).Str("query", query).Msg("Naver fetch complete.")
	return articles, nil
}

// naverLinkKey derives the duplicate marker for an item link: the embedded
// office/article id pair when present, otherwise the link without its query
// string.
func naverLinkKey(link string) string {
	if m := naverArticleID.FindStringSubmatch(link); m != nil {
		return m[1] + "_" + m[2]
	}
	base, _, _ := strings.Cut(link, "?")
	return strings.Trim(base, "/")
}

// Close is a no-op; the HTTP client holds no persistent resources.
func (s *NaverSource) Close() error { return nil }
