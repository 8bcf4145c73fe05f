package news

import (
	"strings"
	"time"
)

// Article is a single news item as returned by a provider.
// Articles are immutable once fetched; sources hand back fresh slices.
type Article struct {
	Title       string    `json:"title" firestore:"title"`
	URL         string    `json:"url" firestore:"url"`
	Source      string    `json:"source" firestore:"source"`
	PublishedAt time.Time `json:"published_at" firestore:"publishedAt"`
	Summary     string    `json:"summary,omitempty" firestore:"summary,omitempty"`
}

// DedupeKey identifies an article for merge deduplication. Two articles with
// the same normalized title from the same source are considered duplicates.
func (a Article) DedupeKey() string {
	return NormalizeTitle(a.Title) + "\x00" + a.Source
}

// NormalizeTitle lowercases a title and collapses runs of whitespace so that
// cosmetic differences between providers do not defeat deduplication.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

var entityReplacer = strings.NewReplacer(
	"&quot;", `"`,
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&apos;", "'",
	"&#39;", "'",
	"<b>", "",
	"</b>", "",
)

// CleanTitle strips the bold markup and HTML entities some providers embed
// in article titles.
func CleanTitle(title string) string {
	return strings.TrimSpace(entityReplacer.Replace(title))
}
