package source

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/feedcast/content"
	"github.com/hazyhaar/feedcast/source/internal/feed"
	"github.com/hazyhaar/feedcast/source/internal/fetch"
)

const (
	defaultAuthor = "Unknown"
	defaultTitle  = "Untitled"
)

// RSS reads RSS, Atom and JSON feeds.
type RSS struct {
	fetcher *fetch.Fetcher
	md      *converter.Converter
	// body keeps text structure and links, and drops media tags.
	body   *bluemonday.Policy
	strict *bluemonday.Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewRSS returns an RSS source.
func NewRSS(opts Options) *RSS {
	opts.defaults()
	body := bluemonday.NewPolicy()
	body.AllowElements("p", "br", "b", "strong", "i", "em", "ul", "ol", "li",
		"blockquote", "h1", "h2", "h3", "h4", "h5", "h6", "table", "thead", "tbody", "tr", "th", "td")
	body.AllowAttrs("href").OnElements("a")
	body.AllowStandardURLs()

	return &RSS{
		fetcher: opts.fetcher(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		body:   body,
		strict: bluemonday.StrictPolicy(),
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// Kind returns "rss".
func (s *RSS) Kind() string { return KindRSS }

// Fetch downloads and parses opts.URL and converts its entries.
func (s *RSS) Fetch(ctx context.Context, opts FetchOptions) ([]content.Item, error) {
	f, err := s.load(ctx, opts.URL)
	if err != nil {
		return nil, err
	}

	var items []content.Item
	for i := range f.Entries {
		e := &f.Entries[i]
		if opts.RequireMedia && !HasMedia(e) {
			continue
		}
		items = append(items, s.item(e))
		if opts.MaxItems > 0 && len(items) >= opts.MaxItems {
			break
		}
	}
	s.logger.Debug("source: fetched feed",
		"url", opts.URL, "entries", len(f.Entries), "items", len(items), "require_media", opts.RequireMedia)
	return items, nil
}

// ValidateURL checks that rawURL is absolute and serves a feed with at
// least one entry.
func (s *RSS) ValidateURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	f, err := s.load(ctx, u.String())
	if err != nil {
		return err
	}
	if len(f.Entries) == 0 {
		return fmt.Errorf("%w: %s", ErrNoEntries, rawURL)
	}
	return nil
}

func (s *RSS) load(ctx context.Context, feedURL string) (*feed.Feed, error) {
	res, err := s.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("source: fetch %s: %w", feedURL, err)
	}
	f, err := feed.Parse(res.Body)
	if err != nil {
		return nil, &FeedParseError{URL: feedURL, Cause: err}
	}
	return f, nil
}

func (s *RSS) item(e *feed.Entry) content.Item {
	title := s.plain(e.Title)
	if title == "" {
		title = defaultTitle
	}
	body := s.text(e.HTML(), e.Link)

	it := content.New(title, body, s.now())
	it.Author = e.Author
	if it.Author == "" {
		it.Author = defaultAuthor
	}
	it.Tags = e.Categories
	it.MediaURL = ImageURL(e)
	it.SourceURL = e.Link
	it.SourceDomain = domainOf(e.Link)
	it.Source = KindRSS
	if !e.Published.IsZero() {
		pub := e.Published
		it.PublishedAt = &pub
	}
	return it
}

// text renders feed markup as markdown-flavoured plain text.
func (s *RSS) text(markup, link string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	clean := s.body.Sanitize(markup)
	md, err := s.md.ConvertString(clean, converter.WithDomain(link))
	if err != nil {
		s.logger.Debug("source: markdown conversion failed", "link", link, "error", err)
		return s.plain(markup)
	}
	return strings.TrimSpace(md)
}

// plain strips every tag and decodes entities.
func (s *RSS) plain(markup string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(markup)))
}

func domainOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
