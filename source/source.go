// CLAUDE:SUMMARY Content sources (rss, visualping) behind a static kind registry; fetch returns media-filtered content items in feed order.
// Package source produces candidate content items from feeds and change
// monitors.
//
// Sources are registered statically by kind. Each implements Fetch, which
// returns the first MaxItems matching items in feed order, and ValidateURL.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/hazyhaar/feedcast/content"
	"github.com/hazyhaar/feedcast/source/internal/fetch"
)

// Source kinds.
const (
	KindRSS        = "rss"
	KindVisualPing = "visualping"
)

var (
	// ErrUnknownKind is returned by New for an unregistered kind.
	ErrUnknownKind = errors.New("source: unknown kind")
	// ErrInvalidURL is returned by ValidateURL.
	ErrInvalidURL = errors.New("source: invalid url")
	// ErrNoEntries is returned by ValidateURL for a feed without entries.
	ErrNoEntries = errors.New("source: feed has no entries")
)

// FeedParseError reports a feed the parser could not read. No items are
// returned for that feed.
type FeedParseError struct {
	URL   string
	Cause error
}

func (e *FeedParseError) Error() string {
	return fmt.Sprintf("source: parse feed %s: %v", e.URL, e.Cause)
}

func (e *FeedParseError) Unwrap() error { return e.Cause }

// FetchOptions selects what Fetch returns. MaxItems <= 0 means no limit.
type FetchOptions struct {
	URL          string
	MaxItems     int
	RequireMedia bool
}

// Source is a content source.
type Source interface {
	Kind() string
	Fetch(ctx context.Context, opts FetchOptions) ([]content.Item, error)
	ValidateURL(ctx context.Context, url string) error
}

// Options configures the sources built by New.
type Options struct {
	// Timeout for feed and API requests. Default: 30s.
	Timeout time.Duration
	// URLValidator guards outbound requests. Default: horosafe.ValidateURL.
	URLValidator func(string) error
	// VisualPingKey enables live VisualPing lookups.
	VisualPingKey string
	// VisualPingBaseURL overrides the VisualPing API root.
	VisualPingBaseURL string
	// HTTPClient is used for VisualPing API calls.
	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.VisualPingBaseURL == "" {
		o.VisualPingBaseURL = DefaultVisualPingBaseURL
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
}

func (o Options) fetcher() *fetch.Fetcher {
	return fetch.New(fetch.Config{Timeout: o.Timeout, URLValidator: o.URLValidator})
}

type factory func(Options) Source

var registry = map[string]factory{
	KindRSS:        func(o Options) Source { return NewRSS(o) },
	KindVisualPing: func(o Options) Source { return NewVisualPing(o) },
}

// New builds the source registered for kind.
func New(kind string, opts Options) (Source, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f(opts), nil
}

// Kinds lists the registered kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
