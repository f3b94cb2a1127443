package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Feed is one configured source entry.
type Feed struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	// URL is the feed URL, or the check id for visualping.
	URL          string `yaml:"url"`
	MaxItems     int    `yaml:"max_items,omitempty"`
	RequireMedia *bool  `yaml:"require_media,omitempty"`
}

// Options returns the fetch options for f, using the per-feed overrides
// when set.
func (f Feed) Options(maxItems int, requireMedia bool) FetchOptions {
	o := FetchOptions{URL: f.URL, MaxItems: maxItems, RequireMedia: requireMedia}
	if f.MaxItems > 0 {
		o.MaxItems = f.MaxItems
	}
	if f.RequireMedia != nil {
		o.RequireMedia = *f.RequireMedia
	}
	return o
}

type feedsFile struct {
	Feeds []Feed `yaml:"feeds"`
}

// DefaultFeeds are used when no feeds file exists.
func DefaultFeeds() []Feed {
	return []Feed{
		{Name: "nyt-home", Kind: KindRSS, URL: "https://rss.nytimes.com/services/xml/rss/nyt/HomePage.xml"},
		{Name: "bbc-news", Kind: KindRSS, URL: "https://feeds.bbci.co.uk/news/rss.xml"},
		{Name: "guardian-world", Kind: KindRSS, URL: "https://www.theguardian.com/world/rss"},
	}
}

// LoadFeeds reads a YAML feeds file:
//
//	feeds:
//	  - name: bbc-news
//	    kind: rss
//	    url: https://feeds.bbci.co.uk/news/rss.xml
//
// A missing file yields DefaultFeeds. Kind defaults to rss.
func LoadFeeds(path string) ([]Feed, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultFeeds(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("source: read feeds: %w", err)
	}
	return ParseFeeds(data)
}

// ParseFeeds decodes and checks a feeds document.
func ParseFeeds(data []byte) ([]Feed, error) {
	var doc feedsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("source: parse feeds: %w", err)
	}
	seen := make(map[string]bool, len(doc.Feeds))
	for i := range doc.Feeds {
		f := &doc.Feeds[i]
		f.Kind = strings.ToLower(strings.TrimSpace(f.Kind))
		if f.Kind == "" {
			f.Kind = KindRSS
		}
		if _, ok := registry[f.Kind]; !ok {
			return nil, fmt.Errorf("%w: %q (feed %d)", ErrUnknownKind, f.Kind, i)
		}
		f.URL = strings.TrimSpace(f.URL)
		if f.URL == "" {
			return nil, fmt.Errorf("source: feed %d: url is required", i)
		}
		if f.Name == "" {
			f.Name = f.URL
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("source: duplicate feed name %q", f.Name)
		}
		seen[f.Name] = true
	}
	return doc.Feeds, nil
}
