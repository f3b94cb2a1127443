// CLAUDE:SUMMARY gofeed adapter: parses RSS/Atom/JSON feeds into Entries carrying media:content, thumbnails and enclosures.
// Package feed turns raw feed documents into entries with their media metadata.
package feed

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// Media is one media:content element.
type Media struct {
	URL    string
	Medium string // "image", "video", ... (may be empty)
	Type   string // MIME type (may be empty)
}

// IsVisual reports whether m declares an image or a video.
func (m Media) IsVisual() bool {
	switch strings.ToLower(m.Medium) {
	case "image", "video":
		return true
	}
	t := strings.ToLower(m.Type)
	return strings.HasPrefix(t, "image/") || strings.HasPrefix(t, "video/")
}

// IsImage reports whether m declares an image.
func (m Media) IsImage() bool {
	return strings.EqualFold(m.Medium, "image") || strings.HasPrefix(strings.ToLower(m.Type), "image/")
}

// Enclosure is an RSS enclosure.
type Enclosure struct {
	URL    string
	Type   string
	Length string
}

// Entry is a single item from a feed.
type Entry struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	Categories  []string
	Published   time.Time // zero when the feed carries no date
	Media       []Media
	Thumbnails  []string
	Enclosures  []Enclosure
}

// HTML returns the richest markup carried by the entry.
func (e *Entry) HTML() string {
	if strings.TrimSpace(e.Content) != "" {
		return e.Content
	}
	return e.Description
}

// Feed is a parsed feed.
type Feed struct {
	Title   string
	Link    string
	Type    string // "rss", "atom", "json"
	Entries []Entry
}

// Parse parses an RSS, Atom or JSON feed document.
func Parse(data []byte) (*Feed, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("feed: empty document")
	}
	pf, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}

	f := &Feed{
		Title:   strings.TrimSpace(pf.Title),
		Link:    pf.Link,
		Type:    pf.FeedType,
		Entries: make([]Entry, 0, len(pf.Items)),
	}
	for _, it := range pf.Items {
		if it == nil {
			continue
		}
		f.Entries = append(f.Entries, entryFrom(it))
	}
	return f, nil
}

func entryFrom(it *gofeed.Item) Entry {
	e := Entry{
		GUID:        it.GUID,
		Title:       strings.TrimSpace(it.Title),
		Link:        it.Link,
		Description: it.Description,
		Content:     it.Content,
		Author:      authorOf(it),
		Categories:  it.Categories,
	}
	if e.GUID == "" {
		e.GUID = it.Link
	}
	if it.PublishedParsed != nil {
		e.Published = *it.PublishedParsed
	} else if it.UpdatedParsed != nil {
		e.Published = *it.UpdatedParsed
	}

	for _, enc := range it.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		e.Enclosures = append(e.Enclosures, Enclosure{URL: enc.URL, Type: enc.Type, Length: enc.Length})
	}

	if media, ok := it.Extensions["media"]; ok {
		collectMedia(&e, media)
		for _, group := range media["group"] {
			collectMedia(&e, group.Children)
		}
	}
	if it.Image != nil && it.Image.URL != "" && !contains(e.Thumbnails, it.Image.URL) {
		e.Thumbnails = append(e.Thumbnails, it.Image.URL)
	}
	return e
}

func collectMedia(e *Entry, m map[string][]ext.Extension) {
	for _, c := range m["content"] {
		if u := c.Attrs["url"]; u != "" {
			e.Media = append(e.Media, Media{URL: u, Medium: c.Attrs["medium"], Type: c.Attrs["type"]})
		}
	}
	for _, t := range m["thumbnail"] {
		if u := t.Attrs["url"]; u != "" && !contains(e.Thumbnails, u) {
			e.Thumbnails = append(e.Thumbnails, u)
		}
	}
}

func authorOf(it *gofeed.Item) string {
	people := it.Authors
	if len(people) == 0 && it.Author != nil {
		people = []*gofeed.Person{it.Author}
	}
	for _, p := range people {
		if p == nil {
			continue
		}
		if n := strings.TrimSpace(p.Name); n != "" {
			return n
		}
		if m := strings.TrimSpace(p.Email); m != "" {
			return m
		}
	}
	if it.DublinCoreExt != nil {
		for _, c := range it.DublinCoreExt.Creator {
			if c = strings.TrimSpace(c); c != "" {
				return c
			}
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
