// Package content defines publishable items, their post attempts, and the
// one-JSON-file-per-item store.
package content

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hazyhaar/feedcast/platform"
)

// Status is the publishing state of an item or of one attempt.
type Status string

const (
	Draft     Status = "draft"
	Published Status = "published"
	Failed    Status = "failed"
	Skipped   Status = "skipped"
)

// PostAttempt is one outcome of publishing an item to a platform.
// Attempts are appended and never modified.
type PostAttempt struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Platform     platform.Platform `json:"platform"`
	Status       Status            `json:"status"`
	Success      bool              `json:"success"`
	RemotePostID string            `json:"remote_post_id,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Item is a unit of publishable material.
type Item struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Body         string        `json:"body"`
	Author       string        `json:"author"`
	Tags         []string      `json:"tags,omitempty"`
	MediaURL     string        `json:"media_url,omitempty"`
	SourceURL    string        `json:"source_url,omitempty"`
	SourceDomain string        `json:"source_domain,omitempty"`
	Source       string        `json:"source,omitempty"` // "rss", "visualping"
	PublishedAt  *time.Time    `json:"published_at,omitempty"`
	Status       Status        `json:"status"`
	PostHistory  []PostAttempt `json:"post_history"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Hash is the redundancy key of a title/body pair: hex md5 of title+body.
func Hash(title, body string) string {
	sum := md5.Sum([]byte(title + body))
	return hex.EncodeToString(sum[:])
}

// IDFor derives the item id from the content hash.
func IDFor(title, body string) string {
	return Hash(title, body)[:16]
}

// New returns a draft item with its id derived from title and body.
func New(title, body string, now time.Time) Item {
	return Item{
		ID:          IDFor(title, body),
		Title:       title,
		Body:        body,
		Status:      Draft,
		PostHistory: []PostAttempt{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ContentHash returns Hash(i.Title, i.Body).
func (i *Item) ContentHash() string {
	return Hash(i.Title, i.Body)
}

// HasMedia reports whether the item carries a media URL.
func (i *Item) HasMedia() bool {
	return strings.TrimSpace(i.MediaURL) != ""
}

// UpdateStatus appends a and recomputes the item status. An item stays
// published once any platform accepted it; otherwise the latest outcome
// wins.
func (i *Item) UpdateStatus(a PostAttempt) {
	i.PostHistory = append(i.PostHistory, a)
	if i.Status != Published {
		i.Status = a.Status
	}
	i.UpdatedAt = a.Timestamp
}

// StatusFor returns the latest status recorded for p, or Draft.
func (i *Item) StatusFor(p platform.Platform) Status {
	for k := len(i.PostHistory) - 1; k >= 0; k-- {
		if i.PostHistory[k].Platform == p {
			return i.PostHistory[k].Status
		}
	}
	return Draft
}

// CleanText collapses runs of whitespace into single spaces, keeping
// paragraph breaks (blank lines) as "\n\n".
func CleanText(s string) string {
	paras := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(paras))
	for _, p := range paras {
		if f := strings.Join(strings.Fields(p), " "); f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, "\n\n")
}
