// Package tokenstore persists per-platform token bundles as JSON files and
// decides whether a bundle can be used for posting.
package tokenstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/feedcast/platform"
)

// ErrUnusable is returned by Validate when a bundle cannot post.
var ErrUnusable = errors.New("tokenstore: bundle not usable for posting")

// Bundle is one platform's credential state. It is a value: the With*
// methods return modified copies and never touch the receiver.
type Bundle struct {
	Platform        platform.Platform
	UserAccessToken string
	PageAccessToken string
	PageID          string
	SubAccountID    string // Instagram business account id
	IssuedAt        time.Time
}

// IsUsable reports whether b can be used to post on b.Platform:
// facebook needs a page token and page id, or a user token;
// instagram needs a page token and sub-account id, or a user token.
func IsUsable(b Bundle) bool {
	if b.UserAccessToken != "" {
		return true
	}
	switch b.Platform {
	case platform.Facebook:
		return b.PageAccessToken != "" && b.PageID != ""
	case platform.Instagram:
		return b.PageAccessToken != "" && b.SubAccountID != ""
	}
	return false
}

// Validate returns ErrUnusable, naming what is missing, when !IsUsable(b).
func Validate(b Bundle) error {
	if IsUsable(b) {
		return nil
	}
	if !b.Platform.Valid() {
		return fmt.Errorf("%w: unknown platform %q", ErrUnusable, b.Platform)
	}
	id := "page_id"
	if b.Platform == platform.Instagram {
		id = "instagram_account_id"
	}
	return fmt.Errorf("%w: %s needs user_access_token or page_access_token+%s", ErrUnusable, b.Platform, id)
}

// TargetID returns the id posts are addressed to on b.Platform.
func (b Bundle) TargetID() string {
	if b.Platform == platform.Instagram {
		return b.SubAccountID
	}
	return b.PageID
}

// WithUserToken returns a copy of b with the user token replaced.
func (b Bundle) WithUserToken(token string) Bundle {
	b.UserAccessToken = token
	return b
}

// WithPage returns a copy of b addressed to page id with its page token.
func (b Bundle) WithPage(id, token string) Bundle {
	b.PageID = id
	b.PageAccessToken = token
	return b
}

// WithSubAccount returns a copy of b with the sub-account id replaced.
func (b Bundle) WithSubAccount(id string) Bundle {
	b.SubAccountID = id
	return b
}

// Redacted returns a copy safe to print: tokens keep four leading runes.
func (b Bundle) Redacted() Bundle {
	b.UserAccessToken = redact(b.UserAccessToken)
	b.PageAccessToken = redact(b.PageAccessToken)
	return b
}

func redact(s string) string {
	r := []rune(s)
	if len(r) <= 4 {
		return s
	}
	return string(r[:4]) + "..."
}
