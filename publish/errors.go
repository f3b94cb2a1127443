package publish

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/feedcast/platform"
)

var (
	// ErrMissingCredentials means no token/id pair could address the post.
	// The attempt is FAILED and no remote call is made.
	ErrMissingCredentials = errors.New("missing_credentials")
	// ErrNoMedia means an Instagram attempt had no media URL. The attempt
	// is SKIPPED.
	ErrNoMedia = errors.New("no_media_for_instagram")
	// ErrRedundant means the content hash is already in the history.
	ErrRedundant = errors.New("redundant_content")
	// ErrNoPoster means no Poster is registered for the platform.
	ErrNoPoster = errors.New("no_poster")
)

// PostError wraps a failed remote posting call.
type PostError struct {
	Platform platform.Platform
	Step     string // "feed", "media", "media_publish"
	Cause    error
}

func (e *PostError) Error() string {
	return fmt.Sprintf("publish: %s %s: %v", e.Platform, e.Step, e.Cause)
}

func (e *PostError) Unwrap() error { return e.Cause }
