package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/feedcast/source/internal/fetch"
)

// MediaCheckTimeout bounds a single media URL check.
const MediaCheckTimeout = 5 * time.Second

// ErrNotMedia is returned when a URL does not serve an image or a video.
var ErrNotMedia = errors.New("source: url is not an image or video")

// MediaValidator checks that media URLs serve an image or a video.
type MediaValidator struct {
	fetcher *fetch.Fetcher
	timeout time.Duration
}

// NewMediaValidator returns a validator using opts' URL policy.
func NewMediaValidator(opts Options) *MediaValidator {
	opts.defaults()
	return &MediaValidator{fetcher: opts.fetcher(), timeout: MediaCheckTimeout}
}

// Validate issues a HEAD request for mediaURL and checks its Content-Type.
func (v *MediaValidator) Validate(ctx context.Context, mediaURL string) error {
	if strings.TrimSpace(mediaURL) == "" {
		return fmt.Errorf("%w: empty url", ErrNotMedia)
	}
	p, err := v.fetcher.Head(ctx, mediaURL, v.timeout)
	if err != nil {
		return fmt.Errorf("source: check %s: %w", mediaURL, err)
	}
	ct := strings.ToLower(p.ContentType)
	if !strings.HasPrefix(ct, "image/") && !strings.HasPrefix(ct, "video/") {
		return fmt.Errorf("%w: %s has content type %q", ErrNotMedia, mediaURL, p.ContentType)
	}
	return nil
}
