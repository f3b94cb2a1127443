package publish

import (
	"context"
	"net/url"

	"github.com/hazyhaar/feedcast/content"
	"github.com/hazyhaar/feedcast/graph"
	"github.com/hazyhaar/feedcast/platform"
)

// MaxCaptionRunes is the Instagram caption limit.
const MaxCaptionRunes = 2200

// Credential is the token and target id chosen for one attempt.
type Credential struct {
	Token    string
	TargetID string
	Source   CredentialSource
}

// CredentialSource records which fallback supplied a Credential.
type CredentialSource string

const (
	FromPageToken    CredentialSource = "page_token"
	FromUserToken    CredentialSource = "user_token"
	FromResolvedUser CredentialSource = "user_token_resolved"
)

// Poster performs the remote posting call for one platform.
type Poster interface {
	Platform() platform.Platform
	// Post publishes it and returns the remote post id.
	Post(ctx context.Context, cred Credential, it *content.Item) (string, error)
}

// FacebookMessage is the text of a Facebook post: the body with whitespace
// collapsed. There is no length cap.
func FacebookMessage(it *content.Item) string {
	return content.CleanText(it.Body)
}

// InstagramCaption is title, a blank line, then the cleaned body,
// truncated to MaxCaptionRunes.
func InstagramCaption(it *content.Item) string {
	caption := it.Title + "\n\n" + content.CleanText(it.Body)
	r := []rune(caption)
	if len(r) > MaxCaptionRunes {
		return string(r[:MaxCaptionRunes])
	}
	return caption
}

// FacebookPoster creates page feed posts.
type FacebookPoster struct {
	graph *graph.Client
}

// NewFacebookPoster returns a Poster for facebook.
func NewFacebookPoster(g *graph.Client) *FacebookPoster { return &FacebookPoster{graph: g} }

// Platform returns facebook.
func (p *FacebookPoster) Platform() platform.Platform { return platform.Facebook }

// Post issues POST {page}/feed with the message and, when present, the
// media URL as link.
func (p *FacebookPoster) Post(ctx context.Context, cred Credential, it *content.Item) (string, error) {
	params := url.Values{
		"message":      {FacebookMessage(it)},
		"access_token": {cred.Token},
	}
	if it.HasMedia() {
		params.Set("link", it.MediaURL)
	}
	var out graph.IDResponse
	if err := p.graph.Post(ctx, cred.TargetID+"/feed", params, &out); err != nil {
		return "", &PostError{Platform: platform.Facebook, Step: "feed", Cause: err}
	}
	return out.ID, nil
}

// InstagramPoster publishes through a media container.
type InstagramPoster struct {
	graph *graph.Client
}

// NewInstagramPoster returns a Poster for instagram.
func NewInstagramPoster(g *graph.Client) *InstagramPoster { return &InstagramPoster{graph: g} }

// Platform returns instagram.
func (p *InstagramPoster) Platform() platform.Platform { return platform.Instagram }

// Post creates a media container, then publishes it. The publish call is
// skipped when the container call fails.
func (p *InstagramPoster) Post(ctx context.Context, cred Credential, it *content.Item) (string, error) {
	if !it.HasMedia() {
		return "", ErrNoMedia
	}
	var container graph.IDResponse
	err := p.graph.Post(ctx, cred.TargetID+"/media", url.Values{
		"image_url":    {it.MediaURL},
		"caption":      {InstagramCaption(it)},
		"access_token": {cred.Token},
	}, &container)
	if err != nil {
		return "", &PostError{Platform: platform.Instagram, Step: "media", Cause: err}
	}

	var published graph.IDResponse
	err = p.graph.Post(ctx, cred.TargetID+"/media_publish", url.Values{
		"creation_id":  {container.ID},
		"access_token": {cred.Token},
	}, &published)
	if err != nil {
		return "", &PostError{Platform: platform.Instagram, Step: "media_publish", Cause: err}
	}
	return published.ID, nil
}
