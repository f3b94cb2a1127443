// CLAUDE:SUMMARY Publish decision engine: redundancy check, Instagram media gate, page/user/resolved credential fallback, remote post, history + event recording.
// Package publish decides whether and how to post a content item to a
// platform, performs the post, and runs batches over configured feeds.
//
// Per (item, platform) the engine moves the item from draft to exactly one
// of skipped, published or failed:
//
//	redundant hash            -> skipped
//	instagram without media   -> skipped
//	no token/id pair          -> failed (missing_credentials)
//	remote call ok / error    -> published / failed
//
// Every outcome is appended to the item, the CSV history and the event log.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/feedcast/accounts"
	"github.com/hazyhaar/feedcast/content"
	"github.com/hazyhaar/feedcast/eventlog"
	"github.com/hazyhaar/feedcast/graph"
	"github.com/hazyhaar/feedcast/history"
	"github.com/hazyhaar/feedcast/idgen"
	"github.com/hazyhaar/feedcast/platform"
	"github.com/hazyhaar/feedcast/tokenstore"
)

// History is the redundancy log the engine consults and appends to.
type History interface {
	IsRedundant(contentHash string) (history.Redundancy, error)
	Append(r history.Record) error
}

// AccountResolver maps a user token to page and sub-account ids.
type AccountResolver interface {
	Resolve(ctx context.Context, userToken string) *accounts.Resolution
}

// EventRecorder receives one event per decision.
type EventRecorder interface {
	Record(ctx context.Context, e eventlog.Event)
}

// Config configures an Engine.
type Config struct {
	History  History // required
	Resolver AccountResolver
	Events   EventRecorder
	Metrics  *Metrics
	// MediaCheck, when set, validates an Instagram media URL before
	// posting. A failure skips the attempt.
	MediaCheck func(ctx context.Context, mediaURL string) error
	// Posters replace the default Graph posters for their platforms.
	Posters []Poster
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   idgen.Generator
}

// Engine is the publish decision engine. It holds no token state: every
// Attempt works from the bundle passed in.
type Engine struct {
	posters  map[platform.Platform]Poster
	history  History
	resolver AccountResolver
	events   EventRecorder
	metrics  *Metrics
	media    func(context.Context, string) error
	logger   *slog.Logger
	now      func() time.Time
	newID    idgen.Generator
}

// NewEngine returns an Engine posting through g.
func NewEngine(g *graph.Client, cfg Config) *Engine {
	e := &Engine{
		posters:  make(map[platform.Platform]Poster),
		history:  cfg.History,
		resolver: cfg.Resolver,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		media:    cfg.MediaCheck,
		logger:   cfg.Logger,
		now:      cfg.Now,
		newID:    cfg.NewID,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = idgen.Prefixed("att_", idgen.Default)
	}
	if g != nil {
		e.Register(NewFacebookPoster(g))
		e.Register(NewInstagramPoster(g))
	}
	for _, p := range cfg.Posters {
		e.Register(p)
	}
	return e
}

// Register installs p for its platform, replacing any previous poster.
func (e *Engine) Register(p Poster) {
	e.posters[p.Platform()] = p
}

// Action is what a Plan would do.
type Action string

const (
	ActionPost Action = "post"
	ActionSkip Action = "skip"
	ActionFail Action = "fail"
)

// Plan is the local part of a decision, computed without remote calls.
type Plan struct {
	Platform   platform.Platform `json:"platform"`
	Action     Action            `json:"action"`
	Reason     string            `json:"reason,omitempty"`
	Credential CredentialSource  `json:"credential,omitempty"`
}

// Plan reports what Attempt would do for it on p, without posting,
// resolving accounts or writing anything. A user token without an id plans
// as a post through account resolution.
func (e *Engine) Plan(it *content.Item, p platform.Platform, b tokenstore.Bundle) Plan {
	if reason, skip, err := e.gate(it, p); err != nil {
		return Plan{Platform: p, Action: ActionFail, Reason: err.Error()}
	} else if skip {
		return Plan{Platform: p, Action: ActionSkip, Reason: reason}
	}
	if _, ok := e.posters[p]; !ok {
		return Plan{Platform: p, Action: ActionFail, Reason: ErrNoPoster.Error()}
	}
	if cred, ok := localCredential(p, b); ok {
		return Plan{Platform: p, Action: ActionPost, Credential: cred.Source}
	}
	if b.UserAccessToken != "" && e.resolver != nil {
		return Plan{Platform: p, Action: ActionPost, Credential: FromResolvedUser}
	}
	return Plan{Platform: p, Action: ActionFail, Reason: ErrMissingCredentials.Error()}
}

// Attempt runs the decision for it on p with bundle b, mutating it through
// UpdateStatus. It never returns an error: the outcome is the attempt.
func (e *Engine) Attempt(ctx context.Context, it *content.Item, p platform.Platform, b tokenstore.Bundle) content.PostAttempt {
	start := e.now()
	att := content.PostAttempt{
		ID:        e.newID(),
		Timestamp: start,
		Platform:  p,
	}

	var (
		remoteDur time.Duration
		source    CredentialSource
	)
	if reason, skip, err := e.gate(it, p); err != nil {
		att.Status = content.Failed
		att.Error = err.Error()
	} else if skip {
		att.Status = content.Skipped
		att.Error = reason
	} else if err := e.checkMedia(ctx, it, p); err != nil {
		att.Status = content.Skipped
		att.Error = err.Error()
	} else if cred, err := e.credential(ctx, p, b); err != nil {
		att.Status = content.Failed
		att.Error = err.Error()
	} else if poster, ok := e.posters[p]; !ok {
		att.Status = content.Failed
		att.Error = ErrNoPoster.Error()
	} else {
		callStart := time.Now()
		remoteID, err := poster.Post(ctx, cred, it)
		remoteDur = time.Since(callStart)
		e.metrics.posted(p, remoteDur)
		switch {
		case errors.Is(err, ErrNoMedia):
			att.Status = content.Skipped
			att.Error = ErrNoMedia.Error()
		case err != nil:
			att.Status = content.Failed
			att.Error = err.Error()
		default:
			att.Status = content.Published
			att.Success = true
			att.RemotePostID = remoteID
		}
		source = cred.Source
	}

	e.logger.Info("publish: attempt",
		"platform", p, "content_id", it.ID, "status", att.Status, "credential", source,
		"remote_post_id", att.RemotePostID, "error", att.Error)
	it.UpdateStatus(att)
	e.record(ctx, it, att, remoteDur)
	return att
}

// gate applies the redundancy and media rules. It returns a skip reason,
// or an error when the history cannot be read.
func (e *Engine) gate(it *content.Item, p platform.Platform) (string, bool, error) {
	red, err := e.history.IsRedundant(it.ContentHash())
	if err != nil {
		return "", false, fmt.Errorf("history_unavailable: %w", err)
	}
	if red.IsRedundant {
		reason := ErrRedundant.Error()
		if red.Reference != "" {
			reason += fmt.Sprintf(": ref %s on %s at %s", red.Reference, red.Platform, red.Timestamp)
		} else {
			reason += fmt.Sprintf(": seen on %s at %s", red.Platform, red.Timestamp)
		}
		return reason, true, nil
	}
	if p == platform.Instagram && !it.HasMedia() {
		return ErrNoMedia.Error(), true, nil
	}
	return "", false, nil
}

func (e *Engine) checkMedia(ctx context.Context, it *content.Item, p platform.Platform) error {
	if e.media == nil || p != platform.Instagram {
		return nil
	}
	if err := e.media(ctx, it.MediaURL); err != nil {
		return fmt.Errorf("invalid_media: %w", err)
	}
	return nil
}

// localCredential applies the bundle-only fallbacks: page token with the
// platform id, then user token with the platform id.
func localCredential(p platform.Platform, b tokenstore.Bundle) (Credential, bool) {
	id := b.PageID
	if p == platform.Instagram {
		id = b.SubAccountID
	}
	if id == "" {
		return Credential{}, false
	}
	if b.PageAccessToken != "" {
		return Credential{Token: b.PageAccessToken, TargetID: id, Source: FromPageToken}, true
	}
	if b.UserAccessToken != "" {
		return Credential{Token: b.UserAccessToken, TargetID: id, Source: FromUserToken}, true
	}
	return Credential{}, false
}

// credential picks the token and id for p. When the bundle carries a user
// token but no id, the resolver is asked once for an id.
func (e *Engine) credential(ctx context.Context, p platform.Platform, b tokenstore.Bundle) (Credential, error) {
	if cred, ok := localCredential(p, b); ok {
		return cred, nil
	}
	if b.UserAccessToken == "" || e.resolver == nil {
		return Credential{}, ErrMissingCredentials
	}
	res := e.resolver.Resolve(ctx, b.UserAccessToken)
	if id := res.TargetID(p); id != "" {
		return Credential{Token: b.UserAccessToken, TargetID: id, Source: FromResolvedUser}, nil
	}
	return Credential{}, ErrMissingCredentials
}

func (e *Engine) record(ctx context.Context, it *content.Item, att content.PostAttempt, remoteDur time.Duration) {
	err := e.history.Append(history.Record{
		Timestamp:   att.Timestamp,
		Platform:    string(att.Platform),
		ContentHash: it.ContentHash(),
		ContentID:   it.ID,
		Title:       it.Title,
		Success:     att.Success,
		Error:       att.Error,
		PostID:      att.RemotePostID,
	})
	if err != nil {
		e.logger.Error("publish: history append failed", "content_id", it.ID, "error", err)
	}
	if e.events != nil {
		e.events.Record(ctx, eventlog.Event{
			Timestamp:    att.Timestamp,
			ContentID:    it.ID,
			Platform:     string(att.Platform),
			Status:       string(att.Status),
			RemotePostID: att.RemotePostID,
			Error:        att.Error,
			Duration:     remoteDur,
		})
	}
	e.metrics.attempt(att.Platform, att.Status)
}
