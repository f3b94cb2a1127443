package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/feedcast/content"
	"github.com/hazyhaar/feedcast/platform"
	"github.com/hazyhaar/feedcast/source"
	"github.com/hazyhaar/feedcast/tokenstore"
)

var (
	// ErrNoUsableTokens is returned when no selected platform has a usable
	// bundle.
	ErrNoUsableTokens = errors.New("publish: no usable token bundle")
	// ErrBusy is returned when a batch is already running.
	ErrBusy = errors.New("publish: batch already running")
)

// BundleLoader loads the stored bundle of a platform.
type BundleLoader interface {
	LoadPlatform(p platform.Platform) (tokenstore.Bundle, error)
}

// ItemStore persists content items between attempts. Load returns an
// error wrapping content.ErrNotFound for an unknown id.
type ItemStore interface {
	Save(it content.Item) (string, error)
	Load(id string) (content.Item, error)
}

// SourceFactory builds the source for a feed kind.
type SourceFactory func(kind string) (source.Source, error)

// RunnerConfig configures a batch Runner.
type RunnerConfig struct {
	Feeds     []source.Feed
	Sources   SourceFactory
	Tokens    BundleLoader
	Store     ItemStore // optional
	Platforms []platform.Platform
	// MaxItems and RequireMedia apply to feeds without their own values.
	MaxItems     int
	RequireMedia bool
	// Delay is the fixed pause between items. Zero disables it.
	Delay   time.Duration
	DryRun  bool
	Metrics *Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// PlatformSummary counts outcomes for one platform.
type PlatformSummary struct {
	Published int `json:"published"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	WouldPost int `json:"would_post,omitempty"`
}

// FeedFailure is a feed that produced no items because of an error.
type FeedFailure struct {
	Feed  string `json:"feed"`
	Error string `json:"error"`
}

// Summary describes one batch run. Plans is filled on dry runs, keyed by
// item id.
type Summary struct {
	StartedAt  time.Time                              `json:"started_at"`
	FinishedAt time.Time                              `json:"finished_at"`
	DryRun     bool                                   `json:"dry_run"`
	Items      int                                    `json:"items"`
	Platforms  map[platform.Platform]*PlatformSummary `json:"platforms"`
	Plans      map[string][]Plan                      `json:"plans,omitempty"`
	FeedErrors []FeedFailure                          `json:"feed_errors,omitempty"`
	Unusable   map[platform.Platform]string           `json:"unusable_platforms,omitempty"`
	Attempts   map[string][]content.PostAttempt       `json:"-"`
}

// Runner fetches the configured feeds and runs every item through the
// engine, one item at a time.
type Runner struct {
	engine *Engine
	cfg    RunnerConfig
	mu     sync.Mutex
}

// NewRunner returns a Runner.
func NewRunner(e *Engine, cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = platform.All()
	}
	if cfg.Sources == nil {
		cfg.Sources = func(kind string) (source.Source, error) { return source.New(kind, source.Options{}) }
	}
	return &Runner{engine: e, cfg: cfg}
}

// Run executes one batch. Feed and item failures are recorded in the
// summary and do not stop the batch. Cancelling ctx stops it between
// items.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()

	log := r.cfg.Logger
	sum := &Summary{
		StartedAt: r.cfg.Now(),
		DryRun:    r.cfg.DryRun,
		Platforms: make(map[platform.Platform]*PlatformSummary),
		Unusable:  make(map[platform.Platform]string),
		Attempts:  make(map[string][]content.PostAttempt),
	}
	if r.cfg.DryRun {
		sum.Plans = make(map[string][]Plan)
	}

	bundles := r.loadBundles(sum)
	if len(bundles) == 0 && !r.cfg.DryRun {
		return sum, ErrNoUsableTokens
	}

	items := r.fetchAll(ctx, sum)
	sum.Items = len(items)
	log.Info("publish: batch starting", "items", len(items), "platforms", len(bundles), "dry_run", r.cfg.DryRun)

	limit := rate.Inf
	if r.cfg.Delay > 0 {
		limit = rate.Every(r.cfg.Delay)
	}
	pacer := rate.NewLimiter(limit, 1)

	for i := range items {
		it := &items[i]
		if !r.cfg.DryRun {
			if err := pacer.Wait(ctx); err != nil {
				log.Warn("publish: batch interrupted", "done", i, "remaining", len(items)-i, "error", err)
				sum.FinishedAt = r.cfg.Now()
				return sum, fmt.Errorf("publish: batch interrupted: %w", err)
			}
		}
		r.restore(it)
		if !r.cfg.DryRun {
			r.save(it)
		}

		for _, p := range r.cfg.Platforms {
			b, ok := bundles[p]
			if !ok && !r.cfg.DryRun {
				continue
			}
			ps := sum.platform(p)
			if r.cfg.DryRun {
				plan := r.engine.Plan(it, p, b)
				sum.Plans[it.ID] = append(sum.Plans[it.ID], plan)
				switch plan.Action {
				case ActionPost:
					ps.WouldPost++
				case ActionSkip:
					ps.Skipped++
				default:
					ps.Failed++
				}
				continue
			}

			att := r.engine.Attempt(ctx, it, p, b)
			sum.Attempts[it.ID] = append(sum.Attempts[it.ID], att)
			switch att.Status {
			case content.Published:
				ps.Published++
			case content.Skipped:
				ps.Skipped++
			default:
				ps.Failed++
			}
		}
		if !r.cfg.DryRun {
			r.save(it)
		}
	}

	sum.FinishedAt = r.cfg.Now()
	r.cfg.Metrics.batchDone(sum.FinishedAt)
	log.Info("publish: batch finished", "items", sum.Items, "duration", sum.FinishedAt.Sub(sum.StartedAt))
	return sum, nil
}

func (s *Summary) platform(p platform.Platform) *PlatformSummary {
	ps, ok := s.Platforms[p]
	if !ok {
		ps = &PlatformSummary{}
		s.Platforms[p] = ps
	}
	return ps
}

func (r *Runner) loadBundles(sum *Summary) map[platform.Platform]tokenstore.Bundle {
	out := make(map[platform.Platform]tokenstore.Bundle)
	for _, p := range r.cfg.Platforms {
		if r.cfg.Tokens == nil {
			sum.Unusable[p] = "no token store"
			continue
		}
		b, err := r.cfg.Tokens.LoadPlatform(p)
		if err != nil {
			r.cfg.Logger.Warn("publish: no tokens for platform", "platform", p, "error", err)
			sum.Unusable[p] = err.Error()
			continue
		}
		if err := tokenstore.Validate(b); err != nil {
			r.cfg.Logger.Warn("publish: token bundle not usable", "platform", p, "error", err)
			sum.Unusable[p] = err.Error()
			continue
		}
		out[p] = b
	}
	return out
}

func (r *Runner) fetchAll(ctx context.Context, sum *Summary) []content.Item {
	var all []content.Item
	for _, f := range r.cfg.Feeds {
		name := f.Name
		if name == "" {
			name = f.URL
		}
		src, err := r.cfg.Sources(f.Kind)
		if err != nil {
			r.feedFailed(sum, name, err)
			continue
		}
		items, err := src.Fetch(ctx, f.Options(r.cfg.MaxItems, r.cfg.RequireMedia))
		if err != nil {
			r.feedFailed(sum, name, err)
			continue
		}
		r.cfg.Metrics.fetched(name, len(items))
		r.cfg.Logger.Info("publish: feed fetched", "feed", name, "items", len(items))
		all = append(all, items...)
	}
	return all
}

func (r *Runner) feedFailed(sum *Summary, name string, err error) {
	r.cfg.Logger.Warn("publish: feed failed", "feed", name, "error", err)
	r.cfg.Metrics.feedError(name)
	sum.FeedErrors = append(sum.FeedErrors, FeedFailure{Feed: name, Error: err.Error()})
}

// restore carries the stored lifecycle of a re-fetched item over to it, so
// earlier attempts stay in its history.
func (r *Runner) restore(it *content.Item) {
	if r.cfg.Store == nil {
		return
	}
	prev, err := r.cfg.Store.Load(it.ID)
	if errors.Is(err, content.ErrNotFound) {
		return
	}
	if err != nil {
		r.cfg.Logger.Warn("publish: load stored item failed", "content_id", it.ID, "error", err)
		return
	}
	it.Status = prev.Status
	it.PostHistory = append([]content.PostAttempt{}, prev.PostHistory...)
	if !prev.CreatedAt.IsZero() {
		it.CreatedAt = prev.CreatedAt
	}
	if prev.UpdatedAt.After(it.UpdatedAt) {
		it.UpdatedAt = prev.UpdatedAt
	}
}

func (r *Runner) save(it *content.Item) {
	if r.cfg.Store == nil {
		return
	}
	if _, err := r.cfg.Store.Save(*it); err != nil {
		r.cfg.Logger.Error("publish: save item failed", "content_id", it.ID, "error", err)
	}
}
