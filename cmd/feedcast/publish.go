package main

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/feedcast/content"
	"github.com/hazyhaar/feedcast/platform"
	"github.com/hazyhaar/feedcast/publish"
	"github.com/hazyhaar/feedcast/source"
)

// batchFlags are the knobs shared by publish and serve --schedule.
type batchFlags struct {
	feeds        string
	platforms    string
	maxItems     int
	requireMedia bool
	delay        time.Duration
	dryRun       bool
	verifyMedia  bool
}

func (f *batchFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.feeds, "feeds", env("FEEDCAST_FEEDS", "feeds.yaml"), "YAML feeds file (built-in feeds when absent)")
	fl.StringVar(&f.platforms, "platforms", "facebook,instagram", "Comma-separated platforms to publish to")
	fl.IntVar(&f.maxItems, "max-items", 2, "Items per feed (0 for all)")
	fl.BoolVar(&f.requireMedia, "require-media", true, "Only take items carrying an image or video")
	fl.DurationVar(&f.delay, "delay", 30*time.Second, "Pause between items")
	fl.BoolVar(&f.dryRun, "dry-run", false, "Decide without posting or recording anything")
	fl.BoolVar(&f.verifyMedia, "verify-media", false, "Check media URLs with a HEAD request before posting to Instagram")
}

// runner wires the engine and the batch runner from the app and flags.
func (f *batchFlags) runner(a *app, metrics *publish.Metrics) (*publish.Runner, error) {
	platforms, err := platform.ParseList(f.platforms)
	if err != nil {
		return nil, err
	}
	feeds, err := a.feeds(f.feeds)
	if err != nil {
		return nil, err
	}

	cfg := publish.Config{
		History:  a.history,
		Resolver: a.resolver(),
		Events:   a.events,
		Metrics:  metrics,
		Logger:   a.logger,
	}
	if f.verifyMedia {
		cfg.MediaCheck = source.NewMediaValidator(a.sourceOptions()).Validate
	}
	engine := publish.NewEngine(a.graph, cfg)

	return publish.NewRunner(engine, publish.RunnerConfig{
		Feeds:        feeds,
		Sources:      a.sources,
		Tokens:       a.tokens,
		Store:        a.items,
		Platforms:    platforms,
		MaxItems:     f.maxItems,
		RequireMedia: f.requireMedia,
		Delay:        f.delay,
		DryRun:       f.dryRun,
		Metrics:      metrics,
		Logger:       a.logger,
	}), nil
}

func publishCmd() *cobra.Command {
	var flags batchFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Fetch the registered feeds and publish new items",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			r, err := flags.runner(a, nil)
			if err != nil {
				return err
			}
			sum, err := r.Run(cmd.Context())
			if sum != nil {
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if jerr := enc.Encode(sum); jerr != nil {
						return jerr
					}
				} else {
					printSummary(cmd.OutOrStdout(), sum)
				}
			}
			return err
		}),
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func printSummary(w io.Writer, sum *publish.Summary) {
	title := "Publishing summary"
	if sum.DryRun {
		title = "Dry run summary"
	}
	printf(w, "\n%s (%d items, %s)\n", title, sum.Items, sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	for _, f := range sum.FeedErrors {
		printf(w, "  feed %s failed: %s\n", f.Feed, f.Error)
	}
	for _, p := range platform.All() {
		if reason, ok := sum.Unusable[p]; ok {
			printf(w, "  %-10s not usable: %s\n", p, reason)
			continue
		}
		ps, ok := sum.Platforms[p]
		if !ok {
			continue
		}
		if sum.DryRun {
			printf(w, "  %-10s would publish %d, would fail %d, would skip %d\n", p, ps.WouldPost, ps.Failed, ps.Skipped)
		} else {
			printf(w, "  %-10s published %d, failed %d, skipped %d\n", p, ps.Published, ps.Failed, ps.Skipped)
		}
	}
	if sum.DryRun {
		ids := make([]string, 0, len(sum.Plans))
		for id := range sum.Plans {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			for _, plan := range sum.Plans[id] {
				detail := plan.Reason
				if detail == "" {
					detail = string(plan.Credential)
				}
				printf(w, "    %s %-10s %-4s %s\n", id, plan.Platform, plan.Action, detail)
			}
		}
	}
}

func fetchCmd() *cobra.Command {
	var (
		feedsPath    string
		maxItems     int
		requireMedia bool
		noSave       bool
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the registered feeds and save the items without publishing",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			feeds, err := a.feeds(feedsPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range feeds {
				src, err := a.sources(f.Kind)
				if err != nil {
					return err
				}
				items, err := src.Fetch(cmd.Context(), f.Options(maxItems, requireMedia))
				if err != nil {
					a.logger.Warn("feedcast: feed failed", "feed", f.Name, "error", err)
					printf(out, "%s: %v\n", f.Name, err)
					continue
				}
				printf(out, "%s: %d items\n", f.Name, len(items))
				for _, it := range items {
					media := ""
					if it.HasMedia() {
						media = " [media]"
					}
					if noSave {
						printf(out, "  %s %s%s\n", it.ID, it.Title, media)
						continue
					}
					path, err := a.items.Save(it)
					if err != nil {
						return err
					}
					printf(out, "  %s %s%s -> %s\n", it.ID, it.Title, media, path)
				}
			}
			return nil
		}),
	}
	fl := cmd.Flags()
	fl.StringVar(&feedsPath, "feeds", env("FEEDCAST_FEEDS", "feeds.yaml"), "YAML feeds file (built-in feeds when absent)")
	fl.IntVar(&maxItems, "max-items", 5, "Items per feed (0 for all)")
	fl.BoolVar(&requireMedia, "require-media", false, "Only take items carrying an image or video")
	fl.BoolVar(&noSave, "no-save", false, "Print the items without writing them")
	return cmd
}

func contentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Browse saved content items",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved items, newest first",
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				items, err := a.items.List()
				if err != nil {
					return err
				}
				printItems(cmd.OutOrStdout(), items)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "search <query>",
			Short: "Search saved items by title and body",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				items, err := a.items.Search(args[0])
				if err != nil {
					return err
				}
				printItems(cmd.OutOrStdout(), items)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print one item as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				it, err := a.items.Load(args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(it)
			}),
		},
	)
	return cmd
}

func printItems(w io.Writer, items []content.Item) {
	if len(items) == 0 {
		printf(w, "No items.\n")
		return
	}
	for _, it := range items {
		printf(w, "%s  %-9s  %s  %s\n", it.ID, it.Status, it.CreatedAt.Format("2006-01-02 15:04"), truncateTitle(it.Title, 70))
	}
	printf(w, "%d items\n", len(items))
}

func truncateTitle(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
