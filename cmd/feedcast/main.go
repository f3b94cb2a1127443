// CLAUDE:SUMMARY Entry point for the feedcast CLI: cobra root, slog setup from LOG_LEVEL/LOG_FORMAT, .env loading, signal context.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/feedcast/credentials"
)

func main() {
	setupLogging(env("LOG_LEVEL", "info"), env("LOG_FORMAT", "text"))

	if err := credentials.LoadDotenv(); err != nil {
		slog.Error("dotenv", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "feedcast",
		Short:         "Publish feed content to Facebook pages and Instagram business accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		authCmd(),
		accountsCmd(),
		tokensCmd(),
		fetchCmd(),
		publishCmd(),
		contentCmd(),
		serveCmd(),
		envCmd(),
	)
	wrapRunE(root)
	return root
}

// wrapRunE routes command errors to slog; the root silences cobra's output.
func wrapRunE(c *cobra.Command) {
	for _, sub := range c.Commands() {
		wrapRunE(sub)
	}
	if c.RunE == nil {
		return
	}
	run := c.RunE
	c.RunE = func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err != nil {
			slog.Error("feedcast: "+cmd.Name()+" failed", "error", err)
		}
		return err
	}
}

func setupLogging(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
