package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/feedcast/accounts"
	"github.com/hazyhaar/feedcast/content"
	"github.com/hazyhaar/feedcast/credentials"
	"github.com/hazyhaar/feedcast/eventlog"
	"github.com/hazyhaar/feedcast/graph"
	"github.com/hazyhaar/feedcast/history"
	"github.com/hazyhaar/feedcast/oauth"
	"github.com/hazyhaar/feedcast/source"
	"github.com/hazyhaar/feedcast/tokenstore"
)

// app holds the stores and clients shared by the commands.
type app struct {
	logger   *slog.Logger
	dataDir  string
	graph    *graph.Client
	tokens   *tokenstore.Store
	items    *content.Store
	history  *history.Log
	eventsDB *sql.DB
	events   *eventlog.Logger

	creds *credentials.Credentials // nil when the app credentials are not configured
	oauth *oauth.Client            // nil when creds is nil
}

// openApp builds the app from the environment. Missing app credentials
// are not an error here: commands that need them call requireOAuth.
func openApp() (*app, error) {
	logger := slog.Default()
	dataDir := env("FEEDCAST_DATA_DIR", "data")

	a := &app{
		logger:  logger,
		dataDir: dataDir,
		graph:   graph.New(graph.Config{
			BaseURL: env("GRAPH_API_BASE_URL", graph.DefaultBaseURL),
			Version: env("GRAPH_API_VERSION", graph.DefaultVersion),
			Logger:  logger,
		}),
		tokens:  tokenstore.New(env("FEEDCAST_TOKENS_DIR", ".")),
		items:   content.NewStore(filepath.Join(dataDir, "content")),
		history: history.Open(env("FEEDCAST_HISTORY", filepath.Join(dataDir, "data.csv"))),
	}

	db, err := eventlog.Open(env("FEEDCAST_EVENTS_DB", filepath.Join(dataDir, "events.db")))
	if err != nil {
		return nil, fmt.Errorf("events db: %w", err)
	}
	a.eventsDB = db
	a.events = eventlog.New(db, eventlog.WithLogger(logger))

	creds, err := credentials.Load()
	var cfgErr *credentials.ConfigError
	switch {
	case err == nil:
		a.creds = creds
		a.oauth = oauth.New(oauth.Config{Credentials: creds, Graph: a.graph, Logger: logger})
	case errors.As(err, &cfgErr):
		logger.Debug("feedcast: app credentials not configured", "missing", cfgErr.Missing)
	default:
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	if a.eventsDB != nil {
		return a.eventsDB.Close()
	}
	return nil
}

// requireOAuth returns the token client or the ConfigError naming what is missing.
func (a *app) requireOAuth() (*oauth.Client, error) {
	if a.oauth != nil {
		return a.oauth, nil
	}
	_, err := credentials.Load()
	return nil, err
}

// resolver uses introspection as a fallback when app credentials exist.
func (a *app) resolver() *accounts.Resolver {
	opts := []accounts.Option{accounts.WithLogger(a.logger)}
	if a.oauth != nil {
		opts = append(opts, accounts.WithIntrospector(a.oauth))
	}
	return accounts.New(a.graph, opts...)
}

func (a *app) sourceOptions() source.Options {
	return source.Options{
		VisualPingKey: env("VISUALPING_API_KEY", ""),
		Logger:        a.logger,
	}
}

func (a *app) sources(kind string) (source.Source, error) {
	return source.New(kind, a.sourceOptions())
}

func (a *app) feeds(path string) ([]source.Feed, error) {
	return source.LoadFeeds(path)
}

// withApp opens the app for the duration of fn.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
