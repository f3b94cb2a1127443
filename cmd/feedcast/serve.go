package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/feedcast/content"
	"github.com/hazyhaar/feedcast/eventlog"
	"github.com/hazyhaar/feedcast/history"
	"github.com/hazyhaar/feedcast/platform"
	"github.com/hazyhaar/feedcast/publish"
	"github.com/hazyhaar/feedcast/shield"
	"github.com/hazyhaar/feedcast/tokenstore"
)

func serveCmd() *cobra.Command {
	var (
		flags     batchFlags
		schedule  string
		retention time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API and run batches on a schedule",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics := publish.NewMetrics(reg)

			runner, err := flags.runner(a, metrics)
			if err != nil {
				return err
			}
			s := &server{
				ctx:      ctx,
				items:    a.items,
				history:  a.history,
				events:   a.events,
				tokens:   a.tokens,
				runner:   runner,
				gatherer: reg,
				logger:   a.logger,
			}

			c := cron.New()
			if schedule != "" {
				sched, err := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(schedule)
				if err != nil {
					return err
				}
				c.Schedule(sched, cron.FuncJob(func() { s.runBatch() }))
				a.logger.Info("feedcast: batch scheduled", "schedule", schedule)
			}
			if retention > 0 {
				c.Schedule(cron.Every(24*time.Hour), cron.FuncJob(func() {
					n, err := a.events.Cleanup(ctx, retention)
					if err != nil {
						a.logger.Warn("feedcast: event cleanup failed", "error", err)
						return
					}
					a.logger.Info("feedcast: events cleaned up", "deleted", n)
				}))
			}
			c.Start()

			port := env("PORT", "8086")
			srv := &http.Server{
				Addr:              ":" + port,
				Handler:           s.routes(),
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				a.logger.Info("feedcast: server starting", "port", port)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			}()

			select {
			case err := <-errc:
				c.Stop()
				return err
			case <-ctx.Done():
			}
			a.logger.Info("feedcast: shutting down")
			c.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("feedcast: shutdown", "error", err)
			}
			s.shutdown()
			return nil
		}),
	}
	flags.register(cmd)
	fl := cmd.Flags()
	fl.StringVar(&schedule, "schedule", env("FEEDCAST_SCHEDULE", ""), "Cron spec (5 fields) for batch runs; empty disables")
	fl.DurationVar(&retention, "events-retention", 90*24*time.Hour, "Delete events older than this once a day; 0 keeps everything")
	return cmd
}

// server is the status API.
type server struct {
	ctx      context.Context
	items    *content.Store
	history  *history.Log
	events   *eventlog.Logger
	tokens   *tokenstore.Store
	runner   *publish.Runner // nil disables POST /api/batch
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	wg      sync.WaitGroup
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(s.logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/content", s.listContent)
		r.Get("/content/{id}", s.getContent)
		r.Get("/history", s.listHistory)
		r.Get("/events", s.listEvents)
		r.Get("/events/counts", s.eventCounts)
		r.Get("/tokens", s.tokenStatus)
		r.Post("/batch", s.startBatch)
	})
	return r
}

func (s *server) listContent(w http.ResponseWriter, r *http.Request) {
	var (
		items []content.Item
		err   error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		items, err = s.items.Search(q)
	} else {
		items, err = s.items.List()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if st := r.URL.Query().Get("status"); st != "" {
		kept := items[:0]
		for _, it := range items {
			if string(it.Status) == st {
				kept = append(kept, it)
			}
		}
		items = kept
	}
	if n := queryInt(r, "limit", 0); n > 0 && len(items) > n {
		items = items[:n]
	}
	if items == nil {
		items = []content.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *server) getContent(w http.ResponseWriter, r *http.Request) {
	it, err := s.items.Load(chi.URLParam(r, "id"))
	if errors.Is(err, content.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *server) listHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.history.Records(queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := s.events.Recent(r.Context(), eventlog.Filter{
		ContentID: q.Get("content_id"),
		Platform:  q.Get("platform"),
		Status:    q.Get("status"),
		Limit:     queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *server) eventCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.events.Counts(r.Context(), r.URL.Query().Get("platform"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// tokenState reports a bundle without any token value.
type tokenState struct {
	Platform     platform.Platform `json:"platform"`
	Stored       bool              `json:"stored"`
	Usable       bool              `json:"usable"`
	Reason       string            `json:"reason,omitempty"`
	HasUserToken bool              `json:"has_user_token"`
	HasPageToken bool              `json:"has_page_token"`
	PageID       string            `json:"page_id,omitempty"`
	SubAccountID string            `json:"instagram_account_id,omitempty"`
	IssuedAt     *time.Time        `json:"issued_at,omitempty"`
}

func (s *server) tokenStatus(w http.ResponseWriter, _ *http.Request) {
	out := make([]tokenState, 0, len(platform.All()))
	for _, p := range platform.All() {
		st := tokenState{Platform: p}
		b, err := s.tokens.LoadPlatform(p)
		if err != nil {
			st.Reason = err.Error()
			out = append(out, st)
			continue
		}
		st.Stored = true
		st.HasUserToken = b.UserAccessToken != ""
		st.HasPageToken = b.PageAccessToken != ""
		st.PageID = b.PageID
		st.SubAccountID = b.SubAccountID
		if !b.IssuedAt.IsZero() {
			t := b.IssuedAt
			st.IssuedAt = &t
		}
		if err := tokenstore.Validate(b); err != nil {
			st.Reason = err.Error()
		} else {
			st.Usable = true
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

// startBatch runs a batch in the background. 409 while another batch,
// scheduled or API-started, is running.
func (s *server) startBatch(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusNotImplemented, errors.New("batch runs are not configured"))
		return
	}
	if !s.tryStart() {
		writeError(w, http.StatusConflict, publish.ErrBusy)
		return
	}
	go s.batch()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// runBatch is the scheduled job.
func (s *server) runBatch() {
	if !s.tryStart() {
		s.logger.Info("feedcast: batch skipped, previous run still active or shutting down")
		return
	}
	s.batch()
}

// tryStart claims the batch slot and registers the run with wg. It fails
// while a batch runs or after shutdown.
func (s *server) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.closed {
		return false
	}
	s.running = true
	s.wg.Add(1)
	return true
}

// shutdown refuses new batches and waits for the running one.
func (s *server) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// batch runs one batch; the caller holds the slot from tryStart.
func (s *server) batch() {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	sum, err := s.runner.Run(s.ctx)
	if errors.Is(err, publish.ErrBusy) {
		s.logger.Info("feedcast: batch skipped, previous run still active")
		return
	}
	if err != nil {
		s.logger.Error("feedcast: batch failed", "error", err)
		return
	}
	attrs := []any{"items", sum.Items}
	for p, ps := range sum.Platforms {
		attrs = append(attrs, string(p), ps)
	}
	s.logger.Info("feedcast: batch done", attrs...)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
