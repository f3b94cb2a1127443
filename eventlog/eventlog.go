// CLAUDE:SUMMARY SQLite publish_events log: one row per engine decision with status, remote id, error and duration; write failures are logged, not propagated.
// Package eventlog records publish decisions in SQLite. It complements the
// CSV history with timing data and a queryable store for the status API.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/feedcast/dbopen"
	"github.com/hazyhaar/feedcast/idgen"
)

// Schema is the DDL for the event table.
const Schema = `
CREATE TABLE IF NOT EXISTS publish_events (
    id             TEXT PRIMARY KEY,
    ts             INTEGER NOT NULL,
    content_id     TEXT NOT NULL,
    platform       TEXT NOT NULL,
    status         TEXT NOT NULL,
    remote_post_id TEXT NOT NULL DEFAULT '',
    error          TEXT NOT NULL DEFAULT '',
    duration_ms    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_publish_events_ts ON publish_events(ts DESC);
CREATE INDEX IF NOT EXISTS idx_publish_events_content ON publish_events(content_id);
`

// Event is one recorded decision.
type Event struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"ts"`
	ContentID    string        `json:"content_id"`
	Platform     string        `json:"platform"`
	Status       string        `json:"status"`
	RemotePostID string        `json:"remote_post_id,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// Logger writes and reads publish events.
type Logger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator sets the generator for event ids.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Logger) { l.newID = gen }
}

// WithLogger sets the slog logger used to report write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) { l.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// Init applies Schema to db.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("eventlog: init schema: %w", err)
	}
	return nil
}

// Open opens (or creates) the event database at path.
func Open(path string) (*sql.DB, error) {
	return dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
}

// New returns a Logger over db. The schema must already be applied.
func New(db *sql.DB, opts ...Option) *Logger {
	l := &Logger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record stores e. Errors are logged, not returned. A nil Logger is a no-op.
func (l *Logger) Record(ctx context.Context, e Event) {
	if l == nil {
		return
	}
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO publish_events (id, ts, content_id, platform, status, remote_post_id, error, duration_ms)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.Timestamp.UnixMilli(), e.ContentID, e.Platform, e.Status, e.RemotePostID, e.Error, e.Duration.Milliseconds())
	if err != nil {
		l.logger.Error("eventlog: record failed", "error", err, "content_id", e.ContentID, "platform", e.Platform)
	}
}

// Filter narrows Recent. Zero values match everything.
type Filter struct {
	ContentID string
	Platform  string
	Status    string
	Limit     int // default 100
}

// Recent returns the newest events first.
func (l *Logger) Recent(ctx context.Context, f Filter) ([]Event, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, ts, content_id, platform, status, remote_post_id, error, duration_ms
		FROM publish_events
		WHERE (? = '' OR content_id = ?)
		  AND (? = '' OR platform = ?)
		  AND (? = '' OR status = ?)
		ORDER BY ts DESC, rowid DESC
		LIMIT ?`,
		f.ContentID, f.ContentID, f.Platform, f.Platform, f.Status, f.Status, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e     Event
			tsMs  int64
			durMs int64
		)
		if err := rows.Scan(&e.ID, &tsMs, &e.ContentID, &e.Platform, &e.Status, &e.RemotePostID, &e.Error, &durMs); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(tsMs)
		e.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of events per status for platform ("" = all).
func (l *Logger) Counts(ctx context.Context, platform string) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM publish_events
		WHERE (? = '' OR platform = ?)
		GROUP BY status`, platform, platform)
	if err != nil {
		return nil, fmt.Errorf("eventlog: counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// Cleanup deletes events older than retention. Zero keeps everything.
func (l *Logger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-retention).UnixMilli()
	res, err := dbopen.Exec(ctx, l.db, `DELETE FROM publish_events WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("eventlog: cleanup: %w", err)
	}
	return res.RowsAffected()
}
