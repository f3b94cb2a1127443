package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/feedcast/dbopen"
	"github.com/hazyhaar/feedcast/idgen"
)

func newTestLogger(t *testing.T, now func() time.Time) *Logger {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db, WithIDGenerator(idgen.Sequence("evt_")), WithClock(now))
}

func TestRecordAndRecent(t *testing.T) {
	// WHAT: events come back newest first with their durations.
	// WHY: /api/events shows the latest decisions at the top.
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLogger(t, func() time.Time { return t0 })
	ctx := context.Background()

	l.Record(ctx, Event{Timestamp: t0, ContentID: "c1", Platform: "facebook", Status: "published", RemotePostID: "1_2", Duration: 250 * time.Millisecond})
	l.Record(ctx, Event{Timestamp: t0.Add(time.Minute), ContentID: "c1", Platform: "instagram", Status: "skipped", Error: "no_media"})
	l.Record(ctx, Event{ContentID: "c2", Platform: "facebook", Status: "failed", Error: "boom"})

	got, err := l.Recent(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("events = %d", len(got))
	}
	if got[0].Platform != "instagram" || got[0].ID != "evt_2" {
		t.Errorf("newest = %+v", got[0])
	}
	last := got[len(got)-1]
	if last.Duration != 250*time.Millisecond || last.RemotePostID != "1_2" || !last.Timestamp.Equal(t0) {
		t.Errorf("oldest = %+v", last)
	}
}

func TestRecent_Filter(t *testing.T) {
	l := newTestLogger(t, time.Now)
	ctx := context.Background()
	l.Record(ctx, Event{ContentID: "a", Platform: "facebook", Status: "published"})
	l.Record(ctx, Event{ContentID: "a", Platform: "instagram", Status: "failed"})
	l.Record(ctx, Event{ContentID: "b", Platform: "facebook", Status: "failed"})

	got, _ := l.Recent(ctx, Filter{Status: "failed"})
	if len(got) != 2 {
		t.Errorf("failed = %d", len(got))
	}
	got, _ = l.Recent(ctx, Filter{ContentID: "a", Platform: "facebook"})
	if len(got) != 1 || got[0].Status != "published" {
		t.Errorf("a/facebook = %+v", got)
	}
	got, _ = l.Recent(ctx, Filter{Limit: 1})
	if len(got) != 1 {
		t.Errorf("limit = %d", len(got))
	}

	counts, err := l.Counts(ctx, "facebook")
	if err != nil || counts["published"] != 1 || counts["failed"] != 1 {
		t.Errorf("counts = %v, %v", counts, err)
	}
}

func TestRecord_FailureNotPropagated(t *testing.T) {
	// Schema missing: Record must log and return without panicking.
	db := dbopen.OpenMemory(t)
	l := New(db)
	l.Record(context.Background(), Event{ContentID: "x", Platform: "facebook", Status: "failed"})

	var nilLogger *Logger
	nilLogger.Record(context.Background(), Event{})
}

func TestCleanup(t *testing.T) {
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	l := newTestLogger(t, func() time.Time { return now })
	ctx := context.Background()
	l.Record(ctx, Event{Timestamp: now.Add(-10 * 24 * time.Hour), ContentID: "old", Platform: "facebook", Status: "published"})
	l.Record(ctx, Event{Timestamp: now.Add(-time.Hour), ContentID: "new", Platform: "facebook", Status: "published"})

	n, err := l.Cleanup(ctx, 7*24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("deleted = %d, err = %v", n, err)
	}
	got, _ := l.Recent(ctx, Filter{})
	if len(got) != 1 || got[0].ContentID != "new" {
		t.Errorf("remaining = %+v", got)
	}
	if n, _ := l.Cleanup(ctx, 0); n != 0 {
		t.Errorf("zero retention deleted %d", n)
	}
}

func TestOpen_File(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "data", "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := Init(db); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	New(db).Record(context.Background(), Event{ContentID: "c", Platform: "facebook", Status: "published"})
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM publish_events`).Scan(&n)
	if n != 1 {
		t.Errorf("rows = %d", n)
	}
}
