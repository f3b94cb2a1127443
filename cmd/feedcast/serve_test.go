package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/feedcast/content"
	"github.com/hazyhaar/feedcast/dbopen"
	"github.com/hazyhaar/feedcast/eventlog"
	"github.com/hazyhaar/feedcast/history"
	"github.com/hazyhaar/feedcast/platform"
	"github.com/hazyhaar/feedcast/publish"
	"github.com/hazyhaar/feedcast/tokenstore"
)

func newTestServer(t *testing.T) (*server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	publish.NewMetrics(reg)
	s := &server{
		ctx:      context.Background(),
		items:    content.NewStore(filepath.Join(dir, "content")),
		history:  history.Open(filepath.Join(dir, "data.csv")),
		events:   eventlog.New(dbopen.OpenMemory(t, dbopen.WithSchema(eventlog.Schema))),
		tokens:   tokenstore.New(filepath.Join(dir, "tokens")),
		gatherer: reg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestServe_Health(t *testing.T) {
	_, ts := newTestServer(t)
	var body map[string]string
	if code := getJSON(t, ts.URL+"/health", &body); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", code, body)
	}
}

func TestServe_Content(t *testing.T) {
	s, ts := newTestServer(t)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	a := content.New("Harbour reopens", "Ships return", now)
	b := content.New("Storm warning", "Wind later", now.Add(time.Hour))
	b.Status = content.Published
	for _, it := range []content.Item{a, b} {
		if _, err := s.items.Save(it); err != nil {
			t.Fatal(err)
		}
	}

	var all []content.Item
	if code := getJSON(t, ts.URL+"/api/content", &all); code != http.StatusOK || len(all) != 2 || all[0].ID != b.ID {
		t.Fatalf("list = %d, %d items", code, len(all))
	}
	var found []content.Item
	getJSON(t, ts.URL+"/api/content?q=harbour", &found)
	if len(found) != 1 || found[0].ID != a.ID {
		t.Errorf("search = %+v", found)
	}
	var published []content.Item
	getJSON(t, ts.URL+"/api/content?status=published", &published)
	if len(published) != 1 || published[0].ID != b.ID {
		t.Errorf("status filter = %+v", published)
	}

	var one content.Item
	if code := getJSON(t, ts.URL+"/api/content/"+a.ID, &one); code != http.StatusOK || one.Title != a.Title {
		t.Errorf("get = %d %+v", code, one)
	}
	if code := getJSON(t, ts.URL+"/api/content/0000000000000000", nil); code != http.StatusNotFound {
		t.Errorf("missing item status = %d", code)
	}
}

func TestServe_HistoryAndEvents(t *testing.T) {
	s, ts := newTestServer(t)
	var empty []history.Record
	if code := getJSON(t, ts.URL+"/api/history", &empty); code != http.StatusOK || empty == nil || len(empty) != 0 {
		t.Errorf("empty history = %d %v", code, empty)
	}

	s.history.Append(history.Record{Timestamp: time.Now(), Platform: "facebook", ContentHash: "h1", ContentID: "c1", Success: true, PostID: "1_2"})
	s.events.Record(context.Background(), eventlog.Event{ContentID: "c1", Platform: "facebook", Status: "published", RemotePostID: "1_2"})
	s.events.Record(context.Background(), eventlog.Event{ContentID: "c2", Platform: "instagram", Status: "skipped"})

	var recs []history.Record
	getJSON(t, ts.URL+"/api/history", &recs)
	if len(recs) != 1 || recs[0].PostID != "1_2" {
		t.Errorf("history = %+v", recs)
	}
	var events []eventlog.Event
	getJSON(t, ts.URL+"/api/events?platform=instagram", &events)
	if len(events) != 1 || events[0].ContentID != "c2" {
		t.Errorf("events = %+v", events)
	}
	var counts map[string]int
	getJSON(t, ts.URL+"/api/events/counts", &counts)
	if counts["published"] != 1 || counts["skipped"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestServe_TokensNeverExposeValues(t *testing.T) {
	// WHAT: /api/tokens reports usability and ids but no token value.
	// WHY: the status API may be reachable by people who must not post.
	s, ts := newTestServer(t)
	s.tokens.Save(tokenstore.Bundle{Platform: platform.Facebook, UserAccessToken: "USER-SECRET", PageAccessToken: "PAGE-SECRET", PageID: "123"}, "facebook")

	resp, err := http.Get(ts.URL + "/api/tokens")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if bytes.Contains(raw, []byte("SECRET")) {
		t.Fatalf("token value leaked: %s", raw)
	}
	var states []tokenState
	if err := json.Unmarshal(raw, &states); err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 {
		t.Fatalf("states = %+v", states)
	}
	fb, ig := states[0], states[1]
	if !fb.Stored || !fb.Usable || fb.PageID != "123" || !fb.HasUserToken {
		t.Errorf("facebook = %+v", fb)
	}
	if ig.Stored || ig.Usable || ig.Reason == "" {
		t.Errorf("instagram = %+v", ig)
	}
}

func TestServe_Metrics(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "feedcast_last_batch_timestamp_seconds") {
		t.Errorf("metrics = %d\n%s", resp.StatusCode, body)
	}
}

func TestServe_BatchWithoutRunner(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/batch", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestPrintSummary(t *testing.T) {
	sum := &publish.Summary{
		Items: 2,
		Platforms: map[platform.Platform]*publish.PlatformSummary{
			platform.Facebook: {Published: 2},
		},
		Unusable:   map[platform.Platform]string{platform.Instagram: "tokenstore: bundle not found"},
		FeedErrors: []publish.FeedFailure{{Feed: "bbc-news", Error: "timeout"}},
	}
	var buf bytes.Buffer
	printSummary(&buf, sum)
	out := buf.String()
	for _, want := range []string{"published 2, failed 0, skipped 0", "instagram  not usable", "feed bbc-news failed: timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func postStatus(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestServe_BatchSlot(t *testing.T) {
	// WHAT: a running batch, scheduled or not, makes POST /api/batch answer
	// 409, and shutdown waits for the started batch then refuses new ones.
	// WHY: a 202 must mean the batch really runs.
	s, ts := newTestServer(t)
	engine := publish.NewEngine(nil, publish.Config{Logger: s.logger})
	s.runner = publish.NewRunner(engine, publish.RunnerConfig{Logger: s.logger})

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	if code := postStatus(t, ts.URL+"/api/batch"); code != http.StatusConflict {
		t.Errorf("busy status = %d, want 409", code)
	}
	s.runBatch() // scheduled run while busy returns without touching the slot

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	if code := postStatus(t, ts.URL+"/api/batch"); code != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202", code)
	}
	s.shutdown()

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		t.Error("batch still marked running after shutdown")
	}
	if code := postStatus(t, ts.URL+"/api/batch"); code != http.StatusConflict {
		t.Errorf("after shutdown status = %d, want 409", code)
	}
}
