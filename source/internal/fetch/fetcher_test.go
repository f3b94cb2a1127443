package fetch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// noopValidator allows all URLs (for tests that don't test SSRF).
func noopValidator(_ string) error { return nil }

func TestFetch_Success(t *testing.T) {
	// WHAT: GET returns body, content type and hash.
	// WHY: Core fetcher functionality.
	body := `<rss version="2.0"><channel></channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("User-Agent"), "feedcast") {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: noopValidator})
	result, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(result.Body) != body || result.ContentType != "application/rss+xml" {
		t.Errorf("result = %+v", result)
	}
	if want := fmt.Sprintf("%x", sha256.Sum256([]byte(body))); result.Hash != want {
		t.Errorf("hash: got %q, want %q", result.Hash, want)
	}
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{URLValidator: noopValidator})
	result, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("err = %v, want ErrStatus", err)
	}
	if result == nil || result.StatusCode != 404 {
		t.Errorf("result = %+v", result)
	}
}

func TestFetch_MaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: noopValidator, MaxBytes: 100})
	result, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Body) != 100 {
		t.Errorf("body length = %d, want 100", len(result.Body))
	}
}

func TestFetch_SSRFBlocked(t *testing.T) {
	// WHAT: the default validator refuses loopback targets.
	// WHY: feed URLs come from a config file and redirects.
	f := New(Config{})
	if _, err := f.Fetch(context.Background(), "http://127.0.0.1:1/feed"); err == nil || !strings.Contains(err.Error(), "SSRF") {
		t.Fatalf("err = %v, want SSRF block", err)
	}
}

func TestFetch_RedirectValidated(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secret"))
	}))
	defer target.Close()
	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer redirector.Close()

	calls := 0
	f := New(Config{URLValidator: func(u string) error {
		calls++
		if calls > 1 {
			return errors.New("blocked")
		}
		return nil
	}})
	if _, err := f.Fetch(context.Background(), redirector.URL); err == nil {
		t.Fatal("redirect should have been blocked")
	}
}

func TestHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s", r.Method)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", "2048")
	}))
	defer srv.Close()

	f := New(Config{URLValidator: noopValidator})
	p, err := f.Head(context.Background(), srv.URL+"/photo.jpg", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if p.ContentType != "image/jpeg" || p.ContentLength != 2048 {
		t.Errorf("head = %+v", p)
	}
}
