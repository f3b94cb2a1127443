package shield

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/feedcast/idgen"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(handlers map[string]http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(HeadToGet, SecurityHeaders(APIHeaders()), RequestID(quietLogger(), idgen.Sequence("req_")), Recover)
	for path, h := range handlers {
		r.Get(path, h)
	}
	return r
}

func TestAPIStack_HeadersAndRequestID(t *testing.T) {
	// WHAT: every response carries the security headers and a request id.
	// WHY: the status API exposes token state and must not be framed or sniffed.
	var logged bool
	h := newRouter(map[string]http.HandlerFunc{
		"/x": func(w http.ResponseWriter, r *http.Request) {
			logged = GetLogger(r.Context()) != slog.Default()
			w.Write([]byte("ok"))
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for k, want := range map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		RequestIDHeader:           "req_1",
	} {
		if got := rec.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if !logged {
		t.Error("handler did not get the request logger")
	}
}

func TestRequestID_KeepsIncoming(t *testing.T) {
	h := newRouter(map[string]http.HandlerFunc{"/x": func(http.ResponseWriter, *http.Request) {}})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "upstream-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "upstream-7" {
		t.Errorf("request id = %q", got)
	}
}

func TestHeadToGet(t *testing.T) {
	h := newRouter(map[string]http.HandlerFunc{"/health": func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("HEAD status = %d, want 200", rec.Code)
	}
}

func TestRecover(t *testing.T) {
	h := newRouter(map[string]http.HandlerFunc{"/boom": func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "internal error") {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}
