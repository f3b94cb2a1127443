// CLAUDE:SUMMARY HTTP GET/HEAD fetcher with SSRF validation on every hop, body cap, and content hash.
// Package fetch retrieves feed documents and checks media URLs with HEAD.
package fetch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hazyhaar/feedcast/horosafe"
)

// ErrStatus wraps non-success HTTP responses.
var ErrStatus = errors.New("fetch: unexpected status")

// Result contains the outcome of a GET.
type Result struct {
	Body        []byte
	StatusCode  int
	ContentType string
	Hash        string // SHA-256 of body
}

// HeadResult is the outcome of a HEAD request.
type HeadResult struct {
	StatusCode    int
	ContentType   string
	ContentLength int64 // -1 when unknown
}

// Config configures the fetcher.
type Config struct {
	Timeout  time.Duration // HTTP timeout. Default: 30s.
	MaxBytes int64         // Max response body size. Default: 10MB.
	// UserAgent sent with requests.
	UserAgent string
	// URLValidator validates URLs before fetch and on each redirect.
	// Default: horosafe.ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "feedcast/1.0 (+https://github.com/hazyhaar/feedcast)"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
}

// Fetcher performs HTTP requests with SSRF checks.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher that re-validates every redirect target.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked (SSRF): %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

func (f *Fetcher) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	if err := f.config.URLValidator(url); err != nil {
		return nil, fmt.Errorf("URL blocked (SSRF): %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	return req, nil
}

// Fetch GETs url and returns the capped body.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	req, err := f.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Result{StatusCode: resp.StatusCode}, fmt.Errorf("%w: http %d", ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	h := sha256.Sum256(body)
	return &Result{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Hash:        fmt.Sprintf("%x", h),
	}, nil
}

// Head issues a HEAD request with the given timeout (0 keeps the client's).
func (f *Fetcher) Head(ctx context.Context, url string, timeout time.Duration) (*HeadResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := f.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http head: %w", err)
	}
	resp.Body.Close()

	p := &HeadResult{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: -1,
	}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		p.ContentLength = n
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return p, fmt.Errorf("%w: http %d", ErrStatus, resp.StatusCode)
	}
	return p, nil
}
