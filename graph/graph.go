// CLAUDE:SUMMARY Thin Graph API client: versioned GET/POST with query params, error envelope decoding into *APIError.
// Package graph is a minimal client for the Facebook Graph API.
//
// Every call is a single request with url-encoded parameters. Non-2xx
// responses and undecodable bodies come back as *APIError, which matches
// ErrRemote under errors.Is.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/feedcast/horosafe"
)

const (
	DefaultBaseURL = "https://graph.facebook.com"
	DefaultVersion = "v19.0"
)

// ErrRemote matches every *APIError.
var ErrRemote = errors.New("graph: remote api error")

// APIError is a failed Graph API call.
type APIError struct {
	Op         string // "GET me/accounts", "POST 123/feed"
	StatusCode int    // 0 when the request never got a response
	Body       string // raw response body
	Message    string // error.message from the envelope, if any
	Type       string
	Code       int
	TraceID    string
	Cause      error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 && e.Cause != nil {
		return fmt.Sprintf("graph: %s: %v", e.Op, e.Cause)
	}
	if e.Body != "" {
		return fmt.Sprintf("graph: %s: http %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("graph: %s: http %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool { return target == ErrRemote }

func (e *APIError) Unwrap() error { return e.Cause }

// Config configures a Client.
type Config struct {
	BaseURL    string        // Default: DefaultBaseURL.
	Version    string        // Default: DefaultVersion.
	Timeout    time.Duration // Per-request timeout. Default: 10s.
	MaxBytes   int64         // Response cap. Default: horosafe.MaxResponseBody.
	HTTPClient *http.Client  // Optional; Timeout is ignored when set.
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = horosafe.MaxResponseBody
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client issues Graph API calls against one API version.
type Client struct {
	cfg  Config
	base string
}

// New creates a Client.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:  cfg,
		base: strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.Trim(cfg.Version, "/"),
	}
}

// Version returns the API version the client targets.
func (c *Client) Version() string { return c.cfg.Version }

// URL returns the absolute URL of a Graph path.
func (c *Client) URL(path string) string {
	return c.base + "/" + strings.TrimLeft(path, "/")
}

// Get issues GET path?params and decodes the JSON body into out (may be nil).
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.URL(path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("graph: new request: %w", err)
	}
	return c.do(req, "GET "+path, out)
}

// Post issues POST path with params as a form body and decodes the JSON
// response into out (may be nil).
func (c *Client) Post(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("graph: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, "POST "+path, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return &APIError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	body, err := horosafe.LimitedReadAll(resp.Body, c.cfg.MaxBytes)
	if err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Cause: err}
	}
	c.cfg.Logger.Debug("graph: call", "op", op, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
		decodeEnvelope(body, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Message:    "malformed json",
			Cause:      err,
		}
	}
	return nil
}

// decodeEnvelope fills the envelope fields. The "error" member is normally
// an object but some proxies return a bare string.
func decodeEnvelope(body []byte, e *APIError) {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil || len(env.Error) == 0 {
		return
	}
	var msg string
	if json.Unmarshal(env.Error, &msg) == nil {
		e.Message = msg
		return
	}
	var obj struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	}
	if json.Unmarshal(env.Error, &obj) == nil {
		e.Message = obj.Message
		e.Type = obj.Type
		e.Code = obj.Code
		e.TraceID = obj.FBTraceID
	}
}

// IDResponse is the {"id": "..."} body returned by create calls.
type IDResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id,omitempty"`
}
