// CLAUDE:SUMMARY Token exchange client: dialog URL, code exchange, long-lived upgrade (one retry via failsafe-go), debug_token introspection.
// Package oauth talks to the Graph API token endpoints.
//
// Code exchange is fatal for the caller when it fails. The long-lived
// upgrade is retried once and callers fall back to the short-lived token
// when it still fails.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/oauth2"

	"github.com/hazyhaar/feedcast/credentials"
	"github.com/hazyhaar/feedcast/graph"
	"github.com/hazyhaar/feedcast/platform"
)

// DefaultDialogBaseURL hosts the browser authorization dialog.
const DefaultDialogBaseURL = "https://www.facebook.com"

// ErrNoAccessToken is returned when a 2xx token response has no access_token.
var ErrNoAccessToken = errors.New("oauth: response has no access_token")

// Config configures a Client.
type Config struct {
	Credentials   *credentials.Credentials
	Graph         *graph.Client
	DialogBaseURL string        // Default: DefaultDialogBaseURL.
	UpgradeRetry  int           // Retries after the first upgrade attempt. Default: 1, negative disables.
	RetryDelay    time.Duration // Default: 1s.
	Logger        *slog.Logger
	now           func() time.Time
}

func (c *Config) defaults() {
	if c.Graph == nil {
		c.Graph = graph.New(graph.Config{})
	}
	if c.DialogBaseURL == "" {
		c.DialogBaseURL = DefaultDialogBaseURL
	}
	if c.UpgradeRetry < 0 {
		c.UpgradeRetry = 0
	} else if c.UpgradeRetry == 0 {
		c.UpgradeRetry = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// Client performs code exchange, token upgrade and introspection.
type Client struct {
	cfg     Config
	upgrade failsafe.Executor[*oauth2.Token]
}

// New creates a Client. cfg.Credentials must be set.
func New(cfg Config) *Client {
	cfg.defaults()
	retry := retrypolicy.NewBuilder[*oauth2.Token]().
		HandleIf(func(_ *oauth2.Token, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}).
		WithMaxRetries(cfg.UpgradeRetry).
		WithDelay(cfg.RetryDelay).
		ReturnLastFailure().
		Build()
	return &Client{cfg: cfg, upgrade: failsafe.With[*oauth2.Token](retry)}
}

// Config returns the oauth2 configuration for p. Its Endpoint points at the
// versioned dialog and the Graph token endpoint.
func (c *Client) Config(p platform.Platform) *oauth2.Config {
	version := c.cfg.Graph.Version()
	return &oauth2.Config{
		ClientID:     c.cfg.Credentials.ClientID,
		ClientSecret: c.cfg.Credentials.ClientSecret,
		RedirectURL:  c.cfg.Credentials.RedirectURIFor(p),
		Scopes:       p.Scopes(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   strings.TrimRight(c.cfg.DialogBaseURL, "/") + "/" + version + "/dialog/oauth",
			TokenURL:  c.cfg.Graph.URL("oauth/access_token"),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthURL returns the authorization dialog URL the user opens in a browser.
func (c *Client) AuthURL(p platform.Platform, state string) string {
	return c.Config(p).AuthCodeURL(state)
}

// AppAccessToken returns the "id|secret" token used for debug_token.
func (c *Client) AppAccessToken() string {
	return c.cfg.Credentials.AppAccessToken()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) toToken(op string, r tokenResponse) (*oauth2.Token, error) {
	if r.AccessToken == "" {
		return nil, &graph.APIError{Op: op, StatusCode: 200, Message: "no access_token", Cause: ErrNoAccessToken}
	}
	tok := &oauth2.Token{AccessToken: r.AccessToken, TokenType: r.TokenType}
	if r.ExpiresIn > 0 {
		tok.Expiry = c.cfg.now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// ExchangeCode trades an authorization code for a short-lived user token.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("oauth: empty authorization code")
	}
	params := url.Values{
		"client_id":     {c.cfg.Credentials.ClientID},
		"client_secret": {c.cfg.Credentials.ClientSecret},
		"redirect_uri":  {redirectURI},
		"code":          {code},
	}
	var resp tokenResponse
	if err := c.cfg.Graph.Get(ctx, "oauth/access_token", params, &resp); err != nil {
		return nil, fmt.Errorf("oauth: exchange code: %w", err)
	}
	tok, err := c.toToken("GET oauth/access_token", resp)
	if err != nil {
		return nil, fmt.Errorf("oauth: exchange code: %w", err)
	}
	return tok, nil
}

// UpgradeToLongLived exchanges a short-lived token for a long-lived one.
// The call is retried once. On error callers keep the short-lived token.
func (c *Client) UpgradeToLongLived(ctx context.Context, shortLived string) (*oauth2.Token, error) {
	params := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.cfg.Credentials.ClientID},
		"client_secret":     {c.cfg.Credentials.ClientSecret},
		"fb_exchange_token": {shortLived},
	}
	attempt := 0
	tok, err := c.upgrade.WithContext(ctx).Get(func() (*oauth2.Token, error) {
		attempt++
		var resp tokenResponse
		if err := c.cfg.Graph.Get(ctx, "oauth/access_token", params, &resp); err != nil {
			c.cfg.Logger.Warn("oauth: long-lived upgrade failed", "attempt", attempt, "error", err)
			return nil, err
		}
		return c.toToken("GET oauth/access_token", resp)
	})
	if err != nil {
		return nil, fmt.Errorf("oauth: upgrade token: %w", err)
	}
	return tok, nil
}

// ExchangeAndUpgrade runs the code exchange and then the upgrade. A failed
// upgrade is logged and the short-lived token is returned with upgraded=false.
func (c *Client) ExchangeAndUpgrade(ctx context.Context, code, redirectURI string) (tok *oauth2.Token, upgraded bool, err error) {
	short, err := c.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, false, err
	}
	long, err := c.UpgradeToLongLived(ctx, short.AccessToken)
	if err != nil {
		c.cfg.Logger.Warn("oauth: keeping short-lived token", "error", err)
		return short, false, nil
	}
	return long, true, nil
}

// ErrStateMismatch is returned by CodeFromRedirect when the redirect does
// not carry the state sent with the dialog URL.
var ErrStateMismatch = errors.New("oauth: redirect state does not match")

// CodeFromRedirect extracts the authorization code from a pasted redirect
// URL. When wantState is set, a redirect carrying a code must carry the
// same state. Input that is not a URL carrying a code is taken as the code
// itself.
func CodeFromRedirect(input, wantState string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("oauth: empty redirect input")
	}
	u, err := url.Parse(input)
	if err != nil || u.RawQuery == "" {
		return input, nil
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("oauth: authorization denied: %s: %s", e, q.Get("error_description"))
	}
	code := q.Get("code")
	if wantState != "" && (code != "" || q.Has("state")) && q.Get("state") != wantState {
		return "", ErrStateMismatch
	}
	if code != "" {
		return code, nil
	}
	return input, nil
}
