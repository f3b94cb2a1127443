package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"
)

// ErrNoAppToken is returned by Introspect when no app credentials are configured.
var ErrNoAppToken = errors.New("oauth: introspection needs an app access token")

// GranularScope is a permission grant with the resource ids it applies to.
type GranularScope struct {
	Scope     string   `json:"scope"`
	TargetIDs []string `json:"target_ids,omitempty"`
}

// TokenInfo is the decoded debug_token response.
type TokenInfo struct {
	AppID          string
	Type           string
	UserID         string
	IsValid        bool
	Scopes         []string
	ExpiresAt      time.Time // zero when the token never expires
	GranularScopes []GranularScope
}

// HasScope reports whether scope was granted.
func (i *TokenInfo) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// Expires reports whether the token carries an expiry.
func (i *TokenInfo) Expires() bool { return !i.ExpiresAt.IsZero() }

type debugTokenResponse struct {
	Data struct {
		AppID          string          `json:"app_id"`
		Type           string          `json:"type"`
		UserID         string          `json:"user_id"`
		IsValid        bool            `json:"is_valid"`
		ExpiresAt      int64           `json:"expires_at"`
		Scopes         []string        `json:"scopes"`
		GranularScopes []GranularScope `json:"granular_scopes"`
	} `json:"data"`
}

// Introspect calls debug_token for token, authenticated with the app token.
func (c *Client) Introspect(ctx context.Context, token string) (*TokenInfo, error) {
	appToken := c.AppAccessToken()
	if appToken == "" {
		return nil, ErrNoAppToken
	}
	params := url.Values{
		"input_token":  {token},
		"access_token": {appToken},
	}
	var resp debugTokenResponse
	if err := c.cfg.Graph.Get(ctx, "debug_token", params, &resp); err != nil {
		return nil, fmt.Errorf("oauth: introspect: %w", err)
	}
	d := resp.Data
	info := &TokenInfo{
		AppID:          d.AppID,
		Type:           d.Type,
		UserID:         d.UserID,
		IsValid:        d.IsValid,
		Scopes:         d.Scopes,
		GranularScopes: d.GranularScopes,
	}
	if d.ExpiresAt > 0 {
		info.ExpiresAt = time.Unix(d.ExpiresAt, 0).UTC()
	}
	return info, nil
}
