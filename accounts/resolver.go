// CLAUDE:SUMMARY Maps a user token to page / Instagram business account ids via me/accounts, falling back to debug_token granular scopes.
// Package accounts discovers the pages and connected Instagram business
// accounts reachable from a user access token.
package accounts

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/feedcast/graph"
	"github.com/hazyhaar/feedcast/oauth"
	"github.com/hazyhaar/feedcast/platform"
	"github.com/hazyhaar/feedcast/tokenstore"
)

const accountFields = "id,name,access_token,instagram_business_account{id,name,username}"

// Source says how a Resolution was obtained.
type Source string

const (
	FromAccounts      Source = "accounts"      // me/accounts listed at least one page
	FromIntrospection Source = "introspection" // ids mined from granular scopes
	FromNothing       Source = "none"          // only the user token is usable
)

// Account is one page returned by me/accounts.
type Account struct {
	PageID             string `json:"page_id"`
	PageName           string `json:"page_name"`
	PageAccessToken    string `json:"-"`
	SubAccountID       string `json:"instagram_account_id,omitempty"`
	SubAccountUsername string `json:"instagram_username,omitempty"`
}

// Resolution holds the primary identifiers for a user token. The first
// page returned is the primary page, and the first page with a connected
// Instagram account supplies the primary sub-account, with SubAccountPageID
// naming that page.
type Resolution struct {
	Source              Source
	PageID              string
	PageAccessToken     string
	SubAccountID        string
	SubAccountPageID    string
	SubAccountPageToken string
	Accounts            []Account
}

// TargetID returns the id a post on p is addressed to, or "".
func (r *Resolution) TargetID(p platform.Platform) string {
	if r == nil {
		return ""
	}
	if p == platform.Instagram {
		return r.SubAccountID
	}
	return r.PageID
}

// Introspector is the part of the token client the resolver needs.
type Introspector interface {
	Introspect(ctx context.Context, token string) (*oauth.TokenInfo, error)
}

// Resolver maps user tokens to page and sub-account ids.
type Resolver struct {
	graph  *graph.Client
	tokens Introspector
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// WithIntrospector enables the granular-scope fallback. Without it the
// resolver stops after me/accounts.
func WithIntrospector(i Introspector) Option { return func(r *Resolver) { r.tokens = i } }

// New creates a Resolver.
func New(g *graph.Client, opts ...Option) *Resolver {
	r := &Resolver{graph: g, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

type accountsResponse struct {
	Data []struct {
		ID                       string `json:"id"`
		Name                     string `json:"name"`
		AccessToken              string `json:"access_token"`
		InstagramBusinessAccount *struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"instagram_business_account"`
	} `json:"data"`
}

// ListAccounts calls me/accounts for userToken.
func (r *Resolver) ListAccounts(ctx context.Context, userToken string) ([]Account, error) {
	params := url.Values{
		"access_token": {userToken},
		"fields":       {accountFields},
	}
	var resp accountsResponse
	if err := r.graph.Get(ctx, "me/accounts", params, &resp); err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(resp.Data))
	for _, d := range resp.Data {
		a := Account{PageID: d.ID, PageName: d.Name, PageAccessToken: d.AccessToken}
		if iba := d.InstagramBusinessAccount; iba != nil {
			a.SubAccountID = iba.ID
			a.SubAccountUsername = iba.Username
		}
		out = append(out, a)
	}
	return out, nil
}

// Resolve never fails: a failed me/accounts call or an empty list falls
// back to introspection, and a failed introspection yields a Resolution
// with Source FromNothing.
func (r *Resolver) Resolve(ctx context.Context, userToken string) *Resolution {
	accts, err := r.ListAccounts(ctx, userToken)
	if err != nil {
		r.logger.Warn("accounts: me/accounts failed, trying introspection", "error", err)
	}
	if len(accts) > 0 {
		return fromAccounts(accts)
	}
	return r.fromIntrospection(ctx, userToken)
}

func fromAccounts(accts []Account) *Resolution {
	res := &Resolution{
		Source:          FromAccounts,
		Accounts:        accts,
		PageID:          accts[0].PageID,
		PageAccessToken: accts[0].PageAccessToken,
	}
	for _, a := range accts {
		if a.SubAccountID != "" {
			res.SubAccountID = a.SubAccountID
			res.SubAccountPageID = a.PageID
			res.SubAccountPageToken = a.PageAccessToken
			break
		}
	}
	return res
}

func (r *Resolver) fromIntrospection(ctx context.Context, userToken string) *Resolution {
	none := &Resolution{Source: FromNothing}
	if r.tokens == nil {
		return none
	}
	info, err := r.tokens.Introspect(ctx, userToken)
	if err != nil {
		r.logger.Warn("accounts: introspection failed, user token only", "error", err)
		return none
	}
	res := &Resolution{Source: FromIntrospection}
	for _, gs := range info.GranularScopes {
		if len(gs.TargetIDs) == 0 {
			continue
		}
		switch {
		case res.PageID == "" && isPageScope(gs.Scope):
			res.PageID = gs.TargetIDs[0]
		case res.SubAccountID == "" && isSubAccountScope(gs.Scope):
			res.SubAccountID = gs.TargetIDs[0]
		}
	}
	if res.PageID == "" && res.SubAccountID == "" {
		return none
	}
	r.logger.Info("accounts: ids recovered from granular scopes", "page_id", res.PageID, "instagram_account_id", res.SubAccountID)
	return res
}

func isPageScope(s string) bool { return strings.HasPrefix(s, "pages_") }

func isSubAccountScope(s string) bool { return strings.HasPrefix(s, "instagram_") }

// BundleFor builds the bundle to persist for p from a user token. The
// result always carries the user token, so it is usable even when nothing
// was discovered.
func (r *Resolver) BundleFor(ctx context.Context, p platform.Platform, userToken string) (tokenstore.Bundle, *Resolution) {
	res := r.Resolve(ctx, userToken)
	b := tokenstore.Bundle{Platform: p, UserAccessToken: userToken, IssuedAt: r.now()}
	switch p {
	case platform.Instagram:
		if res.SubAccountID != "" {
			b = b.WithSubAccount(res.SubAccountID).WithPage(res.SubAccountPageID, res.SubAccountPageToken)
		}
		if b.PageID == "" {
			b.PageID = res.PageID
		}
	default:
		b = b.WithPage(res.PageID, res.PageAccessToken)
		b.SubAccountID = res.SubAccountID
	}
	return b, res
}
