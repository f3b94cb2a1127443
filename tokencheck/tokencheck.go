// Package tokencheck turns debug_token results into expiry advice and a
// posting-permission report.
package tokencheck

import (
	"math"
	"slices"
	"time"

	"github.com/hazyhaar/feedcast/oauth"
	"github.com/hazyhaar/feedcast/platform"
)

// Advice is a refresh recommendation.
type Advice string

const (
	NoRefreshNeeded    Advice = "no refresh needed"
	ConsiderRefreshing Advice = "consider refreshing soon"
	RefreshNow         Advice = "refresh recommended"
	RefreshImmediately Advice = "refresh immediately"
	NeverExpires       Advice = "token never expires"
	InvalidToken       Advice = "token invalid, re-authorize"
)

// ExpiryReport describes how long a token has left.
type ExpiryReport struct {
	Valid     bool
	ExpiresAt time.Time // zero when the token never expires
	DaysLeft  float64   // +Inf when the token never expires
	Advice    Advice
}

// Expiry evaluates info at now.
func Expiry(info *oauth.TokenInfo, now time.Time) ExpiryReport {
	r := ExpiryReport{Valid: info.IsValid, ExpiresAt: info.ExpiresAt}
	if !info.IsValid {
		r.Advice = InvalidToken
		return r
	}
	if !info.Expires() {
		r.DaysLeft = math.Inf(1)
		r.Advice = NeverExpires
		return r
	}
	r.DaysLeft = info.ExpiresAt.Sub(now).Hours() / 24
	switch {
	case r.DaysLeft > 30:
		r.Advice = NoRefreshNeeded
	case r.DaysLeft > 7:
		r.Advice = ConsiderRefreshing
	case r.DaysLeft > 1:
		r.Advice = RefreshNow
	default:
		r.Advice = RefreshImmediately
	}
	return r
}

// CanRefresh reports whether a long-lived exchange is still possible: the
// token must be valid with more than one day left, or never expire.
func (r ExpiryReport) CanRefresh() bool {
	return r.Valid && r.DaysLeft > 1
}

// PermissionReport lists the posting permissions granted and missing for a platform.
type PermissionReport struct {
	Platform platform.Platform
	Granted  []string
	Missing  []string
}

// OK reports whether every posting permission is granted.
func (r PermissionReport) OK() bool { return len(r.Missing) == 0 }

// Permissions checks info against p's posting permissions.
func Permissions(info *oauth.TokenInfo, p platform.Platform) PermissionReport {
	r := PermissionReport{Platform: p}
	for _, perm := range p.PostingPermissions() {
		if slices.Contains(info.Scopes, perm) {
			r.Granted = append(r.Granted, perm)
		} else {
			r.Missing = append(r.Missing, perm)
		}
	}
	return r
}
