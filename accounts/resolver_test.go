package accounts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hazyhaar/feedcast/graph"
	"github.com/hazyhaar/feedcast/oauth"
	"github.com/hazyhaar/feedcast/platform"
)

type fakeIntrospector struct {
	info  *oauth.TokenInfo
	err   error
	calls int
}

func (f *fakeIntrospector) Introspect(_ context.Context, _ string) (*oauth.TokenInfo, error) {
	f.calls++
	return f.info, f.err
}

func graphServer(t *testing.T, status int, body string) (*graph.Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v19.0/me/accounts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("access_token") != "U" {
			t.Errorf("access_token = %q", r.URL.Query().Get("access_token"))
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return graph.New(graph.Config{BaseURL: srv.URL, Version: "v19.0"}), &calls
}

const twoPages = `{"data":[
  {"id":"111","name":"Plain Page","access_token":"P1"},
  {"id":"222","name":"Shop","access_token":"P2","instagram_business_account":{"id":"17841","username":"shop"}},
  {"id":"333","name":"Other","access_token":"P3","instagram_business_account":{"id":"17842","username":"other"}}
]}`

func TestResolve_FirstIsPrimary(t *testing.T) {
	// WHAT: first page is primary; first page with an Instagram account supplies the sub-account.
	// WHY: no ranking beyond API list order.
	g, _ := graphServer(t, 200, twoPages)
	intro := &fakeIntrospector{}
	r := New(g, WithIntrospector(intro))

	res := r.Resolve(context.Background(), "U")
	if res.Source != FromAccounts {
		t.Fatalf("source = %s", res.Source)
	}
	if res.PageID != "111" || res.PageAccessToken != "P1" {
		t.Errorf("page = %s/%s", res.PageID, res.PageAccessToken)
	}
	if res.SubAccountID != "17841" || res.SubAccountPageID != "222" || res.SubAccountPageToken != "P2" {
		t.Errorf("sub-account = %+v", res)
	}
	if len(res.Accounts) != 3 {
		t.Errorf("accounts = %d", len(res.Accounts))
	}
	if intro.calls != 0 {
		t.Errorf("introspection called %d times", intro.calls)
	}
}

func TestResolve_EmptyFallsBackToGranularScopes(t *testing.T) {
	g, _ := graphServer(t, 200, `{"data":[]}`)
	intro := &fakeIntrospector{info: &oauth.TokenInfo{
		IsValid: true,
		GranularScopes: []oauth.GranularScope{
			{Scope: "email"},
			{Scope: "pages_show_list", TargetIDs: []string{"555", "556"}},
			{Scope: "instagram_basic", TargetIDs: []string{"17899"}},
			{Scope: "pages_manage_posts", TargetIDs: []string{"777"}},
		},
	}}
	r := New(g, WithIntrospector(intro))

	res := r.Resolve(context.Background(), "U")
	if res.Source != FromIntrospection {
		t.Fatalf("source = %s", res.Source)
	}
	if res.PageID != "555" || res.SubAccountID != "17899" {
		t.Errorf("ids = %s / %s", res.PageID, res.SubAccountID)
	}
	if res.PageAccessToken != "" {
		t.Error("introspection must never yield a page token")
	}
}

func TestResolve_HTTPFailureIsNotFatal(t *testing.T) {
	g, _ := graphServer(t, 400, `{"error":{"message":"(#100) Missing permission"}}`)
	intro := &fakeIntrospector{info: &oauth.TokenInfo{
		GranularScopes: []oauth.GranularScope{{Scope: "instagram_content_publish", TargetIDs: []string{"17"}}},
	}}
	res := New(g, WithIntrospector(intro)).Resolve(context.Background(), "U")
	if res.Source != FromIntrospection || res.SubAccountID != "17" || res.PageID != "" {
		t.Errorf("res = %+v", res)
	}
}

func TestResolve_TotalFailure(t *testing.T) {
	g, _ := graphServer(t, 500, `oops`)
	intro := &fakeIntrospector{err: errors.New("debug_token down")}
	res := New(g, WithIntrospector(intro)).Resolve(context.Background(), "U")
	if res.Source != FromNothing || res.TargetID(platform.Facebook) != "" {
		t.Errorf("res = %+v", res)
	}
}

func TestBundleFor_Instagram(t *testing.T) {
	g, _ := graphServer(t, 200, twoPages)
	b, _ := New(g).BundleFor(context.Background(), platform.Instagram, "U")
	if b.Platform != platform.Instagram || b.UserAccessToken != "U" {
		t.Fatalf("bundle = %+v", b)
	}
	if b.SubAccountID != "17841" || b.PageID != "222" || b.PageAccessToken != "P2" {
		t.Errorf("bundle = %+v", b)
	}
	if b.IssuedAt.IsZero() {
		t.Error("issued_at not set")
	}
}

func TestBundleFor_NothingFoundStillUsable(t *testing.T) {
	// WHAT: with no pages and no introspector the bundle carries only the user token.
	// WHY: degraded "post with the user token" mode must remain possible.
	g, _ := graphServer(t, 200, `{"data":[]}`)
	b, res := New(g).BundleFor(context.Background(), platform.Facebook, "U")
	if res.Source != FromNothing {
		t.Errorf("source = %s", res.Source)
	}
	if b.UserAccessToken != "U" || b.PageID != "" || b.PageAccessToken != "" {
		t.Errorf("bundle = %+v", b)
	}
}
