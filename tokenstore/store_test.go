package tokenstore

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"testing/quick"
	"time"

	"github.com/hazyhaar/feedcast/platform"
)

// presence drives the IsUsable property test: each flag decides whether the
// corresponding optional field is set.
type presence struct {
	Instagram bool
	User      bool
	Page      bool
	PageID    bool
	SubID     bool
}

func (presence) Generate(r *rand.Rand, _ int) reflect.Value {
	return reflect.ValueOf(presence{
		Instagram: r.Intn(2) == 0,
		User:      r.Intn(2) == 0,
		Page:      r.Intn(2) == 0,
		PageID:    r.Intn(2) == 0,
		SubID:     r.Intn(2) == 0,
	})
}

func (p presence) bundle() Bundle {
	b := Bundle{Platform: platform.Facebook}
	if p.Instagram {
		b.Platform = platform.Instagram
	}
	if p.User {
		b.UserAccessToken = "U"
	}
	if p.Page {
		b.PageAccessToken = "P"
	}
	if p.PageID {
		b.PageID = "123"
	}
	if p.SubID {
		b.SubAccountID = "17841400000000000"
	}
	return b
}

func TestIsUsable_Property(t *testing.T) {
	// WHAT: IsUsable matches the per-platform rule for every field combination.
	// WHY: the engine trusts IsUsable to decide whether a platform is attempted at all.
	prop := func(p presence) bool {
		var want bool
		if p.Instagram {
			want = (p.Page && p.SubID) || p.User
		} else {
			want = (p.Page && p.PageID) || p.User
		}
		return IsUsable(p.bundle()) == want
	}
	if err := quick.Check(prop, &quick.Config{MaxCount: 500}); err != nil {
		t.Fatal(err)
	}
}

func TestIsUsable_PageTokenWrongID(t *testing.T) {
	// A page token with only a page id does not make an instagram bundle usable.
	b := Bundle{Platform: platform.Instagram, PageAccessToken: "P", PageID: "123"}
	if IsUsable(b) {
		t.Fatal("instagram bundle without sub-account id must not be usable")
	}
	if err := Validate(b); !errors.Is(err, ErrUnusable) || !strings.Contains(err.Error(), "instagram_account_id") {
		t.Fatalf("Validate = %v", err)
	}
}

func TestBundle_WithReturnsCopy(t *testing.T) {
	orig := Bundle{Platform: platform.Facebook, UserAccessToken: "U"}
	next := orig.WithPage("123", "P")
	if orig.PageID != "" || orig.PageAccessToken != "" {
		t.Fatalf("receiver mutated: %+v", orig)
	}
	if next.TargetID() != "123" || next.PageAccessToken != "P" {
		t.Fatalf("copy = %+v", next)
	}
	if got := next.Redacted().PageAccessToken; got != "P" {
		t.Errorf("short token redacted to %q", got)
	}
	if got := orig.WithUserToken("EAAGabcdef").Redacted().UserAccessToken; got != "EAAG..." {
		t.Errorf("redacted = %q", got)
	}
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	issued := time.Unix(1_700_000_000, 0)
	b := Bundle{
		Platform:        platform.Instagram,
		UserAccessToken: "U",
		PageAccessToken: "P",
		PageID:          "123",
		SubAccountID:    "17841",
		IssuedAt:        issued,
	}
	if err := s.Save(b, "instagram"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "oauth_tokens_instagram.json")); err != nil {
		t.Fatalf("file not written: %v", err)
	}

	got, err := s.Load("instagram")
	if err != nil {
		t.Fatal(err)
	}
	if got.IssuedAt.Unix() != issued.Unix() {
		t.Errorf("issued = %v", got.IssuedAt)
	}
	got.IssuedAt = issued
	if got != b {
		t.Errorf("got %+v, want %+v", got, b)
	}
}

func TestSave_Overwrites(t *testing.T) {
	s := New(t.TempDir())
	s.Save(Bundle{Platform: platform.Facebook, UserAccessToken: "OLD", PageID: "1"}, "facebook")
	s.Save(Bundle{Platform: platform.Facebook, UserAccessToken: "NEW"}, "facebook")

	got, err := s.LoadPlatform(platform.Facebook)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserAccessToken != "NEW" || got.PageID != "" {
		t.Errorf("got %+v, want only the new bundle", got)
	}
}

func TestLoad_NotFound(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Load("facebook"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoad_LegacyFile(t *testing.T) {
	// WHAT: files written by the earlier scripts load, including nulls and
	// a missing platform field.
	// WHY: existing oauth_tokens_*.json files must keep working.
	dir := t.TempDir()
	legacy := `{
  "user_access_token": "EAAG",
  "page_access_token": null,
  "instagram_account_id": null,
  "page_id": "555",
  "timestamp": 1700000000.5
}`
	os.WriteFile(filepath.Join(dir, "oauth_tokens_facebook.json"), []byte(legacy), 0o600)

	got, err := New(dir).Load("facebook")
	if err != nil {
		t.Fatal(err)
	}
	if got.Platform != platform.Facebook || got.UserAccessToken != "EAAG" || got.PageID != "555" || got.PageAccessToken != "" {
		t.Errorf("got %+v", got)
	}
	if got.IssuedAt.Unix() != 1_700_000_000 {
		t.Errorf("issued = %v", got.IssuedAt)
	}
}

func TestLoad_RejectsBadKey(t *testing.T) {
	if _, err := New(t.TempDir()).Load("../etc"); err == nil {
		t.Fatal("expected error for traversal key")
	}
}
