package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/feedcast/horosafe"
	"github.com/hazyhaar/feedcast/platform"
)

// ErrNotFound is returned by Load when no bundle is stored under the key.
var ErrNotFound = errors.New("tokenstore: bundle not found")

// fileBundle is the on-disk layout. The Instagram business account id is
// stored as instagram_account_id; timestamp is unix seconds.
type fileBundle struct {
	UserAccessToken    *string `json:"user_access_token"`
	PageAccessToken    *string `json:"page_access_token"`
	InstagramAccountID *string `json:"instagram_account_id"`
	PageID             *string `json:"page_id"`
	Platform           string  `json:"platform"`
	Timestamp          float64 `json:"timestamp"`
}

// Store keeps one JSON file per key in a directory:
// <dir>/oauth_tokens_<key>.json. It assumes a single writer.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created on first Save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the file backing key.
func (s *Store) Path(key string) (string, error) {
	if err := horosafe.ValidateKey(key); err != nil {
		return "", fmt.Errorf("tokenstore: %w", err)
	}
	return horosafe.SafePath(s.dir, "oauth_tokens_"+key+".json")
}

// Save writes b under key, replacing any previous bundle.
func (s *Store) Save(b Bundle, key string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if b.IssuedAt.IsZero() {
		b.IssuedAt = time.Now()
	}
	data, err := json.MarshalIndent(toFile(b), "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: marshal: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("tokenstore: mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("tokenstore: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("tokenstore: rename: %w", err)
	}
	return nil
}

// Load reads the bundle stored under key. A file without a platform field
// takes the platform named by key when key is a platform name.
func (s *Store) Load(key string) (Bundle, error) {
	path, err := s.Path(key)
	if err != nil {
		return Bundle{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Bundle{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Bundle{}, fmt.Errorf("tokenstore: read: %w", err)
	}
	var fb fileBundle
	if err := json.Unmarshal(data, &fb); err != nil {
		return Bundle{}, fmt.Errorf("tokenstore: decode %s: %w", filepath.Base(path), err)
	}
	b := fromFile(fb)
	if b.Platform == "" {
		if p, err := platform.Parse(key); err == nil {
			b.Platform = p
		}
	}
	return b, nil
}

// LoadPlatform loads the bundle stored under the platform's own key.
func (s *Store) LoadPlatform(p platform.Platform) (Bundle, error) {
	return s.Load(p.String())
}

func toFile(b Bundle) fileBundle {
	return fileBundle{
		UserAccessToken:    optional(b.UserAccessToken),
		PageAccessToken:    optional(b.PageAccessToken),
		InstagramAccountID: optional(b.SubAccountID),
		PageID:             optional(b.PageID),
		Platform:           b.Platform.String(),
		Timestamp:          float64(b.IssuedAt.UnixNano()) / 1e9,
	}
}

func fromFile(fb fileBundle) Bundle {
	b := Bundle{
		Platform:        platform.Platform(fb.Platform),
		UserAccessToken: deref(fb.UserAccessToken),
		PageAccessToken: deref(fb.PageAccessToken),
		PageID:          deref(fb.PageID),
		SubAccountID:    deref(fb.InstagramAccountID),
	}
	if fb.Timestamp > 0 {
		sec, frac := math.Modf(fb.Timestamp)
		b.IssuedAt = time.Unix(int64(sec), int64(frac*1e9))
	}
	return b
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
