package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/hazyhaar/feedcast/horosafe"
)

// ErrNotFound is returned by Load when no file holds the id.
var ErrNotFound = errors.New("content: item not found")

const maxSlugRunes = 50

// Slug lowercases title, turns spaces into underscores, drops runes that
// are unsafe in file names, and keeps at most 50 runes.
func Slug(title string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		if n == maxSlugRunes {
			break
		}
		switch {
		case r == ' ':
			r = '_'
		case r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r):
		default:
			continue
		}
		b.WriteRune(r)
		n++
	}
	if b.Len() == 0 {
		return "untitled"
	}
	return b.String()
}

// FileName returns "<slug>_<id>.json".
func FileName(it Item) string {
	return Slug(it.Title) + "_" + it.ID + ".json"
}

// Store keeps one JSON document per item in a directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Save writes it, replacing the previous version of the same item.
func (s *Store) Save(it Item) (string, error) {
	if it.ID == "" {
		return "", errors.New("content: item has no id")
	}
	path, err := horosafe.SafePath(s.dir, FileName(it))
	if err != nil {
		return "", fmt.Errorf("content: %w", err)
	}
	data, err := json.MarshalIndent(it, "", "  ")
	if err != nil {
		return "", fmt.Errorf("content: marshal: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("content: mkdir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("content: write: %w", err)
	}
	return path, nil
}

// Load returns the item with the given id.
func (s *Store) Load(id string) (Item, error) {
	if err := horosafe.ValidateKey(id); err != nil {
		return Item{}, fmt.Errorf("content: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, "*_"+id+".json"))
	if err != nil {
		return Item{}, fmt.Errorf("content: glob: %w", err)
	}
	if len(matches) == 0 {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return readItem(matches[0])
}

// List returns every stored item, newest first. Unreadable files are skipped.
func (s *Store) List() ([]Item, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("content: glob: %w", err)
	}
	items := make([]Item, 0, len(matches))
	for _, m := range matches {
		it, err := readItem(m)
		if err != nil || it.ID == "" {
			continue
		}
		items = append(items, it)
	}
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].CreatedAt.After(items[b].CreatedAt)
	})
	return items, nil
}

// Search returns the items whose title or body contains query, ignoring case.
func (s *Store) Search(query string) ([]Item, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}
	var out []Item
	for _, it := range all {
		if strings.Contains(strings.ToLower(it.Title), q) || strings.Contains(strings.ToLower(it.Body), q) {
			out = append(out, it)
		}
	}
	return out, nil
}

func readItem(path string) (Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Item{}, fmt.Errorf("content: read: %w", err)
	}
	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return Item{}, fmt.Errorf("content: decode %s: %w", filepath.Base(path), err)
	}
	return it, nil
}
