// CLAUDE:SUMMARY Append-only CSV publish log keyed by content hash; first matching row (oldest) answers redundancy lookups.
// Package history is the append-only publish log used for redundancy checks.
//
// The log is a CSV file with the header
//
//	timestamp,platform,content_hash,content_id,title,success,error,post_id
//
// Every attempt is recorded, successful or not. Lookups scan the file in
// order and the first row with a matching hash wins, so the oldest record
// is the reference. Matching ignores the platform column.
package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Header is the CSV header row.
var Header = []string{"timestamp", "platform", "content_hash", "content_id", "title", "success", "error", "post_id"}

const maxTitleRunes = 50

// Record is one row of the log.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	Platform    string    `json:"platform"`
	ContentHash string    `json:"content_hash"`
	ContentID   string    `json:"content_id"`
	Title       string    `json:"title"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	PostID      string    `json:"post_id,omitempty"`
}

// Redundancy is the answer to IsRedundant.
type Redundancy struct {
	IsRedundant bool   `json:"is_redundant"`
	Reference   string `json:"reference,omitempty"` // post_id of the matching row
	Platform    string `json:"platform,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// Log is a CSV-backed publish history. Methods serialize through a mutex;
// concurrent processes writing the same file are not supported.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns a Log for path. The file is created on first Append.
func Open(path string) *Log {
	return &Log{path: path}
}

// Path returns the backing file path.
func (l *Log) Path() string { return l.path }

// IsRedundant reports whether any row carries contentHash. It has no side
// effects.
func (l *Log) IsRedundant(contentHash string) (Redundancy, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var found Redundancy
	err := l.scan(func(row []string) bool {
		if len(row) < len(Header) || row[2] != contentHash {
			return true
		}
		found = Redundancy{IsRedundant: true, Reference: row[7], Platform: row[1], Timestamp: row[0]}
		return false
	})
	return found, err
}

// Append writes r, adding the header when the file is new or empty.
func (l *Log) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("history: mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("history: stat: %w", err)
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		w.Write(Header)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	w.Write([]string{
		r.Timestamp.Format(time.RFC3339Nano),
		r.Platform,
		r.ContentHash,
		r.ContentID,
		truncate(r.Title, maxTitleRunes),
		strconv.FormatBool(r.Success),
		r.Error,
		r.PostID,
	})
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	return nil
}

// Records returns every row in file order. limit > 0 keeps the last limit rows.
func (l *Log) Records(limit int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Record
	err := l.scan(func(row []string) bool {
		if len(row) >= len(Header) {
			out = append(out, parseRow(row))
		}
		return true
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, err
}

// scan calls fn for each data row until fn returns false. A missing file
// is an empty log.
func (l *Log) scan(fn func(row []string) bool) error {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("history: open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("history: read: %w", err)
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == Header[0] {
				continue
			}
		}
		if !fn(row) {
			return nil
		}
	}
}

func parseRow(row []string) Record {
	rec := Record{
		Platform:    row[1],
		ContentHash: row[2],
		ContentID:   row[3],
		Title:       row[4],
		Error:       row[6],
		PostID:      row[7],
	}
	if ts, err := time.Parse(time.RFC3339Nano, row[0]); err == nil {
		rec.Timestamp = ts
	} else if ts, err := time.ParseInLocation("2006-01-02T15:04:05.999999", row[0], time.Local); err == nil {
		rec.Timestamp = ts
	}
	rec.Success = strings.EqualFold(row[5], "true")
	return rec
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
