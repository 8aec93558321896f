// Package bolt stores the ledger in a bbolt file. Keys are
// "YYYY-MM-DD/source name" so a date prefix scan lists one day.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/ledger"
)

var entryBucket = []byte("ledger_entries")

// Store is a bbolt-backed ledger.Store.
type Store struct {
	db *bolt.DB
}

var _ ledger.Store = (*Store)(nil)

// Open initializes the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entryBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

type record struct {
	Relevant     bool       `json:"is_relevant"`
	Status       string     `json:"status"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
}

func entryKey(sourceName string, date time.Time) []byte {
	return []byte(domain.DateKey(date) + "/" + sourceName)
}

// LatestDate implements ledger.Store.
func (s *Store) LatestDate(_ context.Context) (time.Time, bool, error) {
	var (
		latest time.Time
		ok     bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(entryBucket).Cursor().Last()
		if k == nil {
			return nil
		}
		day, _, found := bytes.Cut(k, []byte("/"))
		if !found {
			return fmt.Errorf("malformed key %q", k)
		}
		t, err := time.Parse(time.DateOnly, string(day))
		if err != nil {
			return fmt.Errorf("parse key date: %w", err)
		}
		latest, ok = t, true
		return nil
	})
	return latest, ok, err
}

// Insert implements ledger.Store.
func (s *Store) Insert(_ context.Context, entries []domain.Entry) (int, error) {
	inserted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entryBucket)
		for _, e := range entries {
			k := entryKey(e.SourceName, e.Date)
			if b.Get(k) != nil {
				continue
			}
			v, err := json.Marshal(record{Relevant: e.Relevant, Status: string(e.Status)})
			if err != nil {
				return fmt.Errorf("encode %s: %w", e.SourceName, err)
			}
			if err := b.Put(k, v); err != nil {
				return fmt.Errorf("put %s: %w", e.SourceName, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListByDate implements ledger.Store.
func (s *Store) ListByDate(_ context.Context, date time.Time) ([]domain.Entry, error) {
	prefix := []byte(domain.DateKey(date) + "/")
	day := domain.CivilDate(date)
	var out []domain.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(entryBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode %q: %w", k, err)
			}
			out = append(out, domain.Entry{
				SourceName:   string(k[len(prefix):]),
				Date:         day,
				Relevant:     rec.Relevant,
				Status:       domain.Status(rec.Status),
				DownloadedAt: rec.DownloadedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceName < out[j].SourceName })
	return out, nil
}

// UpdateStatus implements ledger.Store.
func (s *Store) UpdateStatus(_ context.Context, sourceName string, date time.Time, status domain.Status, downloadedAt *time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entryBucket)
		k := entryKey(sourceName, date)
		v := b.Get(k)
		if v == nil {
			return ledger.ErrNotFound
		}
		var rec record
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decode %q: %w", k, err)
		}
		if rec.Status == string(domain.StatusSuccess) {
			return ledger.ErrTerminal
		}
		rec.Status = string(status)
		rec.DownloadedAt = downloadedAt
		updated, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode %q: %w", k, err)
		}
		return b.Put(k, updated)
	})
}

// Close implements ledger.Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
