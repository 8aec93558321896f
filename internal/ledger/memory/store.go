// Package memory provides an in-memory ledger store for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/ledger"
)

type key struct {
	source string
	date   string
}

// Store keeps ledger entries in a map.
type Store struct {
	mu      sync.RWMutex
	entries map[key]domain.Entry
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[key]domain.Entry)}
}

var _ ledger.Store = (*Store)(nil)

// LatestDate implements ledger.Store.
func (s *Store) LatestDate(_ context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest time.Time
		best   string
	)
	for k, e := range s.entries {
		if k.date > best {
			best = k.date
			latest = e.Date
		}
	}
	return latest, best != "", nil
}

// Insert implements ledger.Store.
func (s *Store) Insert(_ context.Context, entries []domain.Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, e := range entries {
		k := key{source: e.SourceName, date: e.DateKey()}
		if _, exists := s.entries[k]; exists {
			continue
		}
		e.Date = domain.CivilDate(e.Date)
		s.entries[k] = e
		inserted++
	}
	return inserted, nil
}

// ListByDate implements ledger.Store.
func (s *Store) ListByDate(_ context.Context, date time.Time) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := domain.DateKey(date)
	var out []domain.Entry
	for k, e := range s.entries {
		if k.date == want {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceName < out[j].SourceName })
	return out, nil
}

// UpdateStatus implements ledger.Store.
func (s *Store) UpdateStatus(_ context.Context, sourceName string, date time.Time, status domain.Status, downloadedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{source: sourceName, date: domain.DateKey(date)}
	e, ok := s.entries[k]
	if !ok {
		return ledger.ErrNotFound
	}
	if e.Status == domain.StatusSuccess {
		return ledger.ErrTerminal
	}
	e.Status = status
	e.DownloadedAt = downloadedAt
	s.entries[k] = e
	return nil
}

// Close implements ledger.Store.
func (s *Store) Close() error { return nil }
