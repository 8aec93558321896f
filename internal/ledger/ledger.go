// Package ledger records one delivery outcome per source per day and answers
// which sources still need delivery today.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
)

var (
	// ErrTerminal is returned when a write targets an entry already marked success.
	ErrTerminal = errors.New("ledger: entry already successful")
	// ErrNotFound is returned when a write targets an entry that does not exist.
	ErrNotFound = errors.New("ledger: entry not found")
)

// Store is the persistence contract every ledger backend satisfies.
//
// Dates are civil dates; backends key them by domain.DateKey.
type Store interface {
	// LatestDate returns the most recent entry date, or ok=false on an empty ledger.
	LatestDate(ctx context.Context) (date time.Time, ok bool, err error)
	// Insert adds entries, silently skipping any (source_name, date) already present.
	Insert(ctx context.Context, entries []domain.Entry) (int, error)
	// ListByDate returns every entry for date ordered by source name.
	ListByDate(ctx context.Context, date time.Time) ([]domain.Entry, error)
	// UpdateStatus writes an outcome unless the row is already successful, in
	// which case it returns ErrTerminal.
	UpdateStatus(ctx context.Context, sourceName string, date time.Time, status domain.Status, downloadedAt *time.Time) error
	Close() error
}

// Ledger implements the scheduling and outcome rules on top of a Store.
type Ledger struct {
	store  Store
	clock  domain.Clock
	logger *zap.Logger
}

// New builds a Ledger.
func New(store Store, clock domain.Clock, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, clock: clock, logger: logger}
}

// EnsureEntriesForToday materializes today's unprocessed entries once per day.
// It returns the number of rows inserted.
func (l *Ledger) EnsureEntriesForToday(ctx context.Context, sources []*domain.Source) (int, error) {
	today := domain.CivilDate(l.clock.Now())
	latest, ok, err := l.store.LatestDate(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest ledger date: %w", err)
	}
	if ok && domain.DateKey(latest) >= domain.DateKey(today) {
		l.logger.Debug("ledger already materialized", zap.String("date", domain.DateKey(today)))
		return 0, nil
	}

	entries := make([]domain.Entry, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if _, dup := seen[src.Name]; dup {
			continue
		}
		seen[src.Name] = struct{}{}
		if !src.MaterializesOn(today) {
			continue
		}
		entries = append(entries, domain.Entry{
			SourceName: src.Name,
			Date:       today,
			Relevant:   src.WeekdayRelevant,
			Status:     domain.StatusUnprocessed,
		})
	}
	if len(entries) == 0 {
		return 0, nil
	}
	n, err := l.store.Insert(ctx, entries)
	if err != nil {
		return n, fmt.Errorf("insert ledger entries: %w", err)
	}
	l.logger.Info("ledger entries created",
		zap.String("date", domain.DateKey(today)),
		zap.Int("inserted", n),
		zap.Int("candidates", len(entries)),
	)
	return n, nil
}

// EntriesDueForDelivery returns today's relevant entries. In delivery mode
// (includeAllRelevant=false) only pending statuses are returned; reporting
// mode returns every relevant entry regardless of status.
func (l *Ledger) EntriesDueForDelivery(ctx context.Context, includeAllRelevant bool) ([]*domain.Entry, error) {
	today := domain.CivilDate(l.clock.Now())
	rows, err := l.store.ListByDate(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	out := make([]*domain.Entry, 0, len(rows))
	for i := range rows {
		e := rows[i]
		if !e.Relevant {
			continue
		}
		if !includeAllRelevant && !e.Status.Pending() {
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

// Today returns every entry for today, relevant or not.
func (l *Ledger) Today(ctx context.Context) ([]domain.Entry, error) {
	rows, err := l.store.ListByDate(ctx, domain.CivilDate(l.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return rows, nil
}

// RecordOutcome persists status for entry. A success stamps the entry with
// the current time truncated to the minute; other outcomes leave it null.
func (l *Ledger) RecordOutcome(ctx context.Context, entry *domain.Entry, status domain.Status) error {
	if entry == nil {
		return fmt.Errorf("record outcome: nil entry")
	}
	if !status.Valid() || status == domain.StatusUnprocessed {
		return fmt.Errorf("record outcome: invalid status %q", status)
	}
	if entry.Status == domain.StatusSuccess {
		return fmt.Errorf("record outcome for %s: %w", entry.SourceName, ErrTerminal)
	}

	var ts *time.Time
	if status == domain.StatusSuccess {
		now := l.clock.Now().Truncate(time.Minute)
		ts = &now
	}
	if err := l.store.UpdateStatus(ctx, entry.SourceName, entry.Date, status, ts); err != nil {
		return fmt.Errorf("record outcome for %s: %w", entry.SourceName, err)
	}
	entry.Status = status
	entry.DownloadedAt = ts
	return nil
}

// Close closes the backend.
func (l *Ledger) Close() error {
	if l == nil || l.store == nil {
		return nil
	}
	return l.store.Close()
}
