// Package scheduler decides which sources are due in the current run.
package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/catalog"
	"github.com/JakeFAU/edition-fetcher/internal/domain"
)

// Ledger is the subset of ledger.Ledger the scheduler needs.
type Ledger interface {
	EnsureEntriesForToday(ctx context.Context, sources []*domain.Source) (int, error)
	EntriesDueForDelivery(ctx context.Context, includeAllRelevant bool) ([]*domain.Entry, error)
}

// Scheduler attaches due ledger entries to catalog sources.
type Scheduler struct {
	ledger Ledger
	clock  domain.Clock
	logger *zap.Logger
}

// New builds a Scheduler.
func New(ledger Ledger, clock domain.Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{ledger: ledger, clock: clock, logger: logger}
}

// SelectSources materializes today's entries and attaches each pending entry
// to its source when the source's start hour has passed and its recurrence
// passes filter. It returns how many sources were attached.
func (s *Scheduler) SelectSources(ctx context.Context, roots []*domain.RootSource, filter domain.Recurrence) (int, error) {
	if _, err := s.ledger.EnsureEntriesForToday(ctx, catalog.AllSources(roots)); err != nil {
		return 0, fmt.Errorf("ensure entries: %w", err)
	}
	due, err := s.ledger.EntriesDueForDelivery(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("entries due: %w", err)
	}

	hour := s.clock.Now().Hour()
	attached := 0
	for _, entry := range due {
		src := findSource(roots, entry.SourceName)
		if src == nil {
			s.logger.Warn("ledger entry has no catalog source", zap.String("source", entry.SourceName))
			continue
		}
		if hour < src.StartAt {
			s.logger.Debug("source not started yet",
				zap.String("source", src.Name),
				zap.Int("start_at", src.StartAt),
				zap.Int("hour", hour),
			)
			continue
		}
		if !filter.Matches(src.Recurrence) {
			continue
		}
		if src.Entry != nil {
			continue
		}
		src.Entry = entry
		attached++
	}
	s.logger.Info("sources selected", zap.Int("due_entries", len(due)), zap.Int("attached", attached))
	return attached, nil
}

func findSource(roots []*domain.RootSource, name string) *domain.Source {
	for _, root := range roots {
		if src := root.SourceByName(name); src != nil {
			return src
		}
	}
	return nil
}
