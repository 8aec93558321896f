package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/ledger"
	"github.com/JakeFAU/edition-fetcher/internal/ledger/ledgertest"
	"github.com/JakeFAU/edition-fetcher/internal/ledger/memory"
)

func catalogAt(now time.Time) []*domain.RootSource {
	argia := domain.NewSource("Argia", []int{1, 2, 3, 4, 5, 6, 7}, domain.Daily, now)
	argia.StartAt = 6
	vanguardia := domain.NewSource("La Vanguardia", []int{1, 2, 3, 4, 5, 6, 7}, domain.Daily, now)
	temps := domain.NewSource("El Temps", []int{1}, domain.Weekly, now)
	return []*domain.RootSource{
		{Name: "Argia", Sources: []*domain.Source{argia}},
		{Name: "Godo", Sources: []*domain.Source{vanguardia, temps}},
	}
}

func TestSelectSourcesRespectsStartHour(t *testing.T) {
	t.Parallel()

	fiveAM := time.Date(2024, 4, 15, 5, 0, 0, 0, time.UTC)
	clk := &ledgertest.FixedClock{T: fiveAM}
	l := ledger.New(memory.New(), clk, zap.NewNop())
	roots := catalogAt(fiveAM)

	n, err := New(l, clk, zap.NewNop()).SelectSources(context.Background(), roots, domain.RecurrenceAll)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	argia := roots[0].Sources[0]
	assert.False(t, argia.Due(), "argia starts at 06:00")
	entries, err := l.EntriesDueForDelivery(context.Background(), false)
	require.NoError(t, err)
	var argiaEntry *domain.Entry
	for _, e := range entries {
		if e.SourceName == "Argia" {
			argiaEntry = e
		}
	}
	require.NotNil(t, argiaEntry)
	assert.Equal(t, domain.StatusUnprocessed, argiaEntry.Status)
	assert.True(t, roots[1].Sources[0].Due())
	assert.True(t, roots[1].Sources[1].Due())
}

func TestSelectSourcesFiltersRecurrence(t *testing.T) {
	t.Parallel()

	monday := time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)
	clk := &ledgertest.FixedClock{T: monday}
	l := ledger.New(memory.New(), clk, zap.NewNop())
	roots := catalogAt(monday)

	n, err := New(l, clk, nil).SelectSources(context.Background(), roots, domain.Weekly)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, roots[1].SourceByName("El Temps").Due())
	assert.False(t, roots[0].Sources[0].Due())
}

func TestSuccessExcludesSourceFromLaterPass(t *testing.T) {
	t.Parallel()

	monday := time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)
	clk := &ledgertest.FixedClock{T: monday}
	l := ledger.New(memory.New(), clk, zap.NewNop())
	sched := New(l, clk, zap.NewNop())

	first := catalogAt(monday)
	n, err := sched.SelectSources(context.Background(), first, domain.RecurrenceAll)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, l.RecordOutcome(context.Background(), first[0].Sources[0].Entry, domain.StatusSuccess))
	require.NoError(t, l.RecordOutcome(context.Background(), first[1].Sources[0].Entry, domain.StatusUnavailable))

	clk.T = monday.Add(2 * time.Hour)
	second := catalogAt(clk.T)
	n, err = sched.SelectSources(context.Background(), second, domain.RecurrenceAll)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, second[0].Sources[0].Due())
	assert.True(t, second[1].Sources[0].Due())
}

func TestSelectSourcesSkipsUnknownNames(t *testing.T) {
	t.Parallel()

	monday := time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)
	clk := &ledgertest.FixedClock{T: monday}
	store := memory.New()
	_, err := store.Insert(context.Background(), []domain.Entry{{
		SourceName: "Retired Paper", Date: monday, Relevant: true, Status: domain.StatusUnprocessed,
	}})
	require.NoError(t, err)
	l := ledger.New(store, clk, zap.NewNop())

	roots := catalogAt(monday)
	n, err := New(l, clk, zap.NewNop()).SelectSources(context.Background(), roots, domain.RecurrenceAll)
	require.NoError(t, err)
	assert.Zero(t, n, "today is already materialized so only the orphan is due")
}

type brokenLedger struct{}

func (brokenLedger) EnsureEntriesForToday(context.Context, []*domain.Source) (int, error) {
	return 0, errors.New("locked")
}

func (brokenLedger) EntriesDueForDelivery(context.Context, bool) ([]*domain.Entry, error) {
	return nil, nil
}

func TestSelectSourcesPropagatesLedgerErrors(t *testing.T) {
	t.Parallel()

	clk := &ledgertest.FixedClock{T: time.Now()}
	_, err := New(brokenLedger{}, clk, nil).SelectSources(context.Background(), nil, domain.RecurrenceAll)
	require.Error(t, err)
}
