// Package ledgertest holds the behavioral checks every ledger.Store backend
// must pass.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/ledger"
)

// FixedClock is a settable clock.
type FixedClock struct {
	T time.Time
}

// Now returns the configured time.
func (c *FixedClock) Now() time.Time { return c.T }

// Factory opens a fresh, empty store.
type Factory func(t *testing.T) ledger.Store

// Run exercises the store contract through ledger.Ledger.
func Run(t *testing.T, open Factory) {
	t.Helper()

	monday := time.Date(2024, 4, 15, 9, 30, 45, 0, time.UTC)

	t.Run("materializes once per day", func(t *testing.T) {
		store := open(t)
		clk := &FixedClock{T: monday}
		l := ledger.New(store, clk, zap.NewNop())
		ctx := context.Background()

		sources := []*domain.Source{
			domain.NewSource("Argia", []int{1, 2, 3, 4, 5, 6, 7}, domain.Daily, monday),
			domain.NewSource("El Temps", []int{3}, domain.Weekly, monday),
			domain.NewSource("Monthly Review", []int{1}, domain.Monthly, monday),
		}
		n, err := l.EnsureEntriesForToday(ctx, sources)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = l.EnsureEntriesForToday(ctx, sources)
		require.NoError(t, err)
		assert.Zero(t, n)

		all, err := l.Today(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "Argia", all[0].SourceName)
		assert.Equal(t, "El Temps", all[1].SourceName)
		assert.False(t, all[1].Relevant)
		assert.Equal(t, domain.StatusUnprocessed, all[0].Status)
		assert.Equal(t, "2024-04-15", all[0].DateKey())
	})

	t.Run("insert ignores conflicts", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		e := domain.Entry{SourceName: "Argia", Date: domain.CivilDate(monday), Relevant: true, Status: domain.StatusUnprocessed}
		n, err := store.Insert(ctx, []domain.Entry{e})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		e.Relevant = false
		n, err = store.Insert(ctx, []domain.Entry{e})
		require.NoError(t, err)
		assert.Zero(t, n)

		rows, err := store.ListByDate(ctx, monday)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].Relevant)

		latest, ok, err := store.LatestDate(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "2024-04-15", domain.DateKey(latest))
	})

	t.Run("empty ledger has no latest date", func(t *testing.T) {
		store := open(t)
		_, ok, err := store.LatestDate(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("success is terminal for the day", func(t *testing.T) {
		store := open(t)
		clk := &FixedClock{T: monday}
		l := ledger.New(store, clk, zap.NewNop())
		ctx := context.Background()

		src := domain.NewSource("Argia", []int{1}, domain.Daily, monday)
		_, err := l.EnsureEntriesForToday(ctx, []*domain.Source{src})
		require.NoError(t, err)

		due, err := l.EntriesDueForDelivery(ctx, false)
		require.NoError(t, err)
		require.Len(t, due, 1)

		require.NoError(t, l.RecordOutcome(ctx, due[0], domain.StatusFailed))
		due, err = l.EntriesDueForDelivery(ctx, false)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, domain.StatusFailed, due[0].Status)
		assert.Nil(t, due[0].DownloadedAt)

		require.NoError(t, l.RecordOutcome(ctx, due[0], domain.StatusSuccess))
		require.NotNil(t, due[0].DownloadedAt)
		assert.Equal(t, monday.Truncate(time.Minute), due[0].DownloadedAt.UTC())

		due, err = l.EntriesDueForDelivery(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, due)

		reported, err := l.EntriesDueForDelivery(ctx, true)
		require.NoError(t, err)
		require.Len(t, reported, 1)
		assert.Equal(t, domain.StatusSuccess, reported[0].Status)
		require.NotNil(t, reported[0].DownloadedAt)
		assert.True(t, monday.Truncate(time.Minute).Equal(*reported[0].DownloadedAt))

		stale := &domain.Entry{SourceName: "Argia", Date: domain.CivilDate(monday), Status: domain.StatusFailed}
		err = l.RecordOutcome(ctx, stale, domain.StatusFailed)
		require.ErrorIs(t, err, ledger.ErrTerminal)

		err = store.UpdateStatus(ctx, "Argia", monday, domain.StatusUnavailable, nil)
		require.ErrorIs(t, err, ledger.ErrTerminal)
	})

	t.Run("missing entry", func(t *testing.T) {
		store := open(t)
		err := store.UpdateStatus(context.Background(), "Nobody", monday, domain.StatusFailed, nil)
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("next day materializes again", func(t *testing.T) {
		store := open(t)
		clk := &FixedClock{T: monday}
		l := ledger.New(store, clk, zap.NewNop())
		ctx := context.Background()
		src := domain.NewSource("Argia", []int{1, 2}, domain.Daily, monday)

		_, err := l.EnsureEntriesForToday(ctx, []*domain.Source{src})
		require.NoError(t, err)
		clk.T = monday.AddDate(0, 0, 1)
		n, err := l.EnsureEntriesForToday(ctx, []*domain.Source{src})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		due, err := l.EntriesDueForDelivery(ctx, false)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "2024-04-16", due[0].DateKey())
	})
}
