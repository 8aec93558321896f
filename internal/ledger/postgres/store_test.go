package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/ledger"
)

var monday = time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "ledger; DROP TABLE x")
	require.Error(t, err)
	_, err = NewWithPool(nil, "ledger_entries")
	require.Error(t, err)
}

func TestInsertIgnoresConflicts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs("Argia", monday, true, "unprocessed").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs("El Temps", monday, false, "unprocessed").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	n, err := store.Insert(context.Background(), []domain.Entry{
		{SourceName: "Argia", Date: monday.Add(9 * time.Hour), Relevant: true, Status: domain.StatusUnprocessed},
		{SourceName: "El Temps", Date: monday, Status: domain.StatusUnprocessed},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestDate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT MAX\\(entry_date\\)").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(&monday))

	got, ok, err := store.LatestDate(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, monday, got)

	mock.ExpectQuery("SELECT MAX\\(entry_date\\)").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow((*time.Time)(nil)))
	_, ok, err = store.LatestDate(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByDate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	downloaded := monday.Add(9*time.Hour + 30*time.Minute)
	mock.ExpectQuery("SELECT source_name, entry_date").
		WithArgs(monday).
		WillReturnRows(pgxmock.NewRows([]string{"source_name", "entry_date", "is_relevant", "status", "downloaded_at"}).
			AddRow("Argia", monday, true, "success", &downloaded).
			AddRow("El Temps", monday, false, "unprocessed", (*time.Time)(nil)))

	rows, err := store.ListByDate(context.Background(), monday)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.StatusSuccess, rows[0].Status)
	require.NotNil(t, rows[0].DownloadedAt)
	assert.Equal(t, downloaded, *rows[0].DownloadedAt)
	assert.Nil(t, rows[1].DownloadedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusNeverOverwritesSuccess(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE ledger_entries SET status = \\$1, downloaded_at = \\$2\\s+WHERE .* AND status <> 'success'").
		WithArgs("failed", (*time.Time)(nil), "Argia", monday).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM ledger_entries").
		WithArgs("Argia", monday).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("success"))

	err := store.UpdateStatus(context.Background(), "Argia", monday, domain.StatusFailed, nil)
	require.ErrorIs(t, err, ledger.ErrTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE ledger_entries").
		WithArgs("failed", (*time.Time)(nil), "Nobody", monday).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM ledger_entries").
		WithArgs("Nobody", monday).
		WillReturnError(pgx.ErrNoRows)

	err := store.UpdateStatus(context.Background(), "Nobody", monday, domain.StatusFailed, nil)
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusWritesSuccess(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ts := monday.Add(9 * time.Hour)
	mock.ExpectExec("UPDATE ledger_entries").
		WithArgs("success", &ts, "Argia", monday).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateStatus(context.Background(), "Argia", monday, domain.StatusSuccess, &ts))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusPropagatesErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE ledger_entries").
		WithArgs("failed", (*time.Time)(nil), "Argia", monday).
		WillReturnError(errors.New("connection reset"))

	err := store.UpdateStatus(context.Background(), "Argia", monday, domain.StatusFailed, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrTerminal)
}

func TestMigrateCreatesTable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ledger_entries").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
