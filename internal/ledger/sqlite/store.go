// Package sqlite stores the ledger in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/ledger"
)

type migration struct {
	version int
	stmt    string
}

var migrations = []migration{
	{
		version: 1,
		stmt: `CREATE TABLE IF NOT EXISTS ledger_entries (
	source_name   TEXT NOT NULL,
	entry_date    TEXT NOT NULL,
	is_relevant   INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'unprocessed',
	downloaded_at TEXT NULL,
	PRIMARY KEY (source_name, entry_date)
)`,
	},
	{
		version: 2,
		stmt:    `CREATE INDEX IF NOT EXISTS idx_ledger_entries_date ON ledger_entries (entry_date)`,
	},
}

// Store is a SQLite-backed ledger.Store.
type Store struct {
	db   *sql.DB
	path string
}

var _ ledger.Store = (*Store)(nil)

// Open creates or opens the ledger database at path and migrates it.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func migrate(db *sql.DB) error {
	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		// modernc rejects PRAGMA user_version inside a transaction; the DDL is idempotent.
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("set schema version %d: %w", m.version, err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// LatestDate implements ledger.Store.
func (s *Store) LatestDate(ctx context.Context) (time.Time, bool, error) {
	var raw sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(entry_date) FROM ledger_entries`).Scan(&raw); err != nil {
		return time.Time{}, false, fmt.Errorf("select latest date: %w", err)
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.DateOnly, raw.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse entry date %q: %w", raw.String, err)
	}
	return t, true, nil
}

// Insert implements ledger.Store.
func (s *Store) Insert(ctx context.Context, entries []domain.Entry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ledger_entries (source_name, entry_date, is_relevant, status)
VALUES (?, ?, ?, ?) ON CONFLICT (source_name, entry_date) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx, e.SourceName, e.DateKey(), e.Relevant, string(e.Status))
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", e.SourceName, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return inserted, nil
}

// ListByDate implements ledger.Store.
func (s *Store) ListByDate(ctx context.Context, date time.Time) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_name, entry_date, is_relevant, status, downloaded_at
FROM ledger_entries WHERE entry_date = ? ORDER BY source_name`, domain.DateKey(date))
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		var (
			e          domain.Entry
			day        string
			status     string
			downloaded sql.NullString
		)
		if err := rows.Scan(&e.SourceName, &day, &e.Relevant, &status, &downloaded); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if e.Date, err = time.Parse(time.DateOnly, day); err != nil {
			return nil, fmt.Errorf("parse entry date %q: %w", day, err)
		}
		e.Status = domain.Status(status)
		if downloaded.Valid {
			ts, err := time.Parse(time.RFC3339, downloaded.String)
			if err != nil {
				return nil, fmt.Errorf("parse downloaded_at %q: %w", downloaded.String, err)
			}
			e.DownloadedAt = &ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateStatus implements ledger.Store.
func (s *Store) UpdateStatus(ctx context.Context, sourceName string, date time.Time, status domain.Status, downloadedAt *time.Time) error {
	var ts any
	if downloadedAt != nil {
		ts = downloadedAt.UTC().Format(time.RFC3339)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE ledger_entries SET status = ?, downloaded_at = ?
WHERE source_name = ? AND entry_date = ? AND status <> 'success'`,
		string(status), ts, sourceName, domain.DateKey(date))
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM ledger_entries WHERE source_name = ? AND entry_date = ?`,
		sourceName, domain.DateKey(date)).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check entry: %w", err)
	}
	return ledger.ErrTerminal
}

// Close implements ledger.Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
