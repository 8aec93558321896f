// Package postgres stores the ledger in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/ledger"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store writes ledger rows into Postgres.
type Store struct {
	pool  pool
	table string
}

var _ ledger.Store = (*Store)(nil)

// New connects a pool using cfg and ensures the ledger table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "ledger_entries"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// Migrate creates the ledger table if it is missing.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	source_name   TEXT NOT NULL,
	entry_date    DATE NOT NULL,
	is_relevant   BOOLEAN NOT NULL DEFAULT FALSE,
	status        TEXT NOT NULL DEFAULT 'unprocessed',
	downloaded_at TIMESTAMPTZ NULL,
	PRIMARY KEY (source_name, entry_date)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// LatestDate implements ledger.Store.
func (s *Store) LatestDate(ctx context.Context) (time.Time, bool, error) {
	var latest *time.Time
	query := fmt.Sprintf(`SELECT MAX(entry_date) FROM %s`, s.table)
	if err := s.pool.QueryRow(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("select latest date: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return *latest, true, nil
}

// Insert implements ledger.Store.
func (s *Store) Insert(ctx context.Context, entries []domain.Entry) (int, error) {
	query := fmt.Sprintf(`INSERT INTO %s (source_name, entry_date, is_relevant, status)
VALUES ($1, $2, $3, $4) ON CONFLICT (source_name, entry_date) DO NOTHING`, s.table)
	inserted := 0
	for _, e := range entries {
		tag, err := s.pool.Exec(ctx, query, e.SourceName, civil(e.Date), e.Relevant, string(e.Status))
		if err != nil {
			return inserted, fmt.Errorf("insert %s: %w", e.SourceName, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListByDate implements ledger.Store.
func (s *Store) ListByDate(ctx context.Context, date time.Time) ([]domain.Entry, error) {
	query := fmt.Sprintf(`SELECT source_name, entry_date, is_relevant, status, downloaded_at
FROM %s WHERE entry_date = $1 ORDER BY source_name`, s.table)
	rows, err := s.pool.Query(ctx, query, civil(date))
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		var (
			e      domain.Entry
			status string
		)
		if err := rows.Scan(&e.SourceName, &e.Date, &e.Relevant, &status, &e.DownloadedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Status = domain.Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateStatus implements ledger.Store.
func (s *Store) UpdateStatus(ctx context.Context, sourceName string, date time.Time, status domain.Status, downloadedAt *time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, downloaded_at = $2
WHERE source_name = $3 AND entry_date = $4 AND status <> 'success'`, s.table)
	tag, err := s.pool.Exec(ctx, query, string(status), downloadedAt, sourceName, civil(date))
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current string
	check := fmt.Sprintf(`SELECT status FROM %s WHERE source_name = $1 AND entry_date = $2`, s.table)
	err = s.pool.QueryRow(ctx, check, sourceName, civil(date)).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check entry: %w", err)
	}
	return ledger.ErrTerminal
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// civil maps a wall-clock date onto UTC midnight so DATE columns never shift.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
