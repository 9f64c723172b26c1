package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"market-pulse/internal/market"
)

const (
	sqliteQuoteColumns = `id, symbol, open, high, low, close, change, change_pct, volume, ts, source`

	sqliteInsertQuoteSQL = `INSERT INTO quotes (symbol, open, high, low, close, change, change_pct, volume, ts, source)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// SQLite stores quotes in a local SQLite file.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens (or creates) the database and runs migrations.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc serialises writers per connection; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quotes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			open       TEXT    NOT NULL DEFAULT '0',
			high       TEXT    NOT NULL DEFAULT '0',
			low        TEXT    NOT NULL DEFAULT '0',
			close      TEXT    NOT NULL,
			change     TEXT    NOT NULL DEFAULT '0',
			change_pct TEXT    NOT NULL DEFAULT '0',
			volume     INTEGER NOT NULL DEFAULT 0,
			ts         INTEGER NOT NULL,
			source     TEXT    NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_symbol_ts ON quotes(symbol, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save persists one quote.
func (s *SQLite) Save(ctx context.Context, quote market.Quote) (market.Quote, error) {
	saved, err := s.SaveBatch(ctx, []market.Quote{quote})
	if err != nil {
		return market.Quote{}, err
	}
	return saved[0], nil
}

// SaveBatch inserts quotes in one transaction.
func (s *SQLite) SaveBatch(ctx context.Context, quotes []market.Quote) ([]market.Quote, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteInsertQuoteSQL)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	out := make([]market.Quote, len(quotes))
	for i, q := range quotes {
		rec := toRecord(q)
		res, err := stmt.ExecContext(ctx,
			rec.Symbol, rec.Open, rec.High, rec.Low, rec.Close,
			rec.Change, rec.ChangePct, rec.Volume, rec.Timestamp.UnixNano(), rec.Source)
		if err != nil {
			return nil, fmt.Errorf("insert quote %s: %w", q.Symbol, err)
		}
		if q.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}
		out[i] = q
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// GetLatest returns the newest quote for symbol.
func (s *SQLite) GetLatest(ctx context.Context, symbol string) (market.Quote, bool, error) {
	quotes, err := s.GetAll(ctx, symbol, 1)
	if err != nil || len(quotes) == 0 {
		return market.Quote{}, false, err
	}
	return quotes[0], true, nil
}

// GetAll lists quotes newest first.
func (s *SQLite) GetAll(ctx context.Context, symbol string, limit int) ([]market.Quote, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	query := `SELECT ` + sqliteQuoteColumns + ` FROM quotes`
	var args []any
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY ts DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()

	var quotes []market.Quote
	for rows.Next() {
		var rec quoteRecord
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Open, &rec.High, &rec.Low, &rec.Close,
			&rec.Change, &rec.ChangePct, &rec.Volume, &ts, &rec.Source); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(0, ts)
		q, err := rec.quote()
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}
