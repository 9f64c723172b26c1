package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"market-pulse/internal/market"
)

const (
	createQuotesSQL = `CREATE TABLE IF NOT EXISTS quotes (
        id          BIGSERIAL PRIMARY KEY,
        symbol      TEXT        NOT NULL,
        open        NUMERIC(20,2) NOT NULL DEFAULT 0,
        high        NUMERIC(20,2) NOT NULL DEFAULT 0,
        low         NUMERIC(20,2) NOT NULL DEFAULT 0,
        close       NUMERIC(20,2) NOT NULL,
        change      NUMERIC(20,2) NOT NULL DEFAULT 0,
        change_pct  NUMERIC(20,2) NOT NULL DEFAULT 0,
        volume      BIGINT      NOT NULL DEFAULT 0 CHECK (volume >= 0),
        ts          TIMESTAMPTZ NOT NULL,
        source      TEXT        NOT NULL DEFAULT '',
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createQuotesIndexSQL = `CREATE INDEX IF NOT EXISTS quotes_symbol_ts_idx ON quotes (symbol, ts DESC, id DESC);`

	insertQuoteSQL = `INSERT INTO quotes (
        symbol,
        open,
        high,
        low,
        close,
        change,
        change_pct,
        volume,
        ts,
        source
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    RETURNING id;`

	selectQuoteColumns = `SELECT
        id,
        symbol,
        open::text,
        high::text,
        low::text,
        close::text,
        change::text,
        change_pct::text,
        volume,
        ts,
        source
    FROM quotes`

	listQuotesBySymbolSQL = selectQuoteColumns + `
    WHERE symbol = $1
    ORDER BY ts DESC, id DESC
    LIMIT $2;`

	listAllQuotesSQL = selectQuoteColumns + `
    ORDER BY ts DESC, id DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// unbounded stands in for "no limit" in LIMIT clauses.
const unbounded = int64(1) << 62

// Postgres stores quotes in PostgreSQL through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a repository.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the quotes table when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{createQuotesSQL, createQuotesIndexSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort: the lock dies with the session anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Save persists one quote.
func (s *Postgres) Save(ctx context.Context, quote market.Quote) (market.Quote, error) {
	saved, err := s.SaveBatch(ctx, []market.Quote{quote})
	if err != nil {
		return market.Quote{}, err
	}
	return saved[0], nil
}

// SaveBatch inserts quotes inside one transaction.
func (s *Postgres) SaveBatch(ctx context.Context, quotes []market.Quote) ([]market.Quote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	out := make([]market.Quote, len(quotes))
	txErr := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i, q := range quotes {
			rec := toRecord(q)
			if err := tx.QueryRow(ctx, insertQuoteSQL,
				rec.Symbol,
				rec.Open,
				rec.High,
				rec.Low,
				rec.Close,
				rec.Change,
				rec.ChangePct,
				rec.Volume,
				rec.Timestamp,
				rec.Source,
			).Scan(&q.ID); err != nil {
				return fmt.Errorf("insert quote %s: %w", q.Symbol, err)
			}
			out[i] = q
		}
		return nil
	})
	if txErr != nil {
		return nil, fmt.Errorf("save batch: %w", txErr)
	}
	return out, nil
}

// GetLatest returns the newest quote for symbol.
func (s *Postgres) GetLatest(ctx context.Context, symbol string) (market.Quote, bool, error) {
	quotes, err := s.GetAll(ctx, symbol, 1)
	if err != nil || len(quotes) == 0 {
		return market.Quote{}, false, err
	}
	return quotes[0], true, nil
}

// GetAll lists quotes newest first.
func (s *Postgres) GetAll(ctx context.Context, symbol string, limit int) ([]market.Quote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	lim := unbounded
	if limit > 0 {
		lim = int64(limit)
	}

	var rows pgx.Rows
	if symbol == "" {
		rows, err = pool.Query(ctx, listAllQuotesSQL, lim)
	} else {
		rows, err = pool.Query(ctx, listQuotesBySymbolSQL, symbol, lim)
	}
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()

	quotes := make([]market.Quote, 0)
	for rows.Next() {
		var rec quoteRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Symbol,
			&rec.Open,
			&rec.High,
			&rec.Low,
			&rec.Close,
			&rec.Change,
			&rec.ChangePct,
			&rec.Volume,
			&rec.Timestamp,
			&rec.Source,
		); err != nil {
			return nil, err
		}
		q, err := rec.quote()
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}
