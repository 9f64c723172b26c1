package storage

import (
	"context"
	"errors"

	"market-pulse/internal/market"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// QuoteRepository persists quotes. Implementations sort on read and apply a
// batch so a concurrent reader sees either none or all of it.
type QuoteRepository interface {
	Save(ctx context.Context, quote market.Quote) (market.Quote, error)
	SaveBatch(ctx context.Context, quotes []market.Quote) ([]market.Quote, error)
	// GetLatest returns the newest quote for symbol by timestamp.
	GetLatest(ctx context.Context, symbol string) (market.Quote, bool, error)
	// GetAll returns quotes newest first. An empty symbol matches all
	// symbols; limit <= 0 means unbounded.
	GetAll(ctx context.Context, symbol string, limit int) ([]market.Quote, error)
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
