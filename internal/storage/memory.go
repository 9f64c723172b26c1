package storage

import (
	"context"
	"sort"
	"sync"

	"market-pulse/internal/market"
)

// Memory is an in-process repository guarded by a single lock.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	quotes map[string][]market.Quote
}

// NewMemory builds an empty repository.
func NewMemory() *Memory {
	return &Memory{quotes: make(map[string][]market.Quote)}
}

// Save stores one quote and returns it with its assigned ID.
func (m *Memory) Save(ctx context.Context, quote market.Quote) (market.Quote, error) {
	saved, err := m.SaveBatch(ctx, []market.Quote{quote})
	if err != nil {
		return market.Quote{}, err
	}
	return saved[0], nil
}

// SaveBatch stores quotes under one write lock.
func (m *Memory) SaveBatch(ctx context.Context, quotes []market.Quote) ([]market.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]market.Quote, len(quotes))
	for i, q := range quotes {
		m.nextID++
		q.ID = m.nextID
		m.quotes[q.Symbol] = append(m.quotes[q.Symbol], q)
		out[i] = q
	}
	return out, nil
}

// GetLatest returns the newest quote for symbol.
func (m *Memory) GetLatest(ctx context.Context, symbol string) (market.Quote, bool, error) {
	all, err := m.GetAll(ctx, symbol, 1)
	if err != nil || len(all) == 0 {
		return market.Quote{}, false, err
	}
	return all[0], true, nil
}

// GetAll returns a sorted copy, newest first.
func (m *Memory) GetAll(ctx context.Context, symbol string, limit int) ([]market.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []market.Quote
	if symbol == "" {
		for _, qs := range m.quotes {
			out = append(out, qs...)
		}
	} else {
		out = append(out, m.quotes[symbol]...)
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements QuoteRepository.
func (m *Memory) Close() error { return nil }

func sortNewestFirst(quotes []market.Quote) {
	sort.SliceStable(quotes, func(i, j int) bool {
		if !quotes[i].Timestamp.Equal(quotes[j].Timestamp) {
			return quotes[i].Timestamp.After(quotes[j].Timestamp)
		}
		return quotes[i].ID > quotes[j].ID
	})
}
