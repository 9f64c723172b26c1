package storage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"market-pulse/internal/market"
)

// quoteRecord is the column layout shared by the SQL backends. Prices travel
// as decimal strings so no backend rounds through float64.
type quoteRecord struct {
	ID        int64
	Symbol    string
	Open      string
	High      string
	Low       string
	Close     string
	Change    string
	ChangePct string
	Volume    int64
	Timestamp time.Time
	Source    string
}

func toRecord(q market.Quote) quoteRecord {
	return quoteRecord{
		ID:        q.ID,
		Symbol:    q.Symbol,
		Open:      q.Open.String(),
		High:      q.High.String(),
		Low:       q.Low.String(),
		Close:     q.Close.String(),
		Change:    q.Change.String(),
		ChangePct: q.ChangePercent.String(),
		Volume:    q.Volume,
		Timestamp: q.Timestamp.UTC(),
		Source:    q.Source,
	}
}

func (r quoteRecord) quote() (market.Quote, error) {
	q := market.Quote{
		ID:        r.ID,
		Symbol:    r.Symbol,
		Volume:    r.Volume,
		Timestamp: r.Timestamp.UTC(),
		Source:    r.Source,
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", r.Open, &q.Open},
		{"high", r.High, &q.High},
		{"low", r.Low, &q.Low},
		{"close", r.Close, &q.Close},
		{"change", r.Change, &q.Change},
		{"change_pct", r.ChangePct, &q.ChangePercent},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return market.Quote{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return q, nil
}
