package series

import (
	"github.com/shopspring/decimal"

	"market-pulse/internal/market"
)

// PreviousClose resolves the most recent stored close for a symbol.
type PreviousClose func(symbol string) (decimal.Decimal, bool)

// Enrich fills a missing opening price on every quote of batch. The most
// recent stored close for the symbol is used when lookup finds one, otherwise
// the quote's own close, which yields a zero change. Quotes that already carry
// an open are returned untouched.
func Enrich(batch []market.Quote, lookup PreviousClose) []market.Quote {
	out := make([]market.Quote, len(batch))
	for i, q := range batch {
		if q.HasOpen() {
			out[i] = q
			continue
		}
		open := q.Close
		if lookup != nil {
			if prev, ok := lookup(q.Symbol); ok && prev.IsPositive() {
				open = prev
			}
		}
		q.Open = market.RoundPrice(open)
		out[i] = q.WithChangeFrom(q.Open)
	}
	return out
}
