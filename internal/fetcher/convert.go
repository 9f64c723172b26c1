package fetcher

import (
	"github.com/shopspring/decimal"

	"market-pulse/internal/market"
)

// pick reads column i, treating nulls, gaps and non-finite values as missing.
func pick(col []*float64, i int) (decimal.Decimal, bool) {
	if i >= len(col) || col[i] == nil {
		return decimal.Zero, false
	}
	return market.PriceFromFloat(*col[i])
}
