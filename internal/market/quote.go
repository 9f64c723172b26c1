package market

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// PricePlaces is the precision quotes are normalised to.
const PricePlaces = 2

var hundred = decimal.NewFromInt(100)

// Quote is one normalised observation of an instrument.
// High/Low ordering against Open/Close is not enforced; providers violate it.
type Quote struct {
	ID            int64           `json:"id,omitempty"`
	Symbol        string          `json:"symbol"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        int64           `json:"volume"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source,omitempty"`
}

// HasOpen reports whether the quote carries a usable opening price.
func (q Quote) HasOpen() bool {
	return q.Open.IsPositive()
}

// Normalize rounds prices, clamps volume and stamps a capture time when missing.
func (q Quote) Normalize(now time.Time) Quote {
	q.Open = RoundPrice(q.Open)
	q.High = RoundPrice(q.High)
	q.Low = RoundPrice(q.Low)
	q.Close = RoundPrice(q.Close)
	q.Change = RoundPrice(q.Change)
	q.ChangePercent = RoundPrice(q.ChangePercent)
	if q.Volume < 0 {
		q.Volume = 0
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = now
	}
	q.Timestamp = q.Timestamp.UTC()
	return q
}

// WithChangeFrom recomputes Change and ChangePercent relative to ref.
func (q Quote) WithChangeFrom(ref decimal.Decimal) Quote {
	if !ref.IsPositive() {
		q.Change = decimal.Zero
		q.ChangePercent = decimal.Zero
		return q
	}
	q.Change = RoundPrice(q.Close.Sub(ref))
	q.ChangePercent = RoundPrice(q.Close.Sub(ref).Div(ref).Mul(hundred))
	return q
}

// CloseFloat returns the close as float64 for indicator math.
func (q Quote) CloseFloat() float64 {
	return q.Close.InexactFloat64()
}

// RoundPrice rounds a price to PricePlaces.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(PricePlaces)
}

// PriceFromFloat converts a provider float, rejecting NaN and infinities.
func PriceFromFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return RoundPrice(decimal.NewFromFloat(f)), true
}

// PriceFromString parses a provider string price; blanks and garbage yield false.
func PriceFromString(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return RoundPrice(d), true
}
