package fetcher

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"

	"market-pulse/internal/market"
)

// latestBarsClient is the slice of the Alpaca SDK this adapter needs.
type latestBarsClient interface {
	GetLatestBars(symbols []string, req marketdata.GetLatestBarRequest) (map[string]marketdata.Bar, error)
}

// AlpacaOptions parameterise the Alpaca market data adapter.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string
	Symbols   SymbolMap
}

// Alpaca reads the latest minute bars from the Alpaca market data API.
type Alpaca struct {
	opts   AlpacaOptions
	client latestBarsClient
	logger zerolog.Logger
}

// NewAlpaca builds the adapter. The SDK client is created only when
// credentials are present.
func NewAlpaca(opts AlpacaOptions, logger zerolog.Logger) *Alpaca {
	a := &Alpaca{opts: opts, logger: logger.With().Str("component", "alpaca_adapter").Logger()}
	if opts.APIKey != "" && opts.APISecret != "" {
		a.client = marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		})
	}
	return a
}

// Name implements Adapter.
func (a *Alpaca) Name() string { return "alpaca" }

// Fetch implements Adapter. The SDK call is not context aware; the failover
// deadline still bounds how long the cycle waits for it.
func (a *Alpaca) Fetch(ctx context.Context, symbols []string) ([]market.Quote, error) {
	if a.client == nil {
		return nil, ErrNotConfigured
	}
	tickers := make([]string, len(symbols))
	for i, s := range symbols {
		tickers[i] = a.opts.Symbols.To(s)
	}

	req := marketdata.GetLatestBarRequest{}
	if a.opts.Feed != "" {
		req.Feed = marketdata.Feed(a.opts.Feed)
	}
	bars, err := a.client.GetLatestBars(tickers, req)
	if err != nil {
		return nil, fmt.Errorf("alpaca latest bars: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	quotes := make([]market.Quote, 0, len(bars))
	for ticker, bar := range bars {
		closePx, ok := market.PriceFromFloat(bar.Close)
		if !ok {
			continue
		}
		q := market.Quote{
			Symbol:    a.opts.Symbols.From(ticker),
			Close:     closePx,
			Volume:    int64(bar.Volume),
			Timestamp: bar.Timestamp,
			Source:    a.Name(),
		}
		q.Open, _ = market.PriceFromFloat(bar.Open)
		q.High, _ = market.PriceFromFloat(bar.High)
		q.Low, _ = market.PriceFromFloat(bar.Low)
		quotes = append(quotes, q.WithChangeFrom(q.Open))
	}
	return quotes, nil
}
