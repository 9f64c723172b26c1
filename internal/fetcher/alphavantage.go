package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/market"
)

const defaultAlphaVantageURL = "https://www.alphavantage.co/query"

// AlphaVantageOptions parameterise the GLOBAL_QUOTE adapter.
type AlphaVantageOptions struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Symbols SymbolMap
}

// AlphaVantage reads GLOBAL_QUOTE, one request per symbol.
type AlphaVantage struct {
	opts   AlphaVantageOptions
	client *http.Client
	logger zerolog.Logger
}

// NewAlphaVantage builds the adapter.
func NewAlphaVantage(opts AlphaVantageOptions, logger zerolog.Logger) *AlphaVantage {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultAlphaVantageURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &AlphaVantage{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "alphavantage_adapter").Logger(),
	}
}

// Name implements Adapter.
func (a *AlphaVantage) Name() string { return "alphavantage" }

type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol        string `json:"01. symbol"`
		Open          string `json:"02. open"`
		High          string `json:"03. high"`
		Low           string `json:"04. low"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		LatestDay     string `json:"07. latest trading day"`
		PrevClose     string `json:"08. previous close"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
	// Rate limit and key errors arrive as 200 with one of these set.
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

// Fetch implements Adapter.
func (a *AlphaVantage) Fetch(ctx context.Context, symbols []string) ([]market.Quote, error) {
	if a.opts.APIKey == "" {
		return nil, ErrNotConfigured
	}
	quotes := make([]market.Quote, 0, len(symbols))
	var lastErr error
	for _, sym := range symbols {
		q, err := a.quote(ctx, sym)
		if err != nil {
			lastErr = err
			a.logger.Debug().Err(err).Str("symbol", sym).Msg("global quote failed")
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return quotes, nil
}

func (a *AlphaVantage) quote(ctx context.Context, symbol string) (market.Quote, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", a.opts.Symbols.To(symbol))
	params.Set("apikey", a.opts.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return market.Quote{}, fmt.Errorf("alphavantage request: %w", err)
	}

	var resp globalQuoteResponse
	if err := doJSON(a.client, req, "alphavantage", &resp); err != nil {
		return market.Quote{}, err
	}
	for _, msg := range []string{resp.ErrorMessage, resp.Note, resp.Information} {
		if msg != "" {
			return market.Quote{}, fmt.Errorf("alphavantage: %s", msg)
		}
	}

	g := resp.GlobalQuote
	price, ok := market.PriceFromString(g.Price)
	if !ok {
		return market.Quote{}, fmt.Errorf("alphavantage: unusable price %q for %s", g.Price, symbol)
	}

	q := market.Quote{Symbol: symbol, Close: price, Source: a.Name()}
	q.Open, _ = market.PriceFromString(g.Open)
	q.High, _ = market.PriceFromString(g.High)
	q.Low, _ = market.PriceFromString(g.Low)
	q.Change, _ = market.PriceFromString(g.Change)
	q.ChangePercent, _ = market.PriceFromString(strings.TrimSuffix(g.ChangePercent, "%"))
	if v, err := strconv.ParseInt(g.Volume, 10, 64); err == nil {
		q.Volume = v
	}
	// Daily granularity only; the capture time is stamped by the failover.
	return q, nil
}
