package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/market"
)

const defaultYahooBaseURL = "https://query1.finance.yahoo.com"

// DefaultYahooSymbols maps canonical index names to Yahoo tickers.
var DefaultYahooSymbols = SymbolMap{
	"NIFTY":     "^NSEI",
	"BANKNIFTY": "^NSEBANK",
	"SENSEX":    "^BSESN",
	"SPX":       "^GSPC",
	"NDX":       "^NDX",
}

// YahooOptions parameterise the Yahoo chart adapter.
type YahooOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Symbols   SymbolMap
}

// Yahoo reads the public chart endpoint. It needs no credentials.
type Yahoo struct {
	opts   YahooOptions
	client *http.Client
	logger zerolog.Logger
}

// NewYahoo builds the Yahoo adapter.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultYahooBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0"
	}
	if opts.Symbols == nil {
		opts.Symbols = DefaultYahooSymbols
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Yahoo{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "yahoo_adapter").Logger(),
	}
}

// Name implements Adapter.
func (y *Yahoo) Name() string { return "yahoo" }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string   `json:"symbol"`
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
				ChartPreviousClose *float64 `json:"chartPreviousClose"`
				RegularMarketTime  int64    `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch implements Adapter with one chart request per symbol. A symbol that
// fails is skipped; the batch fails only when every symbol failed.
func (y *Yahoo) Fetch(ctx context.Context, symbols []string) ([]market.Quote, error) {
	quotes := make([]market.Quote, 0, len(symbols))
	var lastErr error
	for _, sym := range symbols {
		bars, marketTime, err := y.chart(ctx, sym, "1m", "1d")
		if err != nil {
			lastErr = err
			y.logger.Debug().Err(err).Str("symbol", sym).Msg("chart request failed")
			continue
		}
		if len(bars) == 0 {
			continue
		}
		latest := bars[len(bars)-1]
		// The last bar is still forming; stamp it with the trade time.
		if marketTime.After(latest.Timestamp) {
			latest.Timestamp = marketTime
		}
		quotes = append(quotes, latest)
	}
	if len(quotes) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return quotes, nil
}

// History returns chronological bars for symbol, e.g. interval "1m" range "5d".
func (y *Yahoo) History(ctx context.Context, symbol, interval, rng string) ([]market.Quote, error) {
	bars, _, err := y.chart(ctx, symbol, interval, rng)
	return bars, err
}

// chart returns the bars plus the meta regularMarketTime, zero when absent.
func (y *Yahoo) chart(ctx context.Context, symbol, interval, rng string) ([]market.Quote, time.Time, error) {
	q := url.Values{}
	q.Set("interval", interval)
	q.Set("range", rng)
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.opts.BaseURL, url.PathEscape(y.opts.Symbols.To(symbol)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("yahoo request: %w", err)
	}
	req.Header.Set("User-Agent", y.opts.UserAgent)

	var chart yahooChart
	if err := doJSON(y.client, req, "yahoo", &chart); err != nil {
		return nil, time.Time{}, err
	}
	if chart.Chart.Error != nil {
		return nil, time.Time{}, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, time.Time{}, fmt.Errorf("yahoo: no data for %s", symbol)
	}

	result := chart.Chart.Result[0]
	cols := result.Indicators.Quote[0]
	var marketTime time.Time
	if result.Meta.RegularMarketTime > 0 {
		marketTime = time.Unix(result.Meta.RegularMarketTime, 0).UTC()
	}
	out := make([]market.Quote, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closePx, ok := pick(cols.Close, i)
		if !ok {
			// null bar, e.g. a halted minute
			continue
		}
		quote := market.Quote{
			Symbol:    symbol,
			Close:     closePx,
			Timestamp: time.Unix(ts, 0).UTC(),
			Source:    y.Name(),
		}
		quote.Open, _ = pick(cols.Open, i)
		quote.High, _ = pick(cols.High, i)
		quote.Low, _ = pick(cols.Low, i)
		if vol, ok := pick(cols.Volume, i); ok {
			quote.Volume = vol.IntPart()
		}
		out = append(out, quote)
	}

	if len(out) == 0 && result.Meta.RegularMarketPrice != nil {
		// Closed market: fall back to the meta snapshot.
		if px, ok := market.PriceFromFloat(*result.Meta.RegularMarketPrice); ok {
			quote := market.Quote{Symbol: symbol, Close: px, Timestamp: marketTime, Source: y.Name()}
			if result.Meta.ChartPreviousClose != nil {
				if prev, ok := market.PriceFromFloat(*result.Meta.ChartPreviousClose); ok {
					quote.Open = prev
				}
			}
			out = append(out, quote)
		}
	}

	if prev := result.Meta.ChartPreviousClose; prev != nil && len(out) > 0 {
		if ref, ok := market.PriceFromFloat(*prev); ok {
			last := len(out) - 1
			out[last] = out[last].WithChangeFrom(ref)
		}
	}
	return out, marketTime, nil
}
