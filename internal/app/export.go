package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"market-pulse/internal/indicator"
	"market-pulse/internal/market"
	"market-pulse/internal/series"
)

// Export renders a symbol's history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	symbol, err := market.CanonicalSymbol(opts.Symbol)
	if err != nil {
		return err
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	repo, closeRepo, err := a.openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	var from time.Time
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.IsZero() && !from.Before(to) {
		return errors.New("from must be before to")
	}

	stored, err := repo.GetAll(ctx, symbol, 0)
	if err != nil {
		return err
	}
	quotes := chronologicalWindow(stored, from, to)
	if len(quotes) == 0 {
		a.Logger.Info().Str("symbol", symbol).Msg("no quotes found for export window")
		return nil
	}

	downsampled := downsampleQuotes(quotes, opts.MaxPoints)
	a.Logger.Info().Str("symbol", symbol).Int("total", len(quotes)).Int("exported", len(downsampled)).Msg("exporting quotes")

	if opts.CSVPath != "" {
		if err := writeQuotesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeQuotesPNG(opts.PNGPath, symbol, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// chronologicalWindow keeps quotes in [from, to] and orders them oldest first.
func chronologicalWindow(newestFirst []market.Quote, from, to time.Time) []market.Quote {
	out := make([]market.Quote, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		q := newestFirst[i]
		if !from.IsZero() && q.Timestamp.Before(from) {
			continue
		}
		if q.Timestamp.After(to) {
			continue
		}
		out = append(out, q)
	}
	return out
}

func downsampleQuotes(quotes []market.Quote, max int) []market.Quote {
	if max <= 0 || len(quotes) <= max {
		return quotes
	}
	if max == 1 {
		return quotes[len(quotes)-1:]
	}

	result := make([]market.Quote, 0, max)
	step := float64(len(quotes)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(quotes) {
			idx = len(quotes) - 1
		}
		result = append(result, quotes[idx])
	}
	return result
}

func writeQuotesCSV(path string, quotes []market.Quote) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "symbol", "open", "high", "low", "close", "change", "change_pct", "volume", "source"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, q := range quotes {
		record := []string{
			q.Timestamp.UTC().Format(time.RFC3339),
			q.Symbol,
			formatPrice(q.Open),
			formatPrice(q.High),
			formatPrice(q.Low),
			formatPrice(q.Close),
			formatPrice(q.Change),
			formatPrice(q.ChangePercent),
			strconv.FormatInt(q.Volume, 10),
			q.Source,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// overlay holds per-point indicator lines for the chart.
type overlay struct {
	ema20, ema50         []float64
	upper, middle, lower []float64
}

func computeOverlay(closes []float64, p indicator.Params) overlay {
	o := overlay{
		ema20:  indicator.EMALine(closes, p.EMAFast),
		ema50:  indicator.EMALine(closes, p.EMASlow),
		upper:  make([]float64, len(closes)),
		middle: make([]float64, len(closes)),
		lower:  make([]float64, len(closes)),
	}
	for i := range closes {
		b := indicator.Bollinger(closes[:i+1], p.BollingerPeriod, p.BollingerMult)
		o.upper[i], o.middle[i], o.lower[i] = b.Upper, b.Middle, b.Lower
	}
	return o
}

func writeQuotesPNG(path, symbol string, quotes []market.Quote) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	bars := series.FromQuotes(quotes)
	x := make([]time.Time, len(bars))
	for i, b := range bars {
		x[i] = b.Time
	}
	closes := series.Closes(bars)
	o := computeOverlay(closes, indicator.DefaultParams)

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	band := chart.Style{StrokeColor: chart.ColorAlternateGray, StrokeDashArray: []float64{4, 4}}
	graph := chart.Chart{
		Title:  symbol,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: "Close", XValues: x, YValues: closes},
			chart.TimeSeries{Name: "EMA20", XValues: x, YValues: o.ema20},
			chart.TimeSeries{Name: "EMA50", XValues: x, YValues: o.ema50},
			chart.TimeSeries{Name: "BB Upper", XValues: x, YValues: o.upper, Style: band},
			chart.TimeSeries{Name: "BB Middle", XValues: x, YValues: o.middle, Style: band},
			chart.TimeSeries{Name: "BB Lower", XValues: x, YValues: o.lower, Style: band},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatPrice(d decimal.Decimal) string {
	return d.StringFixed(market.PricePlaces)
}
