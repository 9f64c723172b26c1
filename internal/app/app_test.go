package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"market-pulse/internal/config"
	"market-pulse/internal/market"
	"market-pulse/internal/signal"
	"market-pulse/internal/storage"
)

var t0 = time.Date(2025, 3, 3, 9, 15, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Symbols:  []string{"NIFTY", "BANKNIFTY"},
		Analysis: config.AnalysisConfig{Schedule: "@every 30s", Window: 0, Timeframes: []string{"1m", "5m"}},
		Fetcher:  config.FetcherConfig{Order: []string{"simulated"}, Timeout: time.Second, MinYield: 1},
		Providers: config.ProvidersConfig{
			Simulated: config.SimulatedConfig{Seed: 1, Volatility: 0.002},
		},
		Scheduler: config.SchedulerConfig{Interval: time.Minute},
		Storage:   config.StorageConfig{Driver: "memory"},
		Export:    config.ExportConfig{MaxDataPoints: 1000},
	}
}

func testApp(cfg *config.Config) *App {
	return NewApp(cfg, zerolog.Nop())
}

func quoteAt(symbol string, close float64, i int) market.Quote {
	c := decimal.NewFromFloat(close).Round(2)
	return market.Quote{Symbol: symbol, Open: c, High: c, Low: c, Close: c, Volume: 5, Timestamp: t0.Add(time.Duration(i) * time.Minute), Source: "test"}
}

type fakeHistory struct {
	bars map[string][]market.Quote
	err  map[string]error
}

func (f fakeHistory) History(_ context.Context, symbol, interval, rng string) ([]market.Quote, error) {
	if err := f.err[symbol]; err != nil {
		return nil, err
	}
	return f.bars[symbol], nil
}

func TestBackfillSkipsAlreadyStoredBars(t *testing.T) {
	a := testApp(testConfig())
	repo := storage.NewMemory()
	ctx := context.Background()
	_, err := repo.Save(ctx, quoteAt("NIFTY", 100, 1))
	require.NoError(t, err)

	src := fakeHistory{
		bars: map[string][]market.Quote{
			"NIFTY": {quoteAt("NIFTY", 99, 0), quoteAt("NIFTY", 100, 1), quoteAt("NIFTY", 101, 2), quoteAt("NIFTY", 102, 3)},
		},
		err: map[string]error{"SENSEX": errors.New("404")},
	}
	stored, failed, err := a.backfill(ctx, src, repo, []string{"NIFTY", "SENSEX", "bad symbol"}, BackfillOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, stored)
	require.Equal(t, 1, failed)

	all, err := repo.GetAll(ctx, "NIFTY", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestBackfillDryRunWritesNothing(t *testing.T) {
	a := testApp(testConfig())
	src := fakeHistory{bars: map[string][]market.Quote{"NIFTY": {quoteAt("NIFTY", 99, 0)}}}
	stored, failed, err := a.backfill(context.Background(), src, nil, []string{"NIFTY"}, BackfillOptions{DryRun: true})
	require.NoError(t, err)
	require.Zero(t, stored)
	require.Zero(t, failed)
}

func TestDownsampleKeepsEndpoints(t *testing.T) {
	quotes := make([]market.Quote, 10)
	for i := range quotes {
		quotes[i] = quoteAt("NIFTY", float64(100+i), i)
	}
	got := downsampleQuotes(quotes, 4)
	require.Len(t, got, 4)
	require.Equal(t, quotes[0], got[0])
	require.Equal(t, quotes[9], got[3])
	require.Len(t, downsampleQuotes(quotes, 0), 10)
}

func TestChronologicalWindow(t *testing.T) {
	newestFirst := []market.Quote{quoteAt("NIFTY", 3, 3), quoteAt("NIFTY", 2, 2), quoteAt("NIFTY", 1, 1), quoteAt("NIFTY", 0, 0)}
	got := chronologicalWindow(newestFirst, t0.Add(time.Minute), t0.Add(2*time.Minute))
	require.Len(t, got, 2)
	require.True(t, got[0].Timestamp.Before(got[1].Timestamp))
}

func TestExportWritesCSVAndPNG(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "quotes.db")
	ctx := context.Background()

	repo, err := storage.NewSQLite(ctx, dbPath)
	require.NoError(t, err)
	batch := make([]market.Quote, 80)
	for i := range batch {
		batch[i] = quoteAt("NIFTY", 22000+float64(i%9)*3.5, i)
	}
	_, err = repo.SaveBatch(ctx, batch)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Driver: "sqlite", SQLitePath: dbPath}
	csvPath := filepath.Join(dir, "out", "nifty.csv")
	pngPath := filepath.Join(dir, "out", "nifty.png")
	from := t0.Add(-time.Hour)
	to := t0.Add(2 * time.Hour)
	require.NoError(t, testApp(cfg).Export(ctx, ExportOptions{Symbol: "nifty", From: &from, To: &to, CSVPath: csvPath, PNGPath: pngPath, MaxPoints: 50}))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 51)
	require.Equal(t, "timestamp", rows[0][0])
	require.Equal(t, "22000.00", rows[1][5])

	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
}

func TestExportRequiresOutput(t *testing.T) {
	err := testApp(testConfig()).Export(context.Background(), ExportOptions{Symbol: "NIFTY"})
	require.Error(t, err)
}

func TestSimulateProducesSignals(t *testing.T) {
	a := testApp(testConfig())
	report, err := a.simulate(context.Background(), SimulateOptions{Cycles: 120, Seed: 7})
	require.NoError(t, err)
	require.Contains(t, report.Symbols, "NIFTY")
	nifty := report.Symbols["NIFTY"]
	require.Contains(t, nifty.Decisions, "1m")
	require.Contains(t, nifty.Rejected, "5m", "24 根 5m K 线不足 50")
	require.Contains(t, []signal.Action{signal.Buy, signal.Sell, signal.Hold}, nifty.Consensus.Signal)
	require.NotNil(t, report.Advisory)
}

func TestWriteReportFormats(t *testing.T) {
	report := SignalsReport{
		Skipped: map[string]map[string][]string{
			"SENSEX": {"1m": {"only 42 points, need 50"}, "5m": {"only 9 points, need 50"}},
		},
		Failed: map[string]string{"BANKNIFTY": "load BANKNIFTY series: disk I/O error"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, "json", report))
	require.Contains(t, buf.String(), `"skipped"`)

	buf.Reset()
	require.NoError(t, writeReport(&buf, "yaml", report))
	var decoded SignalsReport
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, report.Skipped, decoded.Skipped)
	require.Equal(t, report.Failed, decoded.Failed)

	buf.Reset()
	require.NoError(t, writeReport(&buf, "table", report))
	require.True(t, strings.Contains(buf.String(),
		"insufficient data: SENSEX (1m: only 42 points, need 50 | 5m: only 9 points, need 50)"), buf.String())
	require.Contains(t, buf.String(), "analysis failed: BANKNIFTY: load BANKNIFTY series: disk I/O error")

	require.Error(t, writeReport(&buf, "xml", report))
}
