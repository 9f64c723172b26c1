package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"market-pulse/internal/config"
	"market-pulse/internal/indicator"
	"market-pulse/internal/market"
	"market-pulse/internal/publish"
	"market-pulse/internal/series"
	"market-pulse/internal/signal"
	"market-pulse/internal/storage"
)

var t0 = time.Date(2025, 3, 3, 9, 15, 0, 0, time.UTC)

// recordingRepo counts writes on top of the in-memory repository.
type recordingRepo struct {
	*storage.Memory
	writes atomic.Int32
}

func (r *recordingRepo) SaveBatch(ctx context.Context, quotes []market.Quote) ([]market.Quote, error) {
	r.writes.Add(1)
	return r.Memory.SaveBatch(ctx, quotes)
}

type lockedRepo struct {
	*storage.Memory
}

func (lockedRepo) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return nil, false, nil
}

type capture struct {
	mu     sync.Mutex
	events []publish.Event
}

func (c *capture) Publish(_ context.Context, ev publish.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *capture) Close() error { return nil }

func (c *capture) ofType(kind string) []publish.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []publish.Event
	for _, ev := range c.events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func quote(symbol, close string, at time.Time) market.Quote {
	return market.Quote{Symbol: symbol, Close: decimal.RequireFromString(close), Timestamp: at, Source: "test"}
}

func seed(t *testing.T, repo storage.QuoteRepository, symbol string, n int, closeAt func(i int) float64) {
	t.Helper()
	seedEvery(t, repo, symbol, n, time.Minute, closeAt)
}

// seedEvery stores n quotes spaced step apart, as the poll loop would.
func seedEvery(t *testing.T, repo storage.QuoteRepository, symbol string, n int, step time.Duration, closeAt func(i int) float64) {
	t.Helper()
	batch := make([]market.Quote, n)
	for i := range batch {
		c := decimal.NewFromFloat(closeAt(i)).Round(2)
		batch[i] = market.Quote{Symbol: symbol, Open: c, Close: c, Volume: 10, Timestamp: t0.Add(time.Duration(i) * step)}
	}
	_, err := repo.SaveBatch(context.Background(), batch)
	require.NoError(t, err)
}

func timeframes(t *testing.T, labels ...string) []series.Timeframe {
	t.Helper()
	tfs, err := series.ParseTimeframes(labels)
	require.NoError(t, err)
	return tfs
}

func TestPollOnceIsSingleFlight(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := NewMockQuoteFetcher(ctrl)
	repo := &recordingRepo{Memory: storage.NewMemory()}

	entered := make(chan struct{})
	release := make(chan struct{})
	fetcher.EXPECT().Fetch(gomock.Any(), []string{"NIFTY"}).DoAndReturn(
		func(context.Context, []string) []market.Quote {
			close(entered)
			<-release
			return []market.Quote{quote("NIFTY", "22000.10", t0)}
		}).Times(1)

	svc := New(fetcher, repo, nil, nil, Options{Symbols: []string{"NIFTY"}}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := svc.PollOnce(context.Background())
		done <- err
	}()
	<-entered

	_, err := svc.PollOnce(context.Background())
	require.ErrorIs(t, err, ErrCycleInProgress)
	require.Zero(t, repo.writes.Load(), "重叠的轮询不应写入")

	close(release)
	require.NoError(t, <-done)
	require.EqualValues(t, 1, repo.writes.Load())
}

func TestPollOnceEnrichesFromPreviousClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := NewMockQuoteFetcher(ctrl)
	repo := storage.NewMemory()
	_, err := repo.Save(context.Background(), quote("NIFTY", "100", t0))
	require.NoError(t, err)

	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return([]market.Quote{quote("NIFTY", "102", t0.Add(time.Minute))})
	pub := &capture{}
	svc := New(fetcher, repo, pub, nil, Options{Symbols: []string{"NIFTY"}}, zerolog.Nop())

	res, err := svc.PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, "test", res.Source)
	require.Len(t, res.Quotes, 1)
	got := res.Quotes[0]
	require.True(t, got.Open.Equal(decimal.NewFromInt(100)))
	require.True(t, got.Change.Equal(decimal.NewFromInt(2)))
	require.True(t, got.ChangePercent.Equal(decimal.NewFromInt(2)))
	require.Len(t, pub.ofType(publish.TypeQuoteUpdate), 1)
}

func TestPollOnceExhaustedWritesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := NewMockQuoteFetcher(ctrl)
	repo := &recordingRepo{Memory: storage.NewMemory()}
	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil)

	svc := New(fetcher, repo, nil, nil, Options{Symbols: []string{"NIFTY"}}, zerolog.Nop())
	res, err := svc.PollOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Quotes)
	require.Zero(t, repo.writes.Load())
}

func TestProcessTickSkipsWhenLockHeldElsewhere(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := NewMockQuoteFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)

	svc := New(fetcher, lockedRepo{storage.NewMemory()}, nil, nil, Options{Symbols: []string{"NIFTY"}, LockKey: 42}, zerolog.Nop())
	require.NoError(t, svc.ProcessTick(context.Background(), t0))
}

func TestAnalyzeSkipsConstantSeriesWithoutComputing(t *testing.T) {
	repo := storage.NewMemory()
	seed(t, repo, "NIFTY", 60, func(int) float64 { return 100 })

	var computed atomic.Int32
	svc := New(nil, repo, nil, nil, Options{
		Symbols: []string{"NIFTY"},
		Compute: func(in indicator.Input, p indicator.Params) indicator.Set {
			computed.Add(1)
			return indicator.Compute(in, p)
		},
	}, zerolog.Nop())

	out, err := svc.AnalyzeOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, out.Symbols)
	require.Contains(t, out.Skipped["NIFTY"], "raw")
	require.Zero(t, computed.Load(), "数据不足时不应计算指标")
}

func bullish(indicator.Input, indicator.Params) indicator.Set {
	return indicator.Set{
		Price:      101,
		RSI:        30,
		MACD:       indicator.MACDValue{MACD: 1, Signal: 0.5, Histogram: 0.5},
		EMA20:      101,
		EMA50:      100,
		Supertrend: indicator.SupertrendValue{Value: 99, Direction: indicator.Long},
	}
}

func TestAnalyzeOncePublishesConsensus(t *testing.T) {
	repo := storage.NewMemory()
	seed(t, repo, "NIFTY", 120, func(i int) float64 { return 100 + float64(i%7)*0.8 + float64(i)*0.1 })

	pub := &capture{}
	svc := New(nil, repo, pub, nil, Options{
		Symbols:    []string{"NIFTY", "SENSEX"},
		Timeframes: timeframes(t, "1m", "1h"),
		Compute:    bullish,
	}, zerolog.Nop())

	out, err := svc.AnalyzeOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Symbols, 1, "SENSEX 无数据应被省略")
	require.Contains(t, out.Skipped["SENSEX"], "raw")

	a := out.Symbols["NIFTY"]
	require.Equal(t, signal.Buy, a.Consensus.Signal)
	require.Equal(t, 100, a.Consensus.Strength)
	require.Equal(t, []string{"1m"}, a.Consensus.Timeframes)
	require.Contains(t, a.Rejected, "1h")

	events := pub.ofType(publish.TypeSignalUpdate)
	require.Len(t, events, 1)
	update := events[0].Payload.(publish.SignalUpdate)
	require.True(t, update.Changed)

	_, err = svc.AnalyzeOnce(context.Background())
	require.NoError(t, err)
	events = pub.ofType(publish.TypeSignalUpdate)
	require.Len(t, events, 2)
	update = events[1].Payload.(publish.SignalUpdate)
	require.False(t, update.Changed)
	require.Equal(t, signal.Buy, update.Previous)
	require.Equal(t, map[string]signal.Action{"NIFTY": signal.Buy}, svc.LastSignals())
}

func TestAnalyzeWithRealIndicators(t *testing.T) {
	repo := storage.NewMemory()
	seed(t, repo, "BANKNIFTY", 90, func(i int) float64 { return 48000 + float64(i)*3 })

	svc := New(nil, repo, nil, nil, Options{
		Symbols:    []string{"BANKNIFTY"},
		Timeframes: timeframes(t, "1m"),
	}, zerolog.Nop())

	a, ok, err := svc.AnalyzeSymbol(context.Background(), "BANKNIFTY")
	require.NoError(t, err)
	require.True(t, ok)
	set := a.Indicators["1m"]
	require.InDelta(t, 48267, set.Price, 0.001)
	require.Greater(t, set.EMA20, set.EMA50)
	require.Greater(t, set.Bollinger.Upper, set.Bollinger.Middle)
}

func pollLike(i int) float64 {
	return 22000 + 15*math.Sin(float64(i)/9) + float64(i)*0.05
}

func TestAnalyzeOnceAtDefaultPollInterval(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)

	// 一小时的 5s 轮询数据
	repo := storage.NewMemory()
	seedEvery(t, repo, "NIFTY", 720, cfg.Scheduler.Interval, pollLike)

	pub := &capture{}
	svc := New(nil, repo, pub, nil, opts, zerolog.Nop())
	require.Equal(t, series.DefaultGate.Lookback(opts.Timeframes[len(opts.Timeframes)-1], cfg.Scheduler.Interval), svc.Window())

	out, err := svc.AnalyzeOnce(context.Background())
	require.NoError(t, err)
	require.Contains(t, out.Symbols, "NIFTY")
	a := out.Symbols["NIFTY"]
	require.Equal(t, []string{"1m"}, a.Consensus.Timeframes)
	require.Contains(t, a.Rejected, "5m")
	require.Contains(t, a.Rejected, "1h")
	require.Contains(t, out.Skipped, "BANKNIFTY")

	events := pub.ofType(publish.TypeSignalUpdate)
	require.Len(t, events, 1)
	require.Equal(t, "NIFTY", events[0].Symbol)
}

func TestAnalyzeSymbolKeepsReasonsWhenWindowTooShort(t *testing.T) {
	repo := storage.NewMemory()
	seedEvery(t, repo, "NIFTY", 2000, 5*time.Second, pollLike)

	svc := New(nil, repo, nil, nil, Options{
		Symbols:      []string{"NIFTY"},
		Timeframes:   timeframes(t, series.DefaultTimeframes...),
		Window:       500,
		PollInterval: 5 * time.Second,
	}, zerolog.Nop())
	require.Equal(t, 500, svc.Window())

	a, ok, err := svc.AnalyzeSymbol(context.Background(), "NIFTY")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "NIFTY", a.Symbol)
	require.Equal(t, []string{"only 42 points, need 50"}, a.Rejected["1m"][:1])
	require.Len(t, a.Rejected, 4)
	require.NotContains(t, a.Rejected, "raw")
}

// flakyRepo fails reads for one symbol.
type flakyRepo struct {
	*storage.Memory
	broken string
}

func (r flakyRepo) GetAll(ctx context.Context, symbol string, limit int) ([]market.Quote, error) {
	if symbol == r.broken {
		return nil, errors.New("disk I/O error")
	}
	return r.Memory.GetAll(ctx, symbol, limit)
}

func TestAnalyzeOnceContinuesPastRepositoryError(t *testing.T) {
	mem := storage.NewMemory()
	seed(t, mem, "NIFTY", 120, pollLike)
	seed(t, mem, "SENSEX", 120, pollLike)

	svc := New(nil, flakyRepo{Memory: mem, broken: "BANKNIFTY"}, nil, nil, Options{
		Symbols:    []string{"BANKNIFTY", "NIFTY", "SENSEX"},
		Timeframes: timeframes(t, "1m"),
	}, zerolog.Nop())

	out, err := svc.AnalyzeOnce(context.Background())
	require.NoError(t, err)
	require.Contains(t, out.Symbols, "NIFTY")
	require.Contains(t, out.Symbols, "SENSEX")
	require.Contains(t, out.Failed["BANKNIFTY"], "disk I/O error")
}
