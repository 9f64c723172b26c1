package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"market-pulse/internal/config"
	"market-pulse/internal/indicator"
	"market-pulse/internal/market"
	"market-pulse/internal/metrics"
	"market-pulse/internal/publish"
	"market-pulse/internal/scheduler"
	"market-pulse/internal/series"
	"market-pulse/internal/signal"
	"market-pulse/internal/storage"
)

//go:generate mockgen -destination=mock_fetcher_test.go -package=service . QuoteFetcher

// ErrCycleInProgress is returned when a poll starts while another is running.
var ErrCycleInProgress = errors.New("service: poll cycle already in progress")

// QuoteFetcher yields the latest quotes for symbols; an empty result means
// every source was exhausted.
type QuoteFetcher interface {
	Fetch(ctx context.Context, symbols []string) []market.Quote
}

// ComputeFunc derives indicators for one series.
type ComputeFunc func(in indicator.Input, p indicator.Params) indicator.Set

// Options tune the pipeline.
type Options struct {
	Symbols      []string
	Timeframes   []series.Timeframe
	// Window caps how many stored quotes per symbol feed one analysis.
	// Zero sizes the read from PollInterval so the widest timeframe can
	// reach the gate minimum; zero for both reads everything.
	Window       int
	PollInterval time.Duration
	Gate         series.Gate
	Params       indicator.Params
	LockKey      int64
	Compute      ComputeFunc
}

// OptionsFromConfig maps the analysis, scheduler and symbol settings.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	tfs, err := series.ParseTimeframes(cfg.Analysis.Timeframes)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Symbols:      cfg.Symbols,
		Timeframes:   tfs,
		Window:       cfg.Analysis.Window,
		PollInterval: cfg.Scheduler.Interval,
		Gate:         series.DefaultGate,
		Params:       indicator.DefaultParams,
		LockKey:      cfg.Scheduler.AdvisoryLockKey,
	}, nil
}

// PollResult summarises one poll cycle.
type PollResult struct {
	Source string
	Quotes []market.Quote
}

// Service orchestrates fetching, persistence, analysis and publishing.
type Service struct {
	fetcher   QuoteFetcher
	repo      storage.QuoteRepository
	publisher publish.Publisher
	metrics   *metrics.Recorder
	logger    zerolog.Logger
	opts      Options
	window    int
	locker    storage.AdvisoryLocker
	now       func() time.Time

	polling atomic.Bool

	mu   sync.Mutex
	last map[string]signal.Action
}

// New constructs the pipeline service.
func New(fetcher QuoteFetcher, repo storage.QuoteRepository, pub publish.Publisher, rec *metrics.Recorder, opts Options, logger zerolog.Logger) *Service {
	if len(opts.Timeframes) == 0 {
		opts.Timeframes, _ = series.ParseTimeframes(series.DefaultTimeframes)
	}
	if opts.Gate == (series.Gate{}) {
		opts.Gate = series.DefaultGate
	}
	if opts.Params == (indicator.Params{}) {
		opts.Params = indicator.DefaultParams
	}
	if opts.Compute == nil {
		opts.Compute = indicator.Compute
	}

	var locker storage.AdvisoryLocker
	if l, ok := repo.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		fetcher:   fetcher,
		repo:      repo,
		publisher: pub,
		metrics:   rec,
		logger:    logger.With().Str("component", "service").Logger(),
		opts:      opts,
		window:    lookback(opts),
		locker:    locker,
		now:       func() time.Time { return time.Now().UTC() },
		last:      make(map[string]signal.Action),
	}
}

func lookback(opts Options) int {
	if opts.Window > 0 {
		return opts.Window
	}
	n := 0
	for _, tf := range opts.Timeframes {
		if l := opts.Gate.Lookback(tf, opts.PollInterval); l > n {
			n = l
		}
	}
	return n
}

// Window is the number of stored quotes read per symbol for one analysis;
// zero means unbounded.
func (s *Service) Window() int { return s.window }

// Run drives poll ticks from sched and analysis from cron until ctx ends.
func (s *Service) Run(ctx context.Context, sched *scheduler.Scheduler, cron *scheduler.Cron, analysisSchedule string) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx, s.ProcessTick) })
	if cron != nil && analysisSchedule != "" {
		if err := cron.Add(ctx, "analysis", analysisSchedule, func(ctx context.Context) error {
			_, err := s.AnalyzeOnce(ctx)
			return err
		}); err != nil {
			return err
		}
		g.Go(func() error { return cron.Run(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ProcessTick 执行单个时间桶的行情采集。
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = s.PollOnce(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		s.logger.Debug().Time("bucket", bucket).Msg("previous poll still running, tick skipped")
		return nil
	}
	return err
}

// PollOnce fetches, enriches, stores and publishes one batch. At most one
// poll runs at a time; an overlapping call returns ErrCycleInProgress and
// does no fetch and no write.
func (s *Service) PollOnce(ctx context.Context) (PollResult, error) {
	if !s.polling.CompareAndSwap(false, true) {
		s.metrics.Cycle("poll", "skipped")
		return PollResult{}, ErrCycleInProgress
	}
	defer s.polling.Store(false)

	quotes := s.fetcher.Fetch(ctx, s.opts.Symbols)
	if len(quotes) == 0 {
		s.metrics.Cycle("poll", "exhausted")
		s.logger.Warn().Strs("symbols", s.opts.Symbols).Msg("no provider returned quotes")
		return PollResult{}, nil
	}

	enriched := series.Enrich(quotes, s.previousClose(ctx))
	saved, err := s.repo.SaveBatch(ctx, enriched)
	if err != nil {
		s.metrics.Cycle("poll", "error")
		return PollResult{}, fmt.Errorf("save batch: %w", err)
	}

	for _, q := range saved {
		s.metrics.QuoteStored(q.Symbol, q.CloseFloat())
		s.publish(ctx, publish.NewQuoteEvent(q))
	}
	s.metrics.Cycle("poll", "ok")

	source := saved[0].Source
	s.logger.Info().Str("source", source).Int("quotes", len(saved)).Msg("quotes stored")
	return PollResult{Source: source, Quotes: saved}, nil
}

func (s *Service) previousClose(ctx context.Context) series.PreviousClose {
	return func(symbol string) (decimal.Decimal, bool) {
		q, ok, err := s.repo.GetLatest(ctx, symbol)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("previous close lookup failed")
			return decimal.Zero, false
		}
		if !ok {
			return decimal.Zero, false
		}
		return q.Close, true
	}
}

func (s *Service) publish(ctx context.Context, ev publish.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("type", ev.Type).Str("symbol", ev.Symbol).Msg("publish failed")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if errors.Is(err, storage.ErrNotConfigured) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
