package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/alerting"
	"market-pulse/internal/config"
	"market-pulse/internal/fetcher"
	"market-pulse/internal/metrics"
	"market-pulse/internal/publish"
	"market-pulse/internal/scheduler"
	"market-pulse/internal/service"
	"market-pulse/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Recorder
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:  cfg,
		Logger:  logger.With().Str("component", "app").Logger(),
		Metrics: metrics.New(),
	}
}

// newAdapters builds adapters in configured priority order. The session
// adapter logs in here, once per process.
func (a *App) newAdapters(ctx context.Context) ([]fetcher.Adapter, error) {
	p := a.Config.Providers
	adapters := make([]fetcher.Adapter, 0, len(a.Config.Fetcher.Order))
	for _, name := range a.Config.Fetcher.Order {
		switch name {
		case "yahoo":
			adapters = append(adapters, a.newYahoo())
		case "alphavantage":
			adapters = append(adapters, fetcher.NewAlphaVantage(fetcher.AlphaVantageOptions{
				APIKey:  p.AlphaVantage.APIKey,
				BaseURL: p.AlphaVantage.BaseURL,
				Timeout: p.AlphaVantage.Timeout,
				Symbols: fetcher.SymbolMap(p.AlphaVantage.Symbols),
			}, a.Logger))
		case "alpaca":
			adapters = append(adapters, fetcher.NewAlpaca(fetcher.AlpacaOptions{
				APIKey:    p.Alpaca.APIKey,
				APISecret: p.Alpaca.APISecret,
				BaseURL:   p.Alpaca.BaseURL,
				Feed:      p.Alpaca.Feed,
				Symbols:   fetcher.SymbolMap(p.Alpaca.Symbols),
			}, a.Logger))
		case "chainlink":
			adapters = append(adapters, fetcher.NewChainlink(fetcher.ChainlinkOptions{
				RPCURL:  p.Chainlink.RPCURL,
				Feeds:   p.Chainlink.Feeds,
				Timeout: p.Chainlink.Timeout,
			}, a.Logger))
		case "session":
			session := fetcher.NewSession(fetcher.SessionOptions{
				BaseURL:    p.Session.BaseURL,
				LoginPath:  p.Session.LoginPath,
				QuotesPath: p.Session.QuotesPath,
				ClientCode: p.Session.ClientCode,
				Password:   p.Session.Password,
				APIKey:     p.Session.APIKey,
				Timeout:    p.Session.Timeout,
				Symbols:    fetcher.SymbolMap(p.Session.Symbols),
			}, a.Logger)
			if err := session.Login(ctx); err != nil {
				if errors.Is(err, fetcher.ErrNotConfigured) {
					a.Logger.Debug().Msg("session provider not configured")
				} else {
					a.Logger.Warn().Err(err).Msg("session login failed; adapter will be skipped")
				}
			}
			adapters = append(adapters, session)
		case "simulated":
			adapters = append(adapters, fetcher.NewSimulated(fetcher.SimulatedOptions{
				Seed:       p.Simulated.Seed,
				Volatility: p.Simulated.Volatility,
				Step:       a.Config.Scheduler.Interval,
			}))
		default:
			return nil, errors.New("unknown provider " + name)
		}
	}
	return adapters, nil
}

func (a *App) newYahoo() *fetcher.Yahoo {
	p := a.Config.Providers.Yahoo
	return fetcher.NewYahoo(fetcher.YahooOptions{
		BaseURL:   p.BaseURL,
		Timeout:   p.Timeout,
		UserAgent: p.UserAgent,
		Symbols:   fetcher.SymbolMap(p.Symbols),
	}, a.Logger)
}

func (a *App) newFailover(adapters []fetcher.Adapter) *fetcher.Failover {
	b := a.Config.Fetcher.Breaker
	return fetcher.NewFailover(adapters, fetcher.FailoverOptions{
		Timeout:  a.Config.Fetcher.Timeout,
		MinYield: a.Config.Fetcher.MinYield,
		Breaker: fetcher.BreakerOptions{
			MaxRequests:  b.MaxRequests,
			Interval:     b.Interval,
			OpenTimeout:  b.OpenTimeout,
			MinRequests:  b.MinRequests,
			FailureRatio: b.FailureRatio,
		},
	}, a.Metrics, a.Logger)
}

func (a *App) openRepo(ctx context.Context) (storage.QuoteRepository, func(), error) {
	repo, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, nil, err
	}
	if a.Config.Storage.Driver == "memory" {
		a.Logger.Warn().Msg("storage.driver is memory; quotes are lost on exit")
	}
	closer := func() {
		if err := repo.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close repository")
		}
	}
	return repo, closer, nil
}

// newPublisher fans out to every configured sink. A sink that fails to
// connect is logged and left out.
func (a *App) newPublisher(ctx context.Context) *publish.Fanout {
	var sinks []publish.Publisher
	cfg := a.Config.Publish
	if cfg.Log {
		sinks = append(sinks, publish.NewLog(a.Logger))
	}
	if cfg.Redis.Enabled {
		r, err := publish.NewRedis(ctx, cfg.Redis)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("redis publisher disabled")
		} else {
			sinks = append(sinks, r)
		}
	}
	if cfg.Kafka.Enabled {
		k, err := publish.NewKafka(cfg.Kafka)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("kafka publisher disabled")
		} else {
			sinks = append(sinks, k)
		}
	}
	if t := a.Config.Alerting.Telegram; t.Enabled {
		sinks = append(sinks, alerting.NewTelegramNotifier(t.BotToken, t.ChatID, t.APIBase, t.Timeout, a.Logger))
	}
	return publish.NewFanout(a.Metrics, a.Logger, sinks...)
}

func (a *App) serviceOptions() (service.Options, error) {
	return service.OptionsFromConfig(a.Config)
}

func (a *App) serveMetrics(ctx context.Context) {
	addr := a.Config.Metrics.Listen
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.Logger.Info().Str("listen", addr).Msg("metrics endpoint started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
}

// Run executes the long-running poll and analysis service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, closeRepo, err := a.openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	adapters, err := a.newAdapters(ctx)
	if err != nil {
		return err
	}
	pub := a.newPublisher(ctx)
	defer pub.Close()

	opts, err := a.serviceOptions()
	if err != nil {
		return err
	}
	svc := service.New(a.newFailover(adapters), repo, pub, a.Metrics, opts, a.Logger)

	sched, err := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		Immediate:     true,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.serveMetrics(ctx)

	a.Logger.Info().
		Strs("symbols", a.Config.Symbols).
		Strs("providers", a.Config.Fetcher.Order).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting market pulse service")
	err = svc.Run(ctx, sched, scheduler.NewCron(a.Logger), a.Config.Analysis.Schedule)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("market pulse service stopped")
	return nil
}

// ExportOptions hold parameters for exporting a symbol's history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Symbol string
	Limit  int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	Symbols  []string
	Interval string
	Range    string
	DryRun   bool
}

// SignalsOptions configure the signals command.
type SignalsOptions struct {
	Format string
	Advise bool
}

// SimulateOptions configure an offline simulation.
type SimulateOptions struct {
	Cycles int
	Seed   int64
	Step   time.Duration
	Format string
}
