package app

import (
	"context"
	"os"
	"time"

	"market-pulse/internal/fetcher"
	"market-pulse/internal/publish"
	"market-pulse/internal/service"
	"market-pulse/internal/storage"
)

// Simulate 使用随机游走数据源在内存仓库上运行若干轮采集，然后输出信号。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	report, err := a.simulate(ctx, opts)
	if err != nil {
		return err
	}
	return writeReport(os.Stdout, opts.Format, report)
}

func (a *App) simulate(ctx context.Context, opts SimulateOptions) (SignalsReport, error) {
	if opts.Cycles <= 0 {
		opts.Cycles = 300
	}
	if opts.Step <= 0 {
		opts.Step = time.Minute
	}

	start := time.Now().UTC().Truncate(opts.Step).Add(-time.Duration(opts.Cycles) * opts.Step)
	sim := fetcher.NewSimulated(fetcher.SimulatedOptions{
		Seed:       opts.Seed,
		Volatility: a.Config.Providers.Simulated.Volatility,
		Step:       opts.Step,
		Start:      start,
	})
	failover := fetcher.NewFailover([]fetcher.Adapter{sim}, fetcher.FailoverOptions{
		Timeout:  a.Config.Fetcher.Timeout,
		MinYield: a.Config.Fetcher.MinYield,
	}, a.Metrics, a.Logger)

	repo := storage.NewMemory()
	svcOpts, err := a.serviceOptions()
	if err != nil {
		return SignalsReport{}, err
	}
	svcOpts.LockKey = 0
	svcOpts.PollInterval = opts.Step
	svc := service.New(failover, repo, publish.NewFanout(a.Metrics, a.Logger), a.Metrics, svcOpts, a.Logger)

	for i := 0; i < opts.Cycles; i++ {
		if _, err := svc.PollOnce(ctx); err != nil {
			return SignalsReport{}, err
		}
	}
	a.Logger.Info().Int("cycles", opts.Cycles).Dur("step", opts.Step).Msg("simulation polled")

	return a.analyze(ctx, repo, true)
}
