package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"market-pulse/internal/market"
	"market-pulse/internal/service"
)

// Show prints recent quotes, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	repo, closeRepo, err := a.openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	quotes, err := repo.GetAll(ctx, opts.Symbol, opts.Limit)
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		fmt.Fprintln(os.Stdout, "no quotes found")
		return nil
	}
	writeQuotes(os.Stdout, quotes)
	return nil
}

// Poll runs one fetch-enrich-store cycle and prints what was stored.
func (a *App) Poll(ctx context.Context) error {
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
	failover := a.newFailover(adapters)
	svc := service.New(failover, repo, pub, a.Metrics, opts, a.Logger)

	res, err := svc.PollOnce(ctx)
	if err != nil {
		return err
	}
	if len(res.Quotes) == 0 {
		fmt.Fprintln(os.Stdout, "no provider returned quotes")
	} else {
		writeQuotes(os.Stdout, res.Quotes)
	}

	health := failover.Health()
	for _, h := range health.Adapters {
		a.Logger.Debug().Str("adapter", h.Name).Str("breaker", h.Breaker).Str("last_error", h.LastError).Msg("adapter health")
	}
	return nil
}

func writeQuotes(w io.Writer, quotes []market.Quote) {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tOpen\tHigh\tLow\tClose\tChange\tChange%\tVolume\tSource")
	for _, q := range quotes {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			q.Timestamp.UTC().Format(time.RFC3339),
			q.Symbol,
			formatPrice(q.Open),
			formatPrice(q.High),
			formatPrice(q.Low),
			formatPrice(q.Close),
			formatPrice(q.Change),
			formatPrice(q.ChangePercent),
			q.Volume,
			q.Source,
		)
	}
	writer.Flush()
}
