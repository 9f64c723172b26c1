package app

import (
	"context"
	"errors"
	"fmt"

	"market-pulse/internal/market"
	"market-pulse/internal/storage"
)

// historySource yields historical bars for one symbol.
type historySource interface {
	History(ctx context.Context, symbol, interval, rng string) ([]market.Quote, error)
}

// Backfill 从 Yahoo 图表接口拉取历史 K 线并写入仓库，使充足性检查无需等待轮询积累。
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	symbols := opts.Symbols
	if len(symbols) == 0 {
		symbols = a.Config.Symbols
	}
	if opts.Interval == "" {
		opts.Interval = "1m"
	}
	if opts.Range == "" {
		opts.Range = "5d"
	}

	var repo storage.QuoteRepository
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		r, closeRepo, err := a.openRepo(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()
		repo = r
	}

	stored, failed, err := a.backfill(ctx, a.newYahoo(), repo, symbols, opts)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("stored", stored).Int("failed", failed).Msg("回填完成")
	if failed > 0 {
		return errors.New("部分 symbol 回填失败，请检查日志")
	}
	return nil
}

func (a *App) backfill(ctx context.Context, src historySource, repo storage.QuoteRepository, symbols []string, opts BackfillOptions) (int, int, error) {
	valid, rejected := market.PartitionSymbols(symbols)
	if len(rejected) > 0 {
		a.Logger.Warn().Strs("rejected", rejected).Msg("dropping malformed symbols")
	}

	stored, failed := 0, 0
	for _, symbol := range valid {
		select {
		case <-ctx.Done():
			return stored, failed, ctx.Err()
		default:
		}

		history, err := src.History(ctx, symbol, opts.Interval, opts.Range)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("symbol", symbol).Msg("回填失败")
			continue
		}

		fresh, err := newerThanStored(ctx, repo, symbol, history)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("symbol", symbol).Msg("读取最新记录失败")
			continue
		}
		if len(fresh) == 0 {
			a.Logger.Info().Str("symbol", symbol).Msg("no new bars")
			continue
		}
		if repo == nil {
			a.Logger.Info().Str("symbol", symbol).Int("bars", len(fresh)).Msg("dry-run: would store bars")
			continue
		}
		if _, err := repo.SaveBatch(ctx, fresh); err != nil {
			return stored, failed, fmt.Errorf("save %s history: %w", symbol, err)
		}
		stored += len(fresh)
		a.Logger.Info().Str("symbol", symbol).Int("bars", len(fresh)).Msg("history stored")
	}
	return stored, failed, nil
}

// newerThanStored drops bars at or before the newest stored quote so a rerun
// does not duplicate history.
func newerThanStored(ctx context.Context, repo storage.QuoteRepository, symbol string, history []market.Quote) ([]market.Quote, error) {
	if repo == nil {
		return history, nil
	}
	latest, ok, err := repo.GetLatest(ctx, symbol)
	if err != nil || !ok {
		return history, err
	}
	out := make([]market.Quote, 0, len(history))
	for _, q := range history {
		if q.Timestamp.After(latest.Timestamp) {
			out = append(out, q)
		}
	}
	return out, nil
}
