package service

import (
	"context"
	"fmt"

	"market-pulse/internal/indicator"
	"market-pulse/internal/publish"
	"market-pulse/internal/series"
	"market-pulse/internal/signal"
)

// Analysis is the indicator and signal output for one symbol.
type Analysis struct {
	Symbol     string                     `json:"symbol" yaml:"symbol"`
	Consensus  signal.ConsensusDecision   `json:"consensus" yaml:"consensus"`
	Decisions  map[string]signal.Decision `json:"decisions" yaml:"decisions"`
	Indicators map[string]indicator.Set   `json:"indicators" yaml:"indicators"`
	// Rejected lists timeframes that failed the sufficiency gate.
	Rejected map[string][]string `json:"rejected,omitempty" yaml:"rejected,omitempty"`
}

// Results is the outcome of one analysis pass.
type Results struct {
	// Symbols holds every symbol with at least one timeframe that passed.
	Symbols map[string]Analysis
	// Skipped maps a symbol left out for lack of data to its gate reasons,
	// keyed by "raw" or timeframe label.
	Skipped map[string]map[string][]string
	// Failed maps a symbol whose series could not be loaded to the error.
	Failed map[string]string
}

// AnalyzeOnce analyses every configured symbol and publishes one
// signal.update per symbol that had enough data. A symbol that fails the
// sufficiency gate or cannot be loaded does not stop the others.
func (s *Service) AnalyzeOnce(ctx context.Context) (Results, error) {
	res := Results{
		Symbols: make(map[string]Analysis, len(s.opts.Symbols)),
		Skipped: make(map[string]map[string][]string),
		Failed:  make(map[string]string),
	}
	for _, symbol := range s.opts.Symbols {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		a, ok, err := s.AnalyzeSymbol(ctx, symbol)
		if err != nil {
			res.Failed[symbol] = err.Error()
			s.metrics.Cycle("analysis_symbol", "error")
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("analysis failed for symbol")
			continue
		}
		if !ok {
			res.Skipped[symbol] = a.Rejected
			continue
		}
		res.Symbols[symbol] = a
		s.publishSignal(ctx, a)
	}

	outcome := "ok"
	if len(res.Failed) > 0 {
		outcome = "partial"
	}
	s.metrics.Cycle("analysis", outcome)
	s.logger.Info().
		Int("symbols", len(res.Symbols)).
		Int("skipped", len(res.Skipped)).
		Int("failed", len(res.Failed)).
		Int("configured", len(s.opts.Symbols)).
		Int("window", s.window).
		Msg("analysis complete")
	return res, nil
}

// AnalyzeSymbol gates the stored series, resamples it per timeframe, gates
// each timeframe, scores those that pass and combines them. ok is false when
// the symbol has too little data to say anything; the returned Analysis then
// still carries the gate reasons in Rejected.
func (s *Service) AnalyzeSymbol(ctx context.Context, symbol string) (Analysis, bool, error) {
	quotes, err := s.repo.GetAll(ctx, symbol, s.window)
	if err != nil {
		return Analysis{Symbol: symbol}, false, fmt.Errorf("load %s series: %w", symbol, err)
	}
	bars := series.FromQuotes(quotes)

	a := Analysis{
		Symbol:     symbol,
		Decisions:  make(map[string]signal.Decision, len(s.opts.Timeframes)),
		Indicators: make(map[string]indicator.Set, len(s.opts.Timeframes)),
	}
	reject := func(scope string, reasons []string) {
		if a.Rejected == nil {
			a.Rejected = make(map[string][]string)
		}
		a.Rejected[scope] = reasons
		s.metrics.GateRejected(symbol, scope)
	}

	if verdict := s.opts.Gate.Check(bars); !verdict.OK {
		reject("raw", verdict.Reasons)
		s.logger.Debug().Str("symbol", symbol).Strs("reasons", verdict.Reasons).Msg("insufficient data, symbol skipped")
		return a, false, nil
	}

	for _, tf := range s.opts.Timeframes {
		sampled := series.Resample(bars, tf)
		if verdict := s.opts.Gate.Check(sampled); !verdict.OK {
			reject(tf.Label, verdict.Reasons)
			continue
		}
		set := s.opts.Compute(series.Input(sampled), s.opts.Params)
		a.Indicators[tf.Label] = set
		a.Decisions[tf.Label] = signal.Score(set)
	}
	if len(a.Decisions) == 0 {
		s.logger.Debug().Str("symbol", symbol).Interface("rejected", a.Rejected).Msg("no timeframe had enough data")
		return a, false, nil
	}

	a.Consensus = signal.Consensus(a.Decisions)
	s.metrics.SignalStrength(symbol, string(a.Consensus.Signal), a.Consensus.Strength)
	return a, true, nil
}

// publishSignal emits the consensus and marks whether it moved. The first
// observation of a symbol counts as a change only when it is not HOLD.
func (s *Service) publishSignal(ctx context.Context, a Analysis) {
	s.mu.Lock()
	prev, seen := s.last[a.Symbol]
	s.last[a.Symbol] = a.Consensus.Signal
	s.mu.Unlock()

	changed := prev != a.Consensus.Signal
	if !seen {
		changed = a.Consensus.Signal != signal.Hold
	}

	s.publish(ctx, publish.NewSignalEvent(a.Symbol, s.now(), publish.SignalUpdate{
		Consensus:  a.Consensus,
		Decisions:  a.Decisions,
		Indicators: a.Indicators,
		Previous:   prev,
		Changed:    changed,
	}))
}

// LastSignals returns the most recently published consensus per symbol.
func (s *Service) LastSignals() map[string]signal.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]signal.Action, len(s.last))
	for k, v := range s.last {
		out[k] = v
	}
	return out
}
