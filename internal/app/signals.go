package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"market-pulse/internal/advisory"
	"market-pulse/internal/indicator"
	"market-pulse/internal/market"
	"market-pulse/internal/service"
	"market-pulse/internal/signal"
	"market-pulse/internal/storage"
)

// SignalsReport is the printable result of one analysis pass.
type SignalsReport struct {
	Symbols  map[string]service.Analysis    `json:"symbols" yaml:"symbols"`
	// Skipped maps symbols without enough data to the gate reasons per scope.
	Skipped  map[string]map[string][]string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Failed   map[string]string              `json:"failed,omitempty" yaml:"failed,omitempty"`
	Advisory *advisory.Analysis             `json:"advisory,omitempty" yaml:"advisory,omitempty"`
}

// Signals analyses stored quotes and prints per-symbol decisions.
func (a *App) Signals(ctx context.Context, opts SignalsOptions) error {
	repo, closeRepo, err := a.openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	report, err := a.analyze(ctx, repo, opts.Advise)
	if err != nil {
		return err
	}
	return writeReport(os.Stdout, opts.Format, report)
}

func (a *App) analyze(ctx context.Context, repo storage.QuoteRepository, advise bool) (SignalsReport, error) {
	opts, err := a.serviceOptions()
	if err != nil {
		return SignalsReport{}, err
	}
	svc := service.New(nil, repo, nil, a.Metrics, opts, a.Logger)
	res, err := svc.AnalyzeOnce(ctx)
	if err != nil {
		return SignalsReport{}, err
	}
	results := res.Symbols

	report := SignalsReport{Symbols: results}
	if len(res.Skipped) > 0 {
		report.Skipped = res.Skipped
	}
	if len(res.Failed) > 0 {
		report.Failed = res.Failed
	}

	if advise {
		in := advisory.Input{
			Series:     make(map[string][]market.Quote, len(results)),
			Indicators: make(map[string]map[string]indicator.Set, len(results)),
			Consensus:  make(map[string]signal.ConsensusDecision, len(results)),
		}
		for sym, r := range results {
			in.Indicators[sym] = r.Indicators
			in.Consensus[sym] = r.Consensus
			if quotes, err := repo.GetAll(ctx, sym, svc.Window()); err == nil {
				in.Series[sym] = quotes
			}
		}
		analysis := advisory.Safe(ctx, advisory.Rules{}, in, a.Logger)
		report.Advisory = &analysis
	}
	return report, nil
}

func writeReport(w io.Writer, format string, report SignalsReport) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	case "", "table":
		writeSignalsTable(w, report)
		return nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func writeSignalsTable(w io.Writer, report SignalsReport) {
	symbols := sortedKeys(report.Symbols)

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tTimeframe\tSignal\tStrength\tRSI\tMACD\tEMA20\tEMA50\tSupertrend\tReasons")
	for _, sym := range symbols {
		r := report.Symbols[sym]
		for _, tf := range r.Consensus.Timeframes {
			d := r.Decisions[tf]
			set := r.Indicators[tf]
			fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%.1f\t%.2f\t%.2f\t%.2f\t%s\t%s\n",
				sym, tf, d.Signal, d.Strength, set.RSI, set.MACD.Histogram, set.EMA20, set.EMA50,
				set.Supertrend.Direction, strings.Join(d.Reasoning, ","))
		}
		c := r.Consensus
		fmt.Fprintf(writer, "%s\tconsensus\t%s\t%d\t\t\t\t\t\tbuy=%d sell=%d hold=%d\n",
			sym, c.Signal, c.Strength, c.Counts.Buy, c.Counts.Sell, c.Counts.Hold)
	}
	writer.Flush()

	for _, sym := range sortedKeys(report.Skipped) {
		scopes := report.Skipped[sym]
		parts := make([]string, 0, len(scopes))
		for _, scope := range sortedKeys(scopes) {
			parts = append(parts, fmt.Sprintf("%s: %s", scope, strings.Join(scopes[scope], "; ")))
		}
		fmt.Fprintf(w, "insufficient data: %s (%s)\n", sym, strings.Join(parts, " | "))
	}
	for _, sym := range sortedKeys(report.Failed) {
		fmt.Fprintf(w, "analysis failed: %s: %s\n", sym, report.Failed[sym])
	}
	if report.Advisory != nil {
		fmt.Fprintf(w, "advisory: %s (confidence %d) %s\n", report.Advisory.Sentiment, report.Advisory.Confidence, report.Advisory.Text)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
