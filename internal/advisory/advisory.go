package advisory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"market-pulse/internal/indicator"
	"market-pulse/internal/market"
	"market-pulse/internal/signal"
)

// Sentiment labels.
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// Input is everything an advisor may look at for one request.
type Input struct {
	Series     map[string][]market.Quote           `json:"series"`
	Indicators map[string]map[string]indicator.Set `json:"indicators"`
	Consensus  map[string]signal.ConsensusDecision `json:"consensus"`
}

// Empty reports whether there is nothing to advise on.
func (in Input) Empty() bool {
	return len(in.Indicators) == 0 && len(in.Consensus) == 0
}

// Analysis is an advisor's opaque verdict.
type Analysis struct {
	Sentiment  string   `json:"sentiment" yaml:"sentiment"`
	Confidence int      `json:"confidence" yaml:"confidence"`
	Signals    []string `json:"signals" yaml:"signals"`
	Text       string   `json:"text" yaml:"text"`
}

// NoData is returned when no advice can be produced.
var NoData = Analysis{
	Sentiment:  Neutral,
	Confidence: 0,
	Signals:    []string{},
	Text:       "Insufficient market data for analysis.",
}

// IsNoData reports whether a is the NoData sentinel.
func IsNoData(a Analysis) bool {
	return a.Sentiment == NoData.Sentiment && a.Confidence == 0 && a.Text == NoData.Text
}

// Advisor turns indicator output into an analysis.
type Advisor interface {
	Advise(ctx context.Context, in Input) (Analysis, error)
}

// NoDataAdvisor always answers NoData.
type NoDataAdvisor struct{}

// Advise implements Advisor.
func (NoDataAdvisor) Advise(context.Context, Input) (Analysis, error) { return NoData, nil }

// Safe calls a exactly once and degrades to NoData on empty input or error.
func Safe(ctx context.Context, a Advisor, in Input, logger zerolog.Logger) Analysis {
	if a == nil || in.Empty() {
		return NoData
	}
	out, err := a.Advise(ctx, in)
	if err != nil {
		logger.Warn().Err(err).Str("component", "advisory").Msg("advisor failed, falling back to no-data")
		return NoData
	}
	return out
}

// Rules summarises consensus decisions without an external model.
type Rules struct{}

// Advise votes across symbols. Confidence is the mean consensus strength of
// the symbols agreeing with the winning sentiment.
func (Rules) Advise(ctx context.Context, in Input) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	if len(in.Consensus) == 0 {
		return NoData, nil
	}

	symbols := make([]string, 0, len(in.Consensus))
	for s := range in.Consensus {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var buy, sell int
	signals := make([]string, 0, len(symbols))
	for _, s := range symbols {
		d := in.Consensus[s]
		signals = append(signals, fmt.Sprintf("%s:%s:%d", s, d.Signal, d.Strength))
		switch d.Signal {
		case signal.Buy:
			buy++
		case signal.Sell:
			sell++
		}
	}

	sentiment, want := Neutral, signal.Hold
	switch {
	case buy > sell:
		sentiment, want = Bullish, signal.Buy
	case sell > buy:
		sentiment, want = Bearish, signal.Sell
	}

	var total, n int
	for _, s := range symbols {
		if d := in.Consensus[s]; d.Signal == want {
			total += d.Strength
			n++
		}
	}
	confidence := 0
	if n > 0 {
		confidence = total / n
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%d of %d symbols lean %s", n, len(symbols), sentiment)
	if buy > 0 || sell > 0 {
		fmt.Fprintf(&text, " (buy %d, sell %d)", buy, sell)
	}
	text.WriteString(".")

	return Analysis{
		Sentiment:  sentiment,
		Confidence: confidence,
		Signals:    signals,
		Text:       text.String(),
	}, nil
}

var (
	_ Advisor = NoDataAdvisor{}
	_ Advisor = Rules{}
)
