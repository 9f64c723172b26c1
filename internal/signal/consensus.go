package signal

import (
	"math"
	"sort"
)

// Counts tallies per-timeframe votes.
type Counts struct {
	Buy  int `json:"buy" yaml:"buy"`
	Sell int `json:"sell" yaml:"sell"`
	Hold int `json:"hold" yaml:"hold"`
}

// Total is the number of timeframes that voted.
func (c Counts) Total() int { return c.Buy + c.Sell + c.Hold }

// ConsensusDecision aggregates one symbol's timeframe decisions.
type ConsensusDecision struct {
	Signal     Action   `json:"signal" yaml:"signal"`
	Strength   int      `json:"strength" yaml:"strength"`
	Counts     Counts   `json:"counts" yaml:"counts"`
	Timeframes []string `json:"timeframes" yaml:"timeframes"`
}

// Consensus combines decisions keyed by timeframe with a majority vote.
// Timeframes absent from the map do not count. A tie for the lead, or a HOLD
// lead, resolves to HOLD with HOLD's share as strength.
func Consensus(decisions map[string]Decision) ConsensusDecision {
	var out ConsensusDecision
	for tf, d := range decisions {
		out.Timeframes = append(out.Timeframes, tf)
		switch d.Signal {
		case Buy:
			out.Counts.Buy++
		case Sell:
			out.Counts.Sell++
		default:
			out.Counts.Hold++
		}
	}
	sort.Strings(out.Timeframes)

	total := out.Counts.Total()
	if total == 0 {
		out.Signal = Hold
		return out
	}

	share := func(n int) int {
		return int(math.Round(float64(n) / float64(total) * 100))
	}

	c := out.Counts
	switch {
	case c.Buy > c.Sell && c.Buy > c.Hold:
		out.Signal = Buy
		out.Strength = share(c.Buy)
	case c.Sell > c.Buy && c.Sell > c.Hold:
		out.Signal = Sell
		out.Strength = share(c.Sell)
	default:
		out.Signal = Hold
		out.Strength = share(c.Hold)
	}
	return out
}
