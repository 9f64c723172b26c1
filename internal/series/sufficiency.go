package series

import (
	"fmt"
	"math"
	"time"

	"market-pulse/internal/indicator"
	"market-pulse/internal/market"
)

// Gate holds the thresholds a series must meet before indicators run.
type Gate struct {
	MinPoints     int
	MinRange      float64
	MinStdDev     float64
	MinTimestamps int
}

// DefaultGate rejects degenerate histories.
var DefaultGate = Gate{
	MinPoints:     50,
	MinRange:      1,
	MinStdDev:     0.001,
	MinTimestamps: 10,
}

// Sufficiency is the gate verdict with every failing reason.
type Sufficiency struct {
	OK      bool
	Reasons []string
}

// Lookback returns how many rows stored every interval are needed to build
// g.MinPoints candles of tf. One extra candle covers a partly filled leading
// bucket. It returns 0 when interval or tf is unset.
func (g Gate) Lookback(tf Timeframe, interval time.Duration) int {
	if interval <= 0 || tf.Duration <= 0 {
		return 0
	}
	perCandle := int((tf.Duration + interval - 1) / interval)
	if perCandle < 1 {
		perCandle = 1
	}
	return (g.MinPoints + 1) * perCandle
}

// CheckSufficiency applies DefaultGate to stored quotes.
func CheckSufficiency(quotes []market.Quote) Sufficiency {
	return DefaultGate.Check(FromQuotes(quotes))
}

// Check evaluates bars against the gate thresholds.
func (g Gate) Check(bars []Bar) Sufficiency {
	var reasons []string
	if len(bars) < g.MinPoints {
		reasons = append(reasons, fmt.Sprintf("only %d points, need %d", len(bars), g.MinPoints))
	}

	closes := make([]float64, 0, len(bars))
	stamps := make(map[int64]struct{}, len(bars))
	for _, b := range bars {
		stamps[b.Time.UnixNano()] = struct{}{}
		if b.Close > 0 && !math.IsNaN(b.Close) && !math.IsInf(b.Close, 0) {
			closes = append(closes, b.Close)
		}
	}
	if len(closes) < g.MinPoints {
		reasons = append(reasons, fmt.Sprintf("only %d positive closes, need %d", len(closes), g.MinPoints))
	}

	if len(closes) > 0 {
		lo, hi := closes[0], closes[0]
		for _, c := range closes[1:] {
			lo = math.Min(lo, c)
			hi = math.Max(hi, c)
		}
		if hi-lo < g.MinRange {
			reasons = append(reasons, fmt.Sprintf("price range %.4f below %.4f", hi-lo, g.MinRange))
		}
		if sd := indicator.StdDev(closes); sd < g.MinStdDev {
			reasons = append(reasons, fmt.Sprintf("std dev %.6f below %.6f", sd, g.MinStdDev))
		}
	} else {
		reasons = append(reasons, "no usable closes")
	}

	if len(stamps) < g.MinTimestamps {
		reasons = append(reasons, fmt.Sprintf("only %d distinct timestamps, need %d", len(stamps), g.MinTimestamps))
	}

	return Sufficiency{OK: len(reasons) == 0, Reasons: reasons}
}
