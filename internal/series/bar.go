package series

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"market-pulse/internal/indicator"
	"market-pulse/internal/market"
)

// Bar is one OHLCV candle in float space, ready for indicator math.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// FromQuotes converts stored quotes into bars sorted oldest first. Repositories
// return newest first and do not guarantee timestamp order, so sorting here is
// mandatory.
func FromQuotes(quotes []market.Quote) []Bar {
	bars := make([]Bar, 0, len(quotes))
	for _, q := range quotes {
		bars = append(bars, Bar{
			Time:   q.Timestamp,
			Open:   q.Open.InexactFloat64(),
			High:   q.High.InexactFloat64(),
			Low:    q.Low.InexactFloat64(),
			Close:  q.CloseFloat(),
			Volume: float64(q.Volume),
		})
	}
	return Chronological(bars)
}

// Chronological sorts bars by time in place (stable) and returns them.
func Chronological(bars []Bar) []Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars
}

// Input projects bars into indicator columns. A missing high or low falls
// back to the close.
func Input(bars []Bar) indicator.Input {
	in := indicator.Input{
		Closes:  make([]float64, len(bars)),
		Highs:   make([]float64, len(bars)),
		Lows:    make([]float64, len(bars)),
		Volumes: make([]float64, len(bars)),
	}
	for i, b := range bars {
		in.Closes[i] = b.Close
		in.Highs[i] = b.High
		in.Lows[i] = b.Low
		if b.High <= 0 {
			in.Highs[i] = b.Close
		}
		if b.Low <= 0 {
			in.Lows[i] = b.Close
		}
		in.Volumes[i] = b.Volume
	}
	return in
}

// Closes returns the close column of bars.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Timeframe is a bucket width such as 1m or 1h.
type Timeframe struct {
	Label    string
	Duration time.Duration
}

// String implements fmt.Stringer.
func (tf Timeframe) String() string { return tf.Label }

// DefaultTimeframes are the consensus timeframes used when none are configured.
var DefaultTimeframes = []string{"1m", "5m", "15m", "1h"}

// ParseTimeframe accepts Go durations plus a trailing "d" for days.
func ParseTimeframe(label string) (Timeframe, error) {
	label = strings.TrimSpace(strings.ToLower(label))
	if label == "" {
		return Timeframe{}, fmt.Errorf("empty timeframe")
	}
	var d time.Duration
	if strings.HasSuffix(label, "d") {
		var days int
		if _, err := fmt.Sscanf(label, "%dd", &days); err != nil || days <= 0 {
			return Timeframe{}, fmt.Errorf("parse timeframe %q", label)
		}
		d = time.Duration(days) * 24 * time.Hour
	} else {
		parsed, err := time.ParseDuration(label)
		if err != nil {
			return Timeframe{}, fmt.Errorf("parse timeframe %q: %w", label, err)
		}
		d = parsed
	}
	if d <= 0 {
		return Timeframe{}, fmt.Errorf("timeframe %q must be positive", label)
	}
	return Timeframe{Label: label, Duration: d}, nil
}

// ParseTimeframes parses labels in order, failing on the first bad one.
func ParseTimeframes(labels []string) ([]Timeframe, error) {
	out := make([]Timeframe, 0, len(labels))
	for _, l := range labels {
		tf, err := ParseTimeframe(l)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// Resample buckets chronological bars into tf-wide candles aligned to the
// epoch. Each candle takes the first open, the extreme high and low, the last
// close and the summed volume of the bars it covers.
func Resample(bars []Bar, tf Timeframe) []Bar {
	if len(bars) == 0 || tf.Duration <= 0 {
		return nil
	}
	var out []Bar
	var cur Bar
	started := false
	for _, b := range bars {
		start := b.Time.Truncate(tf.Duration)
		if !started || !start.Equal(cur.Time) {
			if started {
				out = append(out, cur)
			}
			cur = Bar{Time: start, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
			if cur.Open <= 0 {
				cur.Open = b.Close
			}
			started = true
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low > 0 && (cur.Low <= 0 || b.Low < cur.Low) {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	if started {
		out = append(out, cur)
	}
	return out
}
