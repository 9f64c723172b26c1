package indicator

import "math"

// MACDValue holds the MACD line, its signal line and the histogram.
type MACDValue struct {
	MACD      float64 `json:"macd" yaml:"macd"`
	Signal    float64 `json:"signal" yaml:"signal"`
	Histogram float64 `json:"histogram" yaml:"histogram"`
}

// MACD computes EMA(fast) - EMA(slow). The signal line is the rolling
// signalPeriod EMA over the MACD history, so histogram = macd - signal.
func MACD(prices []float64, fast, slow, signalPeriod int) MACDValue {
	if len(prices) == 0 {
		return MACDValue{}
	}
	fastLine := EMALine(prices, fast)
	slowLine := EMALine(prices, slow)
	history := make([]float64, len(prices))
	for i := range prices {
		history[i] = fastLine[i] - slowLine[i]
	}
	macd := history[len(history)-1]
	signal := EMA(history, signalPeriod)
	return MACDValue{MACD: macd, Signal: signal, Histogram: macd - signal}
}

// BollingerBands is an SMA envelope at +/- k standard deviations.
type BollingerBands struct {
	Upper  float64 `json:"upper" yaml:"upper"`
	Middle float64 `json:"middle" yaml:"middle"`
	Lower  float64 `json:"lower" yaml:"lower"`
}

// Bollinger computes the bands over the last period prices using the
// population standard deviation. With fewer than period samples the band is
// approximated as the last price +/- 2%.
func Bollinger(prices []float64, period int, mult float64) BollingerBands {
	if len(prices) == 0 {
		return BollingerBands{}
	}
	if period <= 0 || len(prices) < period {
		last := prices[len(prices)-1]
		return BollingerBands{Upper: last * 1.02, Middle: last, Lower: last * 0.98}
	}
	window := tail(prices, period)
	middle := SMA(window, period)
	sd := StdDev(window)
	return BollingerBands{
		Upper:  middle + mult*sd,
		Middle: middle,
		Lower:  middle - mult*sd,
	}
}

// Direction of a supertrend band.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// SupertrendValue is the active band and its direction.
type SupertrendValue struct {
	Value     float64   `json:"value" yaml:"value"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// ATR is the mean true range over the last period samples.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := minLen(highs, lows, closes)
	if n == 0 {
		return 0
	}
	ranges := make([]float64, n)
	for i := 0; i < n; i++ {
		tr := highs[i] - lows[i]
		if i > 0 {
			prev := closes[i-1]
			tr = math.Max(tr, math.Max(math.Abs(highs[i]-prev), math.Abs(lows[i]-prev)))
		}
		ranges[i] = math.Abs(tr)
	}
	return SMA(ranges, period)
}

// Supertrend computes a simplified supertrend: band = mid(high,low) +/- mult*ATR.
// SHORT when the last close is at or below the lower band, LONG otherwise;
// Value is the lower band for LONG and the upper band for SHORT.
func Supertrend(highs, lows, closes []float64, period int, mult float64) SupertrendValue {
	n := minLen(highs, lows, closes)
	if n == 0 {
		return SupertrendValue{Direction: Long}
	}
	atr := ATR(highs[:n], lows[:n], closes[:n], period)
	mid := (highs[n-1] + lows[n-1]) / 2
	upper := mid + mult*atr
	lower := mid - mult*atr
	if closes[n-1] <= lower {
		return SupertrendValue{Value: upper, Direction: Short}
	}
	return SupertrendValue{Value: lower, Direction: Long}
}

func minLen(series ...[]float64) int {
	n := -1
	for _, s := range series {
		if n < 0 || len(s) < n {
			n = len(s)
		}
	}
	if n < 0 {
		return 0
	}
	return n
}
