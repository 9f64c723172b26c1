package indicator

import "math"

// EMA returns the exponential moving average of prices seeded with the first
// price, using multiplier 2/(period+1). When the series is not longer than
// period the last price is returned unchanged.
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if period <= 0 || len(prices) <= period {
		return prices[len(prices)-1]
	}
	k := 2.0 / float64(period+1)
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = (p-ema)*k + ema
	}
	return ema
}

// EMALine returns, for every index i, EMA(prices[:i+1], period).
func EMALine(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	if len(prices) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	ema := prices[0]
	for i, p := range prices {
		if i > 0 {
			ema = (p-ema)*k + ema
		}
		if period <= 0 || i+1 <= period {
			out[i] = p
		} else {
			out[i] = ema
		}
	}
	return out
}

// SMA is the arithmetic mean of the last period prices (all when shorter).
func SMA(prices []float64, period int) float64 {
	window := tail(prices, period)
	if len(window) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range window {
		sum += p
	}
	return sum / float64(len(window))
}

// StdDev is the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

// VWAP is the volume-weighted mean price; it falls back to the last price
// when the total volume is zero.
func VWAP(prices, volumes []float64) float64 {
	n := len(prices)
	if len(volumes) < n {
		n = len(volumes)
	}
	if len(prices) == 0 {
		return 0
	}
	var pv, vol float64
	for i := 0; i < n; i++ {
		if volumes[i] <= 0 {
			continue
		}
		pv += prices[i] * volumes[i]
		vol += volumes[i]
	}
	if vol == 0 {
		return prices[len(prices)-1]
	}
	return pv / vol
}

func tail(values []float64, n int) []float64 {
	if n <= 0 || n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}
