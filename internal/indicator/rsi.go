package indicator

// RSI computes Wilder's smoothed relative strength index over prices
// (oldest first). The first period changes bootstrap the averages.
// Returns 50 when fewer than period+1 samples are available and 100 when the
// average loss is exactly zero.
func RSI(prices []float64, period int) float64 {
	if period <= 0 {
		period = DefaultParams.RSIPeriod
	}
	if len(prices) < period+1 {
		return 50
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rsi := 100 - 100/(1+avgGain/avgLoss)
	return clamp(rsi, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
