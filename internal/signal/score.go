package signal

import (
	"math"

	"market-pulse/internal/indicator"
)

// Action is a directional call.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// Reasoning labels, emitted in evaluation order.
const (
	ReasonRSIOversold     = "rsi_oversold"
	ReasonRSIWeak         = "rsi_weak"
	ReasonRSIStrong       = "rsi_strong"
	ReasonRSIOverbought   = "rsi_overbought"
	ReasonMACDBullish     = "macd_bullish"
	ReasonMACDAboveSignal = "macd_above_signal"
	ReasonMACDBelowSignal = "macd_below_signal"
	ReasonMACDBearish     = "macd_bearish"
	ReasonEMAUptrend      = "ema20_above_ema50"
	ReasonEMADowntrend    = "ema20_below_ema50"
	ReasonSupertrendLong  = "supertrend_long"
	ReasonSupertrendShort = "supertrend_short"
)

const (
	buyThreshold  = 1
	sellThreshold = -1
	minStrength   = 10
	maxStrength   = 100
)

// Decision is the scorer output for one indicator set.
type Decision struct {
	Signal    Action   `json:"signal" yaml:"signal"`
	Strength  int      `json:"strength" yaml:"strength"`
	Score     int      `json:"score" yaml:"score"`
	Reasoning []string `json:"reasoning" yaml:"reasoning"`
}

// Score applies the additive rule table to set.
func Score(set indicator.Set) Decision {
	score := 0
	var reasons []string
	add := func(points int, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	switch rsi := set.RSI; {
	case rsi < 35:
		add(3, ReasonRSIOversold)
	case rsi <= 45:
		add(1, ReasonRSIWeak)
	case rsi >= 55 && rsi <= 65:
		add(-1, ReasonRSIStrong)
	case rsi > 65:
		add(-3, ReasonRSIOverbought)
	}

	m := set.MACD
	switch {
	case m.MACD > m.Signal && m.Histogram > 0:
		add(2, ReasonMACDBullish)
	case m.MACD > m.Signal:
		add(1, ReasonMACDAboveSignal)
	case m.MACD < m.Signal && m.Histogram < 0:
		add(-2, ReasonMACDBearish)
	case m.MACD < m.Signal:
		add(-1, ReasonMACDBelowSignal)
	}

	if set.EMA20 > set.EMA50 {
		add(2, ReasonEMAUptrend)
	} else {
		add(-2, ReasonEMADowntrend)
	}

	if set.Supertrend.Direction == indicator.Long {
		add(1, ReasonSupertrendLong)
	} else {
		add(-1, ReasonSupertrendShort)
	}

	action := Hold
	switch {
	case score > buyThreshold:
		action = Buy
	case score < sellThreshold:
		action = Sell
	}

	return Decision{
		Signal:    action,
		Strength:  strength(score),
		Score:     score,
		Reasoning: reasons,
	}
}

func strength(score int) int {
	s := int(math.Abs(float64(score)))*15 + 20
	if s < minStrength {
		return minStrength
	}
	if s > maxStrength {
		return maxStrength
	}
	return s
}
