package signal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"market-pulse/internal/indicator"
)

func bullish() indicator.Set {
	return indicator.Set{
		RSI:        30,
		MACD:       indicator.MACDValue{MACD: 2, Signal: 1, Histogram: 1},
		EMA20:      105,
		EMA50:      100,
		Supertrend: indicator.SupertrendValue{Direction: indicator.Long},
	}
}

func TestScoreBullish(t *testing.T) {
	d := Score(bullish())
	require.Equal(t, Buy, d.Signal)
	require.Equal(t, 8, d.Score)
	require.Equal(t, 100, d.Strength)
	require.Equal(t, []string{ReasonRSIOversold, ReasonMACDBullish, ReasonEMAUptrend, ReasonSupertrendLong}, d.Reasoning)
}

func TestScoreBearish(t *testing.T) {
	d := Score(indicator.Set{
		RSI:        70,
		MACD:       indicator.MACDValue{MACD: -2, Signal: -1, Histogram: -1},
		EMA20:      95,
		EMA50:      100,
		Supertrend: indicator.SupertrendValue{Direction: indicator.Short},
	})
	require.Equal(t, Sell, d.Signal)
	require.Equal(t, -8, d.Score)
	require.Equal(t, 100, d.Strength)
}

func TestScoreNeutralHolds(t *testing.T) {
	// RSI neutral, MACD flat, EMA down (-2), supertrend long (+1) => -1
	d := Score(indicator.Set{
		RSI:        50,
		EMA20:      100,
		EMA50:      100,
		Supertrend: indicator.SupertrendValue{Direction: indicator.Long},
	})
	require.Equal(t, Hold, d.Signal)
	require.Equal(t, -1, d.Score)
	require.Equal(t, 35, d.Strength)
}

func TestScoreRSIBands(t *testing.T) {
	cases := []struct {
		rsi    float64
		reason string
	}{
		{34.9, ReasonRSIOversold},
		{35, ReasonRSIWeak},
		{45, ReasonRSIWeak},
		{55, ReasonRSIStrong},
		{65, ReasonRSIStrong},
		{65.1, ReasonRSIOverbought},
	}
	for _, tc := range cases {
		set := bullish()
		set.RSI = tc.rsi
		d := Score(set)
		require.Equal(t, tc.reason, d.Reasoning[0], "rsi=%v", tc.rsi)
	}

	set := bullish()
	set.RSI = 50
	require.Equal(t, ReasonMACDBullish, Score(set).Reasoning[0])
}

func TestConsensusMajority(t *testing.T) {
	c := Consensus(map[string]Decision{
		"1m":  {Signal: Buy},
		"5m":  {Signal: Buy},
		"15m": {Signal: Sell},
		"1h":  {Signal: Hold},
	})
	require.Equal(t, Buy, c.Signal)
	require.Equal(t, 50, c.Strength)
	require.Equal(t, Counts{Buy: 2, Sell: 1, Hold: 1}, c.Counts)
	require.Equal(t, []string{"15m", "1h", "1m", "5m"}, c.Timeframes)
}

func TestConsensusTieIsHold(t *testing.T) {
	c := Consensus(map[string]Decision{
		"1m": {Signal: Buy},
		"5m": {Signal: Sell},
		"1h": {Signal: Hold},
	})
	require.Equal(t, Hold, c.Signal)
	require.Equal(t, 33, c.Strength)
}

func TestConsensusMissingTimeframesExcluded(t *testing.T) {
	c := Consensus(map[string]Decision{"5m": {Signal: Sell}})
	require.Equal(t, Sell, c.Signal)
	require.Equal(t, 100, c.Strength)

	empty := Consensus(nil)
	require.Equal(t, Hold, empty.Signal)
	require.Zero(t, empty.Strength)
}

func TestConsensusAllHold(t *testing.T) {
	c := Consensus(map[string]Decision{"1m": {Signal: Hold}, "5m": {Signal: Hold}})
	require.Equal(t, Hold, c.Signal)
	require.Equal(t, 100, c.Strength)
}
