package series

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market-pulse/internal/market"
)

var t0 = time.Date(2025, 3, 3, 9, 15, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEnrichPassesQuotesWithOpenUnchanged(t *testing.T) {
	batch := []market.Quote{
		{Symbol: "NIFTY", Open: dec("22000"), Close: dec("22010.5"), Change: dec("3"), Timestamp: t0},
		{Symbol: "SENSEX", Open: dec("73000"), Close: dec("72950"), Timestamp: t0},
	}
	called := false
	out := Enrich(batch, func(string) (decimal.Decimal, bool) {
		called = true
		return dec("1"), true
	})
	require.Equal(t, batch, out)
	require.False(t, called, "有 open 的记录不应触发查询")
}

func TestEnrichUsesPreviousClose(t *testing.T) {
	batch := []market.Quote{{Symbol: "NIFTY", Close: dec("110"), Timestamp: t0}}
	out := Enrich(batch, func(sym string) (decimal.Decimal, bool) {
		require.Equal(t, "NIFTY", sym)
		return dec("100"), true
	})
	require.True(t, out[0].Open.Equal(dec("100")), "open = %s", out[0].Open)
	require.True(t, out[0].Change.Equal(dec("10")))
	require.True(t, out[0].ChangePercent.Equal(dec("10")))
}

func TestEnrichFallsBackToOwnClose(t *testing.T) {
	batch := []market.Quote{{Symbol: "NIFTY", Close: dec("110"), Timestamp: t0}}
	out := Enrich(batch, func(string) (decimal.Decimal, bool) { return decimal.Zero, false })
	require.True(t, out[0].Open.Equal(dec("110")))
	require.True(t, out[0].Change.IsZero())
}

func constantSeries(n int, price string) []market.Quote {
	out := make([]market.Quote, n)
	for i := range out {
		out[i] = market.Quote{Symbol: "NIFTY", Open: dec(price), Close: dec(price), Timestamp: t0.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func TestSufficiencyRejectsConstantSeries(t *testing.T) {
	verdict := CheckSufficiency(constantSeries(60, "100.00"))
	require.False(t, verdict.OK)
	require.Len(t, verdict.Reasons, 2, "range 与 std dev 两条原因: %v", verdict.Reasons)
}

func TestSufficiencyAcceptsVaryingSeries(t *testing.T) {
	quotes := constantSeries(60, "100")
	for i := range quotes {
		quotes[i].Close = dec("100").Add(decimal.NewFromInt(int64(i % 7)))
	}
	verdict := CheckSufficiency(quotes)
	require.True(t, verdict.OK, "%v", verdict.Reasons)
}

func TestSufficiencyRejectsRepeatedTimestamps(t *testing.T) {
	quotes := constantSeries(60, "100")
	for i := range quotes {
		quotes[i].Close = dec("100").Add(decimal.NewFromInt(int64(i)))
		quotes[i].Timestamp = t0.Add(time.Duration(i%5) * time.Second)
	}
	verdict := CheckSufficiency(quotes)
	require.False(t, verdict.OK)
	require.Contains(t, verdict.Reasons, "only 5 distinct timestamps, need 10")
}

func TestSufficiencyRejectsShortSeries(t *testing.T) {
	verdict := DefaultGate.Check(nil)
	require.False(t, verdict.OK)
	require.Contains(t, verdict.Reasons, "only 0 points, need 50")
}

func TestFromQuotesSortsAscending(t *testing.T) {
	quotes := constantSeries(3, "100")
	quotes[0], quotes[2] = quotes[2], quotes[0]
	bars := FromQuotes(quotes)
	require.True(t, bars[0].Time.Before(bars[1].Time))
	require.True(t, bars[1].Time.Before(bars[2].Time))
}

func TestResample(t *testing.T) {
	tf, err := ParseTimeframe("5m")
	require.NoError(t, err)

	var bars []Bar
	for i := 0; i < 12; i++ {
		c := 100 + float64(i)
		bars = append(bars, Bar{Time: t0.Add(time.Duration(i) * time.Minute), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10})
	}
	out := Resample(bars, tf)
	// 09:15-09:19, 09:20-09:24, 09:25-09:26
	require.Len(t, out, 3)
	require.Equal(t, 100.0, out[0].Open)
	require.Equal(t, 104.0, out[0].Close)
	require.Equal(t, 105.0, out[0].High)
	require.Equal(t, 99.0, out[0].Low)
	require.Equal(t, 50.0, out[0].Volume)
	require.Equal(t, 20.0, out[2].Volume)
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("1d")
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, tf.Duration)

	_, err = ParseTimeframe("bogus")
	require.Error(t, err)

	tfs, err := ParseTimeframes(DefaultTimeframes)
	require.NoError(t, err)
	require.Len(t, tfs, 4)
}

func TestGateLookbackCoversTimeframe(t *testing.T) {
	tfs, err := ParseTimeframes(DefaultTimeframes)
	require.NoError(t, err)

	require.Equal(t, 612, DefaultGate.Lookback(tfs[0], 5*time.Second))
	require.Equal(t, 36720, DefaultGate.Lookback(tfs[3], 5*time.Second))
	require.Equal(t, 51, DefaultGate.Lookback(tfs[0], 5*time.Minute), "轮询间隔大于周期时每行至多一根 K 线")
	require.Zero(t, DefaultGate.Lookback(tfs[0], 0))

	// 从分钟中间开始采样，首根 K 线不完整
	start := t0.Add(37 * time.Second)
	n := DefaultGate.Lookback(tfs[0], 5*time.Second)
	bars := make([]Bar, n)
	for i := range bars {
		c := 100 + float64(i%7)
		bars[i] = Bar{Time: start.Add(time.Duration(i) * 5 * time.Second), Open: c, High: c, Low: c, Close: c}
	}
	require.GreaterOrEqual(t, len(Resample(bars, tfs[0])), DefaultGate.MinPoints)
}
