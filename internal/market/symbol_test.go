package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPartitionSymbols(t *testing.T) {
	valid, rejected := PartitionSymbols([]string{"nifty", " BANKNIFTY ", "NIFTY", "../etc", "A&B", "", "spx_500"})

	want := []string{"NIFTY", "BANKNIFTY", "SPX_500"}
	if len(valid) != len(want) {
		t.Fatalf("valid = %v, want %v", valid, want)
	}
	for i := range want {
		if valid[i] != want[i] {
			t.Fatalf("valid[%d] = %q, want %q", i, valid[i], want[i])
		}
	}
	if len(rejected) != 3 {
		t.Fatalf("应拒绝 3 个非法代码, 实际 %v", rejected)
	}
}

func TestQuoteNormalize(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 15, 0, 0, time.UTC)
	q := Quote{
		Symbol: "NIFTY",
		Close:  decimal.RequireFromString("22010.456"),
		Volume: -5,
	}.Normalize(now)

	if !q.Close.Equal(decimal.RequireFromString("22010.46")) {
		t.Fatalf("close should round to 2 places, got %s", q.Close)
	}
	if q.Volume != 0 {
		t.Fatalf("negative volume should clamp to 0, got %d", q.Volume)
	}
	if !q.Timestamp.Equal(now) {
		t.Fatalf("missing timestamp should default to capture time")
	}
}

func TestQuoteWithChangeFrom(t *testing.T) {
	q := Quote{Close: decimal.NewFromInt(110)}.WithChangeFrom(decimal.NewFromInt(100))
	if !q.Change.Equal(decimal.NewFromInt(10)) || !q.ChangePercent.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected change %s / %s", q.Change, q.ChangePercent)
	}

	flat := Quote{Close: decimal.NewFromInt(110)}.WithChangeFrom(decimal.Zero)
	if !flat.Change.IsZero() || !flat.ChangePercent.IsZero() {
		t.Fatalf("zero reference must not fabricate change")
	}
}

func TestPriceFromString(t *testing.T) {
	if _, ok := PriceFromString("n/a"); ok {
		t.Fatal("garbage should not parse")
	}
	d, ok := PriceFromString("101.239")
	if !ok || !d.Equal(decimal.RequireFromString("101.24")) {
		t.Fatalf("unexpected %s %v", d, ok)
	}
}
