package fetcher

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"market-pulse/internal/market"
)

// DefaultSimulatedPrices seed the random walk per symbol.
var DefaultSimulatedPrices = map[string]float64{
	"NIFTY":     22000,
	"BANKNIFTY": 47000,
	"SENSEX":    73000,
	"SPX":       5000,
}

// SimulatedOptions parameterise the random walk.
type SimulatedOptions struct {
	Seed       int64
	Volatility float64
	Step       time.Duration
	Start      time.Time
	Prices     map[string]float64
}

// Simulated produces a seedable random walk. Each Fetch advances an internal
// clock by Step so timestamps are distinct.
type Simulated struct {
	mu     sync.Mutex
	opts   SimulatedOptions
	rng    *rand.Rand
	prices map[string]float64
	clock  time.Time
}

// NewSimulated builds the adapter.
func NewSimulated(opts SimulatedOptions) *Simulated {
	if opts.Volatility <= 0 {
		opts.Volatility = 0.002
	}
	if opts.Step <= 0 {
		opts.Step = 5 * time.Second
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().UTC()
	}
	if opts.Prices == nil {
		opts.Prices = DefaultSimulatedPrices
	}
	prices := make(map[string]float64, len(opts.Prices))
	for k, v := range opts.Prices {
		prices[k] = v
	}
	return &Simulated{
		opts:   opts,
		rng:    rand.New(rand.NewSource(opts.Seed)),
		prices: prices,
		clock:  opts.Start,
	}
}

// Name implements Adapter.
func (s *Simulated) Name() string { return "simulated" }

// Fetch implements Adapter.
func (s *Simulated) Fetch(ctx context.Context, symbols []string) ([]market.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock = s.clock.Add(s.opts.Step)
	quotes := make([]market.Quote, 0, len(symbols))
	for _, sym := range symbols {
		prev, ok := s.prices[sym]
		if !ok {
			prev = 100 + float64(s.rng.Intn(900))
		}
		next := prev * (1 + s.rng.NormFloat64()*s.opts.Volatility)
		next = math.Max(next, 0.01)
		spread := math.Abs(next-prev) + prev*s.opts.Volatility/2
		s.prices[sym] = next

		q := market.Quote{
			Symbol:    sym,
			Volume:    int64(1000 + s.rng.Intn(9000)),
			Timestamp: s.clock,
			Source:    s.Name(),
		}
		q.Open, _ = market.PriceFromFloat(prev)
		q.Close, _ = market.PriceFromFloat(next)
		q.High, _ = market.PriceFromFloat(math.Max(prev, next) + spread/2)
		q.Low, _ = market.PriceFromFloat(math.Min(prev, next) - spread/2)
		quotes = append(quotes, q.WithChangeFrom(q.Open))
	}
	return quotes, nil
}
