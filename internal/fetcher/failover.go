package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"market-pulse/internal/market"
	"market-pulse/internal/metrics"
)

const defaultAdapterTimeout = 8 * time.Second

var errLowYield = errors.New("fetcher: adapter yield below threshold")

// FailoverOptions tune the failover fetcher.
type FailoverOptions struct {
	// Timeout bounds each adapter call independently of the poll interval.
	Timeout  time.Duration
	MinYield int
	Breaker  BreakerOptions
}

// AdapterHealth is the last observed outcome of one adapter.
type AdapterHealth struct {
	Name        string    `json:"name"`
	Breaker     string    `json:"breaker"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// Health summarises which adapter served the last cycle.
type Health struct {
	Winner   string          `json:"winner,omitempty"`
	WonAt    time.Time       `json:"won_at,omitempty"`
	Adapters []AdapterHealth `json:"adapters"`
}

type member struct {
	adapter Adapter
	breaker *quoteBreaker
}

// Failover tries adapters in priority order and returns the first result set
// that meets the minimum yield. Results are never merged across adapters.
type Failover struct {
	members []member
	opts    FailoverOptions
	metrics *metrics.Recorder
	logger  zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	health Health
	byName map[string]*AdapterHealth
}

// NewFailover builds a failover fetcher over adapters in the given order.
func NewFailover(adapters []Adapter, opts FailoverOptions, rec *metrics.Recorder, logger zerolog.Logger) *Failover {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultAdapterTimeout
	}
	if opts.MinYield <= 0 {
		opts.MinYield = 1
	}
	log := logger.With().Str("component", "failover_fetcher").Logger()

	f := &Failover{
		opts:    opts,
		metrics: rec,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
		byName:  make(map[string]*AdapterHealth, len(adapters)),
	}
	f.health.Adapters = make([]AdapterHealth, len(adapters))
	for i, a := range adapters {
		f.members = append(f.members, member{adapter: a, breaker: newBreaker(a.Name(), opts.Breaker, rec, log)})
		f.health.Adapters[i] = AdapterHealth{Name: a.Name()}
		f.byName[a.Name()] = &f.health.Adapters[i]
	}
	return f
}

// Fetch returns quotes for symbols from the first adapter that yields enough
// valid records. Malformed symbols are dropped before any adapter runs.
// Exhaustion yields an empty result, never an error.
func (f *Failover) Fetch(ctx context.Context, symbols []string) []market.Quote {
	valid, rejected := market.PartitionSymbols(symbols)
	if len(rejected) > 0 {
		f.logger.Warn().Strs("rejected", rejected).Msg("dropping malformed symbols")
	}
	if len(valid) == 0 {
		return nil
	}

	for _, m := range f.members {
		if ctx.Err() != nil {
			return nil
		}
		name := m.adapter.Name()
		start := time.Now()
		quotes, err := m.breaker.Execute(func() ([]market.Quote, error) {
			return f.attempt(ctx, m.adapter, valid)
		})
		elapsed := time.Since(start)

		if err != nil {
			f.metrics.AdapterAttempt(name, outcome(err), elapsed)
			f.recordFailure(name, err)
			level := zerolog.WarnLevel
			if errors.Is(err, ErrNotConfigured) {
				level = zerolog.DebugLevel
			}
			f.logger.WithLevel(level).Err(err).Str("adapter", name).Dur("elapsed", elapsed).Msg("adapter failed, trying next")
			continue
		}

		f.metrics.AdapterAttempt(name, "ok", elapsed)
		f.recordSuccess(name)
		f.logger.Debug().Str("adapter", name).Int("quotes", len(quotes)).Msg("adapter served cycle")
		return quotes
	}

	f.metrics.FetchExhausted()
	f.logger.Error().Strs("symbols", valid).Msg("all adapters exhausted")
	return nil
}

// attempt runs one adapter under its own deadline and keeps usable records.
func (f *Failover) attempt(ctx context.Context, a Adapter, symbols []string) ([]market.Quote, error) {
	actx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	type result struct {
		quotes []market.Quote
		err    error
	}
	done := make(chan result, 1)
	go func() {
		q, err := a.Fetch(actx, symbols)
		done <- result{quotes: q, err: err}
	}()

	var res result
	select {
	case <-actx.Done():
		return nil, fmt.Errorf("%s: %w", a.Name(), actx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return nil, res.err
	}

	usable := f.usable(a.Name(), symbols, res.quotes)
	if len(usable) < f.opts.MinYield {
		return nil, fmt.Errorf("%s returned %d usable of %d: %w", a.Name(), len(usable), len(res.quotes), errLowYield)
	}
	return usable, nil
}

func (f *Failover) usable(source string, symbols []string, quotes []market.Quote) []market.Quote {
	requested := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		requested[s] = struct{}{}
	}
	now := f.now()
	out := make([]market.Quote, 0, len(quotes))
	for _, q := range quotes {
		if _, ok := requested[q.Symbol]; !ok {
			continue
		}
		if !q.Close.IsPositive() {
			continue
		}
		if q.Source == "" {
			q.Source = source
		}
		out = append(out, q.Normalize(now))
	}
	return out
}

// Health returns a snapshot of adapter outcomes.
func (f *Failover) Health() Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.health
	snap.Adapters = append([]AdapterHealth(nil), f.health.Adapters...)
	for i, m := range f.members {
		snap.Adapters[i].Breaker = m.breaker.State().String()
	}
	return snap
}

func (f *Failover) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	f.health.Winner = name
	f.health.WonAt = now
	if h := f.byName[name]; h != nil {
		h.LastSuccess = now
	}
}

func (f *Failover) recordFailure(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h := f.byName[name]; h != nil {
		h.LastError = err.Error()
		h.LastErrorAt = f.now()
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errLowYield):
		return "low_yield"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "error"
	}
}
