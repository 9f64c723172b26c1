package fetcher

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"market-pulse/internal/market"
	"market-pulse/internal/metrics"
)

// BreakerOptions configure the per-adapter circuit breakers.
type BreakerOptions struct {
	MaxRequests  uint32
	Interval     time.Duration
	OpenTimeout  time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerOptions trip after half of at least five calls fail.
var DefaultBreakerOptions = BreakerOptions{
	MaxRequests:  1,
	Interval:     time.Minute,
	OpenTimeout:  30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.5,
}

type quoteBreaker = gobreaker.CircuitBreaker[[]market.Quote]

func newBreaker(name string, opts BreakerOptions, rec *metrics.Recorder, logger zerolog.Logger) *quoteBreaker {
	if opts.MinRequests == 0 {
		opts.MinRequests = DefaultBreakerOptions.MinRequests
	}
	if opts.FailureRatio <= 0 {
		opts.FailureRatio = DefaultBreakerOptions.FailureRatio
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < opts.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= opts.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("adapter", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			rec.BreakerState(name, stateToInt(to))
		},
		// An unconfigured adapter is skipped, not broken.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotConfigured)
		},
	}
	return gobreaker.NewCircuitBreaker[[]market.Quote](settings)
}

// 0=closed, 1=half-open, 2=open
func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
