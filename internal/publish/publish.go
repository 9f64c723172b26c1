package publish

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/indicator"
	"market-pulse/internal/market"
	"market-pulse/internal/metrics"
	"market-pulse/internal/signal"
)

// Event types carried on the wire.
const (
	TypeQuoteUpdate  = "quote.update"
	TypeSignalUpdate = "signal.update"
)

// Event is one outbound notification.
type Event struct {
	Type    string    `json:"type"`
	Symbol  string    `json:"symbol"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// QuoteUpdate is the payload of a quote.update event.
type QuoteUpdate struct {
	Quote market.Quote `json:"quote"`
}

// SignalUpdate is the payload of a signal.update event. Changed is set when
// the consensus signal differs from the last one published for the symbol.
type SignalUpdate struct {
	Consensus  signal.ConsensusDecision   `json:"consensus"`
	Decisions  map[string]signal.Decision `json:"decisions"`
	Indicators map[string]indicator.Set   `json:"indicators,omitempty"`
	Previous   signal.Action              `json:"previous,omitempty"`
	Changed    bool                       `json:"changed"`
}

// NewQuoteEvent wraps a stored quote.
func NewQuoteEvent(q market.Quote) Event {
	return Event{Type: TypeQuoteUpdate, Symbol: q.Symbol, At: q.Timestamp, Payload: QuoteUpdate{Quote: q}}
}

// NewSignalEvent wraps a symbol's consensus.
func NewSignalEvent(symbol string, at time.Time, update SignalUpdate) Event {
	return Event{Type: TypeSignalUpdate, Symbol: symbol, At: at, Payload: update}
}

// Encode renders an event as JSON.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Log writes every event to a zerolog logger.
type Log struct {
	logger zerolog.Logger
}

// NewLog builds a logging publisher.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "publish_log").Logger()}
}

// Publish logs the event.
func (l *Log) Publish(_ context.Context, ev Event) error {
	l.logger.Info().
		Str("type", ev.Type).
		Str("symbol", ev.Symbol).
		Time("at", ev.At).
		Interface("payload", ev.Payload).
		Msg("event")
	return nil
}

// Close is a no-op.
func (l *Log) Close() error { return nil }

// Fanout delivers to every sink. Sink failures are logged, never returned.
type Fanout struct {
	sinks   []Publisher
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

// NewFanout combines sinks; nil sinks are skipped.
func NewFanout(rec *metrics.Recorder, logger zerolog.Logger, sinks ...Publisher) *Fanout {
	f := &Fanout{metrics: rec, logger: logger.With().Str("component", "publish").Logger()}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Publish hands the event to each sink in order.
func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	for _, s := range f.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			f.logger.Warn().Err(err).Str("type", ev.Type).Str("symbol", ev.Symbol).Msg("publish failed")
		}
	}
	f.metrics.Published(ev.Type)
	return nil
}

// Close closes all sinks and joins their errors.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }
