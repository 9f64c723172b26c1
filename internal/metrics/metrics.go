package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes pipeline metrics. A nil *Recorder is a valid no-op.
type Recorder struct {
	registry *prometheus.Registry

	adapterAttempts *prometheus.CounterVec
	adapterLatency  *prometheus.HistogramVec
	fetchExhausted  prometheus.Counter
	breakerState    *prometheus.GaugeVec
	quotesStored    *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	cycles          *prometheus.CounterVec
	gateRejections  *prometheus.CounterVec
	signalStrength  *prometheus.GaugeVec
	published       *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		adapterAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_adapter_attempts_total",
			Help: "Provider adapter invocations by outcome",
		}, []string{"adapter", "outcome"}),
		adapterLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketpulse_adapter_duration_seconds",
			Help:    "Provider adapter call duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"adapter"}),
		fetchExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_fetch_exhausted_total",
			Help: "Fetch cycles where every adapter failed",
		}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketpulse_breaker_state",
			Help: "Circuit breaker state per adapter (0 closed, 1 half-open, 2 open)",
		}, []string{"adapter"}),
		quotesStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_quotes_stored_total",
			Help: "Quotes persisted per symbol",
		}, []string{"symbol"}),
		lastPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketpulse_last_price",
			Help: "Last stored close per symbol",
		}, []string{"symbol"}),
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_cycles_total",
			Help: "Poll and analysis cycles by kind and outcome",
		}, []string{"kind", "outcome"}),
		gateRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_gate_rejections_total",
			Help: "Series rejected by the data sufficiency gate",
		}, []string{"symbol", "timeframe"}),
		signalStrength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketpulse_signal_strength",
			Help: "Consensus strength per symbol and signal",
		}, []string{"symbol", "signal"}),
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_events_published_total",
			Help: "Events handed to publishers by type",
		}, []string{"type"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// AdapterAttempt records one adapter call.
func (r *Recorder) AdapterAttempt(adapter, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.adapterAttempts.WithLabelValues(adapter, outcome).Inc()
	r.adapterLatency.WithLabelValues(adapter).Observe(elapsed.Seconds())
}

// FetchExhausted records a cycle where no adapter produced data.
func (r *Recorder) FetchExhausted() {
	if r == nil {
		return
	}
	r.fetchExhausted.Inc()
}

// BreakerState records a breaker transition.
func (r *Recorder) BreakerState(adapter string, state int) {
	if r == nil {
		return
	}
	r.breakerState.WithLabelValues(adapter).Set(float64(state))
}

// QuoteStored records a persisted quote.
func (r *Recorder) QuoteStored(symbol string, close float64) {
	if r == nil {
		return
	}
	r.quotesStored.WithLabelValues(symbol).Inc()
	r.lastPrice.WithLabelValues(symbol).Set(close)
}

// Cycle records the outcome of a poll or analysis cycle.
func (r *Recorder) Cycle(kind, outcome string) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(kind, outcome).Inc()
}

// GateRejected records a sufficiency gate rejection.
func (r *Recorder) GateRejected(symbol, timeframe string) {
	if r == nil {
		return
	}
	r.gateRejections.WithLabelValues(symbol, timeframe).Inc()
}

// SignalStrength records the latest consensus for symbol.
func (r *Recorder) SignalStrength(symbol, signal string, strength int) {
	if r == nil {
		return
	}
	r.signalStrength.DeletePartialMatch(prometheus.Labels{"symbol": symbol})
	r.signalStrength.WithLabelValues(symbol, signal).Set(float64(strength))
}

// Published records an event handed to the publisher.
func (r *Recorder) Published(eventType string) {
	if r == nil {
		return
	}
	r.published.WithLabelValues(eventType).Inc()
}
