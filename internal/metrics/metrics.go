// Package metrics exposes Prometheus collectors for the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

const namespace = "tvbridge"

// Metrics holds the bridge collectors.
type Metrics struct {
	Decisions        *prometheus.CounterVec
	Intents          *prometheus.CounterVec
	Fills            *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
// A nil reg uses a private registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "decisions_total", Help: "Decisions by outcome"},
			[]string{"symbol", "outcome"},
		),
		Intents: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "intents_total", Help: "Order intents produced"},
			[]string{"symbol", "side"},
		),
		Fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "fills_total", Help: "Fill notifications applied"},
			[]string{"symbol", "status"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_duration_seconds",
				Help:      "Time spent deciding on a signal",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"side"},
		),
	}

	for _, c := range []prometheus.Collector{m.Decisions, m.Intents, m.Fills, m.DecisionDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m, nil
}

// ObserveDecision records the outcome of one decision.
func (m *Metrics) ObserveDecision(ev domain.DecisionEvent, took time.Duration) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(ev.Symbol, ev.Outcome).Inc()
	m.DecisionDuration.WithLabelValues(ev.Side.String()).Observe(took.Seconds())
	if ev.Accepted() {
		m.Intents.WithLabelValues(ev.Symbol, ev.Side.String()).Inc()
	}
}

// ObserveFill records a forwarded fill notification.
func (m *Metrics) ObserveFill(symbol string, status domain.FillStatus) {
	if m == nil {
		return
	}
	m.Fills.WithLabelValues(symbol, string(status)).Inc()
}

// Handler serves the registry the collectors were registered with.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
