// Package metrics exposes the collector's Prometheus surface: per-exchange
// circuit-breaker state, collection-round timing, and publish/suppress
// counters, registered on a dedicated registry (not the global default) so
// tests can construct isolated instances.
package metrics

import (
	"github.com/cryptofeed/collector/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector gauge/counter/histogram.
type Metrics struct {
	Registry *prometheus.Registry

	CircuitState      *prometheus.GaugeVec
	CircuitOpens      *prometheus.CounterVec
	HealthStatus      *prometheus.GaugeVec
	CollectionRoundMs *prometheus.HistogramVec
	ExchangesFailed   *prometheus.CounterVec
	ExchangesSucceeded *prometheus.CounterVec
	PublishesTotal    prometheus.Counter
	PublishesFailed   prometheus.Counter
	SuppressedTotal   prometheus.Counter
}

// New constructs and registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "collector",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per exchange (0=closed, 1=open, 2=half_open).",
		}, []string{"exchange"}),
		CircuitOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "circuit_breaker_opens_total",
			Help:      "Total number of times an exchange's circuit breaker has opened.",
		}, []string{"exchange"}),
		HealthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "collector",
			Name:      "exchange_health_status",
			Help:      "Health probe status per exchange (0=unknown, 1=healthy, 2=degraded, 3=unhealthy).",
		}, []string{"exchange"}),
		CollectionRoundMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "collector",
			Name:      "collection_round_duration_ms",
			Help:      "Duration of a full collection round, in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"kind"}),
		ExchangesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "exchange_fetch_failures_total",
			Help:      "Total failed fetches per exchange.",
		}, []string{"exchange", "kind"}),
		ExchangesSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "exchange_fetch_successes_total",
			Help:      "Total successful fetches per exchange.",
		}, []string{"exchange", "kind"}),
		PublishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "publishes_total",
			Help:      "Total AMQP messages published.",
		}),
		PublishesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "publishes_failed_total",
			Help:      "Total AMQP publish failures.",
		}),
		SuppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collector",
			Name:      "publishes_suppressed_total",
			Help:      "Total snapshots suppressed because their fingerprint was unchanged.",
		}),
	}

	reg.MustRegister(
		m.CircuitState, m.CircuitOpens, m.HealthStatus, m.CollectionRoundMs,
		m.ExchangesFailed, m.ExchangesSucceeded,
		m.PublishesTotal, m.PublishesFailed, m.SuppressedTotal,
	)
	return m
}

// ObserveCircuit records a wrapper's circuit-breaker state as a gauge
// value, using the same numeric encoding documented on the metric's help
// text.
func (m *Metrics) ObserveCircuit(exchange domain.ExchangeId, state int, opensDelta int) {
	m.CircuitState.WithLabelValues(string(exchange)).Set(float64(state))
	if opensDelta > 0 {
		m.CircuitOpens.WithLabelValues(string(exchange)).Add(float64(opensDelta))
	}
}

// ObserveHealth records a wrapper's health status as a gauge value.
func (m *Metrics) ObserveHealth(exchange domain.ExchangeId, status int) {
	m.HealthStatus.WithLabelValues(string(exchange)).Set(float64(status))
}

// ObserveRound records one collection round's duration. Per-exchange
// outcome counters are incremented by the caller through ExchangesFailed
// and ExchangesSucceeded.
func (m *Metrics) ObserveRound(kind domain.Kind, durationMs float64) {
	m.CollectionRoundMs.WithLabelValues(string(kind)).Observe(durationMs)
}
