package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's prometheus collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	// Counters
	commands        *prometheus.CounterVec
	settlementSteps prometheus.Counter

	// Latency tracking
	commandDuration *prometheus.HistogramVec

	// Gauges
	reserves          *prometheus.GaugeVec
	activeConnections prometheus.Gauge
}

// NewMetrics creates and registers all collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of engine commands processed by type and status",
		}, []string{"op", "status"}),
		settlementSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_steps_total",
			Help:      "Total number of virtual-order settlement steps committed",
		}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time to process an engine command",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		reserves: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_reserve",
			Help:      "Pool reserve per token (approximate, float64)",
		}, []string{"token"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_connections",
			Help:      "Number of open gateway connections",
		}),
	}
	m.registry.MustRegister(m.commands, m.settlementSteps, m.commandDuration, m.reserves, m.activeConnections)
	return m
}

// ObserveCommand records one processed command with its latency.
func (m *Metrics) ObserveCommand(op string, err error, took time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.commands.WithLabelValues(op, status).Inc()
	m.commandDuration.WithLabelValues(op).Observe(took.Seconds())
}

// ObserveSettlement records committed settlement steps.
func (m *Metrics) ObserveSettlement(steps int) {
	m.settlementSteps.Add(float64(steps))
}

// SetReserves publishes the current reserves.
func (m *Metrics) SetReserves(reserve0, reserve1 float64) {
	m.reserves.WithLabelValues("token0").Set(reserve0)
	m.reserves.WithLabelValues("token1").Set(reserve1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Inc()
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Dec()
}

// Gatherer returns the registry for export.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
