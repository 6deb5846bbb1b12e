package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the process-level counters the node exposes on /metrics.
type Metrics struct {
	registry       *prometheus.Registry
	CallbacksTotal *prometheus.CounterVec
	OutboundTotal  *prometheus.CounterVec
	ActiveStreams  prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		CallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bap_callbacks_total",
			Help: "Inbound callbacks by action and outcome.",
		}, []string{"action", "outcome"}),
		OutboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bap_outbound_total",
			Help: "Outbound protocol sends by action and outcome.",
		}, []string{"action", "outcome"}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bap_active_streams",
			Help: "Currently connected live-update streams.",
		}),
	}
	registry.MustRegister(m.CallbacksTotal, m.OutboundTotal, m.ActiveStreams)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
