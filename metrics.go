package chigate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gate's Prometheus collectors.
type Metrics struct {
	Requests       *prometheus.CounterVec
	Rejections     *prometheus.CounterVec
	SecurityEvents prometheus.Counter
	BlockedClients prometheus.Counter
}

// NewMetrics creates the gate collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chigate_requests_total",
				Help: "Requests seen by the gate, by outcome (forwarded or rejected).",
			},
			[]string{"outcome"},
		),
		Rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chigate_rejections_total",
				Help: "Requests rejected by the gate, by phase.",
			},
			[]string{"phase"},
		),
		SecurityEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chigate_security_events_total",
				Help: "Security events recorded against clients.",
			},
		),
		BlockedClients: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chigate_blocked_clients_total",
				Help: "Clients added to the blocklist.",
			},
		),
	}
}

func (m *Metrics) forwarded() {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues("forwarded").Inc()
}

func (m *Metrics) rejected(phase Phase) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues("rejected").Inc()
	m.Rejections.WithLabelValues(string(phase)).Inc()
}

func (m *Metrics) event() {
	if m == nil {
		return
	}
	m.SecurityEvents.Inc()
}

func (m *Metrics) blocked() {
	if m == nil {
		return
	}
	m.BlockedClients.Inc()
}
