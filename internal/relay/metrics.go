package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the relay's prometheus collectors. Each hub gets its own
// set registered against an explicit registry, so tests can run isolated
// hubs side by side.
type Metrics struct {
	rooms   prometheus.Gauge
	clients prometheus.Gauge
	relayed prometheus.Counter
	dropped *prometheus.CounterVec
	pruned  prometheus.Counter
	joins   *prometheus.CounterVec
}

// NewMetrics constructs the relay collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tandem_relay_rooms",
			Help: "Number of active rooms.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tandem_relay_clients",
			Help: "Number of joined peers across all rooms.",
		}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tandem_relay_messages_relayed_total",
			Help: "Messages forwarded between peers.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_relay_messages_dropped_total",
			Help: "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tandem_relay_pruned_total",
			Help: "Peers removed by the idle prune sweep.",
		}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_relay_joins_total",
			Help: "Join attempts, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.rooms, m.clients, m.relayed, m.dropped, m.pruned, m.joins)
	return m
}
