package collector

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	packets           *prometheus.CounterVec
	bytes             prometheus.Counter
	rejected          prometheus.Counter
	rotations         prometheus.Counter
	activeConnections prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		packets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_packets_total",
				Help: "Packets ingested by protocol",
			},
			[]string{"protocol"},
		),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_bytes_total",
			Help: "Bytes ingested",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_packets_rejected_total",
			Help: "Packets skipped because they failed validation",
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_window_rotations_total",
			Help: "Closed aggregation windows",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_active_connections",
			Help: "Active connections at the last rotation",
		}),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.packets,
		m.bytes,
		m.rejected,
		m.rotations,
		m.activeConnections,
	)
}
