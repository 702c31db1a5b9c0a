package detection

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	anomalies      *prometheus.CounterVec
	trackedSources prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_anomalies_total",
				Help: "Anomalies detected by type and severity",
			},
			[]string{"type", "severity"},
		),
		trackedSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_tracked_sources",
			Help: "Sources with live scan/exfiltration tracking",
		}),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.anomalies, m.trackedSources)
}
