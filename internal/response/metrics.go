package response

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	decisions *prometheus.CounterVec
	actions   *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
}

func newMetrics() *Metrics {
	return &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_responses_total",
				Help: "Responses decided by severity",
			},
			[]string{"severity"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_response_actions_total",
				Help: "Response actions applied by action and result",
			},
			[]string{"action", "result"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_rollbacks_total",
				Help: "Rollback attempts by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.decisions, m.actions, m.rollbacks)
}
