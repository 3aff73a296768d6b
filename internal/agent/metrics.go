package agent

import "github.com/prometheus/client_golang/prometheus"

var (
	agentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Agent loop runs by final state",
		},
		[]string{"state"},
	)

	agentRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "agent",
			Name:      "rounds",
			Help:      "Generation rounds per agent loop run",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
		},
	)
)

func init() {
	prometheus.MustRegister(agentRunsTotal, agentRounds)
}
