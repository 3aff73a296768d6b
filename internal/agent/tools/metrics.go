package tools

import "github.com/prometheus/client_golang/prometheus"

var (
	toolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "tools",
			Name:      "executions_total",
			Help:      "Built-in tool executions by tool and status",
		},
		[]string{"tool", "status"},
	)

	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "tools",
			Name:      "execution_duration_seconds",
			Help:      "Built-in tool execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
)

func init() {
	prometheus.MustRegister(toolExecutionsTotal, toolDuration)
}
