package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	gateWaiting = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "inferd",
		Subsystem: "gate",
		Name:      "waiting",
		Help:      "Requests waiting for a generation permit",
	})

	gateInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "inferd",
		Subsystem: "gate",
		Name:      "inflight",
		Help:      "Generation calls holding a permit",
	})

	instanceLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "instance",
			Name:      "loads_total",
			Help:      "Instance loads by backend and result",
		},
		[]string{"backend", "result"},
	)

	instanceLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "instance",
			Name:      "load_duration_seconds",
			Help:      "Time to load an instance",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"backend"},
	)

	instanceUnloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "instance",
			Name:      "unloads_total",
			Help:      "Instance unloads by reason (explicit, lru, shutdown)",
		},
		[]string{"reason"},
	)

	generationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "generation",
			Name:      "events_total",
			Help:      "Generation events by backend and kind",
		},
		[]string{"backend", "kind"},
	)
)

func init() {
	prometheus.MustRegister(gateWaiting, gateInflight, instanceLoadsTotal, instanceLoadDuration, instanceUnloadsTotal, generationEventsTotal)
}
