package backend

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "backend",
			Name:      "upstream_requests_total",
			Help:      "Upstream generation requests by backend and HTTP status (0 = transport error)",
		},
		[]string{"backend", "status"},
	)

	cooldownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "backend",
			Name:      "cooldowns_total",
			Help:      "Times a backend was taken out of rotation after a rate-limit reply",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(upstreamRequestsTotal, cooldownsTotal)
}

func observeUpstream(backend string, status int) {
	upstreamRequestsTotal.WithLabelValues(backend, strconv.Itoa(status)).Inc()
}
