package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusConnectionsAccepted prometheus.Counter
	prometheusActiveConnections   prometheus.Gauge
)

var prometheusMetricsInitialized = false

func initPrometheusMetrics() {
	if prometheusMetricsInitialized {
		return
	}

	prometheusConnectionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pool",
			Name:      "connections_accepted_total",
			Help:      "Number of TCP connections accepted by the pool listener",
		},
	)

	prometheusActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pool",
			Name:      "active_connections",
			Help:      "Number of currently open pool connections",
		},
	)

	prometheusMetricsInitialized = true
}
