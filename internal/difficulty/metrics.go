package difficulty

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusDifficultyAdjustments prometheus.Counter
	prometheusCurrentShareZ         prometheus.Histogram
)

var prometheusMetricsInitialized = false

func initPrometheusMetrics() {
	if prometheusMetricsInitialized {
		return
	}

	prometheusDifficultyAdjustments = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pool",
			Subsystem: "difficulty",
			Name:      "adjustments_total",
			Help:      "Number of times a user's cur_z was adjusted, by burst or tick",
		},
	)

	prometheusCurrentShareZ = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pool",
			Subsystem: "difficulty",
			Name:      "cur_z",
			Help:      "Distribution of users' current share difficulty, in leading-zero bits",
			Buckets:   []float64{40, 44, 47, 50, 53, 56, 59, 63},
		},
	)

	prometheusMetricsInitialized = true
}

// observeAdjustment records a cur_z change in both metrics (the adjustment
// counter and the cur_z histogram); called from
// OnShareAccepted/Tick whenever AdjustResult.Changed is true.
func observeAdjustment(newZ int) {
	initPrometheusMetrics()
	prometheusDifficultyAdjustments.Inc()
	prometheusCurrentShareZ.Observe(float64(newZ))
}
