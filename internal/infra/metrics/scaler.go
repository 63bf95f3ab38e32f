package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(scalerDesired, scalerCurrent, scalerCreateFailures) }

var scalerDesired = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "buildforge_scaler_desired_replicas",
		Help: "Replica count the controller currently targets.",
	},
	[]string{"pool"},
)

var scalerCurrent = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "buildforge_scaler_current_replicas",
		Help: "Replica count reported by the worker substrate.",
	},
	[]string{"pool"},
)

var scalerCreateFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "buildforge_scaler_create_failures_total",
		Help: "Worker creation calls that returned an error.",
	},
	[]string{"pool"},
)

func SetReplicas(pool string, desired, current int) {
	scalerDesired.WithLabelValues(norm(pool)).Set(float64(desired))
	scalerCurrent.WithLabelValues(norm(pool)).Set(float64(current))
}

func IncCreateFailure(pool string) {
	scalerCreateFailures.WithLabelValues(norm(pool)).Inc()
}
