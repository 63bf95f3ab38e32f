package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(queueBacklog, queuePending, queueReclaimsTotal) }

var queueBacklog = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "buildforge_queue_backlog",
		Help: "Entries in the stream not yet delivered to any consumer.",
	},
)

var queuePending = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "buildforge_queue_pending",
		Help: "Delivered but unacknowledged entries in the consumer group.",
	},
)

var queueReclaimsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "buildforge_queue_reclaims_total",
		Help: "Stale claims taken over by the reclaim sweep.",
	},
)

func SetQueueBacklog(queued, pending int64) {
	queueBacklog.Set(float64(queued))
	queuePending.Set(float64(pending))
}

func IncReclaim() { queueReclaimsTotal.Inc() }
