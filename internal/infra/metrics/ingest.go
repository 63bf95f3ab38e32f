package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhooksTotal, ingestLatencyMs) }

var webhooksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "buildforge_webhooks_total",
		Help: "Inbound trigger events by outcome (accepted/invalid/unauthorized/rate_limited/error).",
	},
	[]string{"source", "outcome"},
)

var ingestLatencyMs = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "buildforge_ingest_latency_ms",
		Help:    "Latency of accepted ingestions in milliseconds.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
)

func IncWebhook(source, outcome string) {
	webhooksTotal.WithLabelValues(norm(source), norm(outcome)).Inc()
}

func ObserveIngestLatency(ms float64) {
	ingestLatencyMs.Observe(ms)
}
