package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsFinishedTotal, jobDurationSeconds, jobRetriesTotal) }

var jobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "buildforge_jobs_finished_total",
		Help: "Jobs that reached a terminal status, labeled by status.",
	},
	[]string{"status"}, // 'success', 'failed', 'cancelled'
)

var jobDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "buildforge_job_duration_seconds",
		Help:    "Execution time of finished jobs.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	},
	[]string{"status"},
)

var jobRetriesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "buildforge_job_retries_total",
		Help: "Entries re-enqueued after a crashed delivery.",
	},
)

func IncJobFinished(status string, seconds float64) {
	jobsFinishedTotal.WithLabelValues(norm(status)).Inc()
	jobDurationSeconds.WithLabelValues(norm(status)).Observe(seconds)
}

func IncJobRetry() { jobRetriesTotal.Inc() }
