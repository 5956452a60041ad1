package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ScheduledJobRuns) }

var ScheduledJobRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scheduled_job_runs_total",
		Help: "Total number of scheduled job runs, labeled by job and status.",
	},
	[]string{"job", "status"}, // status: 'ok', 'failed'
)

func IncJobRun(job, status string) {
	ScheduledJobRuns.WithLabelValues(norm(job), norm(status)).Inc()
}
