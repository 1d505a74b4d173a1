package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobsEnqueuedTotal,
		jobsClaimedTotal,
		jobsFinishedTotal,
		jobsByStatus,
		leasesReclaimedTotal,
		liveTickWindowsTotal,
		liveTickErrorsTotal,
	)
}

var (
	jobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_jobs_enqueued_total",
			Help: "Enqueue outcomes per origin (inserted, duplicate, rejected).",
		},
		[]string{"origin", "outcome"}, // origin: live_tick | reconcile | vod
	)

	jobsClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_jobs_claimed_total",
			Help: "Jobs claimed by workers.",
		},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_jobs_finished_total",
			Help: "Job attempts finished, labeled by the status the job moved to.",
		},
		[]string{"status"}, // succeeded | queued (retry) | failed | dead
	)

	jobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analysis_jobs",
			Help: "Current number of jobs per status, refreshed by the lease sweeper.",
		},
		[]string{"status"},
	)

	leasesReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_job_leases_reclaimed_total",
			Help: "Processing jobs returned to the queue after their lease expired.",
		},
	)

	liveTickWindowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "live_tick_windows_total",
			Help: "Windows emitted by the live scheduler, gap-fill included.",
		},
	)

	liveTickErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "live_tick_source_errors_total",
			Help: "Live sources that failed to schedule during a tick.",
		},
	)
)

func ObserveEnqueue(origin string, inserted, duplicates, rejected int) {
	jobsEnqueuedTotal.WithLabelValues(norm(origin), "inserted").Add(float64(inserted))
	jobsEnqueuedTotal.WithLabelValues(norm(origin), "duplicate").Add(float64(duplicates))
	jobsEnqueuedTotal.WithLabelValues(norm(origin), "rejected").Add(float64(rejected))
}

func IncJobClaimed() { jobsClaimedTotal.Inc() }

func IncJobFinished(status string) {
	jobsFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func SetJobsByStatus(status string, n int) {
	jobsByStatus.WithLabelValues(norm(status)).Set(float64(n))
}

func AddLeasesReclaimed(n int) { leasesReclaimedTotal.Add(float64(n)) }

func AddLiveTickWindows(n int) { liveTickWindowsTotal.Add(float64(n)) }

func IncLiveTickError() { liveTickErrorsTotal.Inc() }
