package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	explainer = "explainer"

	// Pipeline metrics
	jobsSubmittedTotal  = "jobs_submitted_total"
	jobsDedupHitsTotal  = "jobs_dedup_hits_total"
	jobsByStatusCount   = "jobs_by_status_count"
	stageDurationSecs   = "stage_duration_seconds"
	stageRetriesTotal   = "stage_retries_total"
	stageFailuresTotal  = "stage_failures_total"
	artifactsBytesTotal = "artifact_bytes_written_total"

	// Labels
	stageLabel  = "stage"
	statusLabel = "status"
	reasonLabel = "reason"
	reuseLabel  = "reuse"
)

/**
* Metrics definition
**/
var jobsSubmittedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: explainer,
		Name:      jobsSubmittedTotal,
		Help:      "number of pipeline jobs created",
	},
	[]string{},
)

var jobsDedupHitsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: explainer,
		Name:      jobsDedupHitsTotal,
		Help:      "number of submissions answered by an existing job instead of new work",
	},
	[]string{reuseLabel},
)

var jobsByStatusCountMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: explainer,
		Name:      jobsByStatusCount,
		Help:      "number of jobs currently in each status",
	},
	[]string{statusLabel},
)

var stageDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: explainer,
		Name:      stageDurationSecs,
		Help:      "wall-clock duration of pipeline stage executions",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
	},
	[]string{stageLabel},
)

var stageRetriesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: explainer,
		Name:      stageRetriesTotal,
		Help:      "number of transient stage failures scheduled for retry",
	},
	[]string{stageLabel},
)

var stageFailuresTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: explainer,
		Name:      stageFailuresTotal,
		Help:      "number of stage failures that terminated a job",
	},
	[]string{stageLabel, reasonLabel},
)

var artifactBytesWrittenMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: explainer,
		Name:      artifactsBytesTotal,
		Help:      "bytes written to the artifact store",
	},
	[]string{stageLabel},
)

func IncreaseJobsSubmitted() {
	jobsSubmittedTotalMetric.With(prometheus.Labels{}).Inc()
}

func IncreaseDedupHits(reuse string) {
	jobsDedupHitsTotalMetric.With(prometheus.Labels{reuseLabel: reuse}).Inc()
}

func UpdateJobsByStatus(status string, count int) {
	jobsByStatusCountMetric.With(prometheus.Labels{statusLabel: status}).Set(float64(count))
}

func ObserveStageDuration(stage string, d time.Duration) {
	stageDurationMetric.With(prometheus.Labels{stageLabel: stage}).Observe(d.Seconds())
}

func IncreaseStageRetries(stage string) {
	stageRetriesTotalMetric.With(prometheus.Labels{stageLabel: stage}).Inc()
}

func IncreaseStageFailures(stage, reason string) {
	stageFailuresTotalMetric.With(prometheus.Labels{stageLabel: stage, reasonLabel: reason}).Inc()
}

func AddArtifactBytesWritten(stage string, n int) {
	artifactBytesWrittenMetric.With(prometheus.Labels{stageLabel: stage}).Add(float64(n))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsSubmittedTotalMetric)
	prometheus.MustRegister(jobsDedupHitsTotalMetric)
	prometheus.MustRegister(jobsByStatusCountMetric)
	prometheus.MustRegister(stageDurationMetric)
	prometheus.MustRegister(stageRetriesTotalMetric)
	prometheus.MustRegister(stageFailuresTotalMetric)
	prometheus.MustRegister(artifactBytesWrittenMetric)
}
