package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	JudgeRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exstem_assess",
			Subsystem: "judge",
			Name:      "runs_total",
			Help:      "Sample-test runs by outcome.",
		},
		[]string{"outcome"},
	)
	JudgePollAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "exstem_assess",
			Subsystem: "judge",
			Name:      "poll_attempts",
			Help:      "Status polls issued per run.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		},
	)
	JudgeRunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exstem_assess",
			Subsystem: "judge",
			Name:      "run_duration_seconds",
			Help:      "Run duration in seconds, create call through terminal poll.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exstem_assess",
			Subsystem: "backend",
			Name:      "submissions_total",
			Help:      "Full-suite submissions by overall status.",
		},
		[]string{"overall_status"},
	)
	ViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exstem_assess",
			Subsystem: "proctor",
			Name:      "violations_total",
			Help:      "Proctoring violations by kind.",
		},
		[]string{"kind"},
	)
	CompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exstem_assess",
			Subsystem: "session",
			Name:      "completions_total",
			Help:      "Assessments completed by reason.",
		},
		[]string{"reason"},
	)
	StatusSyncFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exstem_assess",
			Subsystem: "session",
			Name:      "status_sync_failures_total",
			Help:      "Best-effort status updates that failed and were queued for retry.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		JudgeRunsTotal,
		JudgePollAttempts,
		JudgeRunDurationSeconds,
		SubmissionsTotal,
		ViolationsTotal,
		CompletionsTotal,
		StatusSyncFailuresTotal,
	)
}
