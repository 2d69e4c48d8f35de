package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	activityDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hourglass_activity_duration_seconds",
			Help:    "Elapsed time of finished run activities in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"activity"},
	)

	activityLimitExceeded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hourglass_activity_limit_exceeded_total",
			Help: "Total number of activities that finished past their time limit.",
		},
		[]string{"activity"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hourglass_runs_total",
			Help: "Total number of finished runs by final status.",
		},
		[]string{"status"},
	)

	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hourglass_evaluations_total",
			Help: "Total number of candidate evaluations by outcome.",
		},
		[]string{"evaluator", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(activityDuration)
	prometheus.MustRegister(activityLimitExceeded)
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(evaluationsTotal)
}
