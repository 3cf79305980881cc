package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernelforge_runs_total",
			Help: "Total number of finished runs.",
		},
		[]string{"variant", "status", "error_kind"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kernelforge_stage_duration_seconds",
			Help:    "Stage duration in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800},
		},
		[]string{"variant", "stage", "outcome"},
	)

	stageTimeout = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kernelforge_stage_group_timeout_seconds",
			Help: "Timeout allotted to a stage group by the last run of a variant.",
		},
		[]string{"variant", "group"},
	)

	overcommittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernelforge_budget_overcommitted_total",
			Help: "Runs whose group timeout exceeded the time left before the deadline.",
		},
		[]string{"variant", "group"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(stageTimeout)
	prometheus.MustRegister(overcommittedTotal)
}

func outcomeLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}
