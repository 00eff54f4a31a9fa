package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/autolyrix/aligntrack/internal/model"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aligntrack_jobs_total",
			Help: "Total number of alignment jobs by terminal state.",
		},
		[]string{"state", "format"},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aligntrack_job_duration_seconds",
			Help:    "Wall-clock duration from dispatch to terminal state, in seconds.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
	)

	correlationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aligntrack_correlation_duration_seconds",
			Help:    "Time from dispatch until the matching remote run was found, in seconds.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 90},
		},
	)

	activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aligntrack_active_jobs",
			Help: "Number of jobs currently being tracked.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(correlationDuration)
	prometheus.MustRegister(activeJobs)

	// Pre-initialize terminal state label combinations so they appear in
	// /metrics before the first job finishes.
	for _, state := range []string{model.StateCompleted, model.StateFailed, model.StateTimedOut, model.StateCancelled} {
		for _, format := range []string{model.FormatLRC, model.FormatJSON, model.FormatSRT} {
			jobsTotal.WithLabelValues(state, format)
		}
	}
}
