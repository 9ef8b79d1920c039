package executor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/traject/internal/model"
)

var (
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traject_executions_total",
			Help: "Total number of trajectory executions by mode and terminal status.",
		},
		[]string{"mode", "status"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "traject_execution_duration_seconds",
			Help:    "Wall-clock trajectory execution time in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	queuedTrajectories = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "traject_queued_trajectories",
			Help: "Number of trajectories waiting in the batch queue.",
		},
	)

	streamBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "traject_stream_backlog",
			Help: "Number of streamed trajectories queued or in flight.",
		},
	)
)

func init() {
	prometheus.MustRegister(executionsTotal)
	prometheus.MustRegister(executionDuration)
	prometheus.MustRegister(queuedTrajectories)
	prometheus.MustRegister(streamBacklog)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	terminal := []model.ExecutionStatus{
		model.StatusSucceeded,
		model.StatusPreempted,
		model.StatusTimedOut,
		model.StatusAborted,
		model.StatusFailed,
	}
	for _, mode := range []string{model.ModeBatch, model.ModeStream} {
		for _, st := range terminal {
			executionsTotal.WithLabelValues(mode, string(st))
		}
	}
}
