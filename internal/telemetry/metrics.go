package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "essay_grader",
		Subsystem: "api",
		Name:      "tasks_submitted_total",
		Help:      "Total essays accepted for grading.",
	})

	SubmissionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "essay_grader",
		Subsystem: "api",
		Name:      "submissions_rejected_total",
		Help:      "Submissions refused before queueing, by reason.",
	}, []string{"reason"})

	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "essay_grader",
		Subsystem: "worker",
		Name:      "tasks_processed_total",
		Help:      "Total tasks that reached a terminal status.",
	}, []string{"status"})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "essay_grader",
		Subsystem: "worker",
		Name:      "tasks_in_flight",
		Help:      "Tasks currently being graded.",
	})

	StageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "essay_grader",
		Subsystem: "worker",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	LLMAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "essay_grader",
		Subsystem: "llm",
		Name:      "attempts_total",
		Help:      "Grading model calls, by outcome.",
	}, []string{"outcome"})

	TasksSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "essay_grader",
		Subsystem: "worker",
		Name:      "tasks_swept_total",
		Help:      "Stale tasks failed by the sweeper.",
	})
)
