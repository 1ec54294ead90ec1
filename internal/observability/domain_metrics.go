package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryzen_executions_total",
			Help: "Total number of recorded executions by resulting state.",
		},
		[]string{"state"},
	)
	executionDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queryzen_execution_duration_ms",
			Help:    "Execution wall time in milliseconds, measured around the database call.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
	)
	dispatchUnavailableTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryzen_dispatch_unavailable_total",
			Help: "Total number of run requests answered with EXECUTION_ENGINE_UNAVAILABLE.",
		},
		[]string{"reason"},
	)
	zensCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryzen_zens_created_total",
			Help: "Total number of zen versions created.",
		},
	)
	queueJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryzen_queue_jobs_total",
			Help: "Total number of execution jobs by outcome.",
		},
		[]string{"outcome"},
	)
	queueJobsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryzen_queue_jobs_purged_total",
			Help: "Total number of finished execution jobs removed by retention.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		executionsTotal,
		executionDurationMs,
		dispatchUnavailableTotal,
		zensCreatedTotal,
		queueJobsTotal,
		queueJobsPurgedTotal,
	)
}

func ObserveExecution(state string, elapsed time.Duration) {
	executionsTotal.WithLabelValues(state).Inc()
	if elapsed < 0 {
		elapsed = 0
	}
	executionDurationMs.Observe(float64(elapsed.Milliseconds()))
}

// IncDispatchUnavailable counts a run that could not be served. reason is one
// of submit, timeout or failed.
func IncDispatchUnavailable(reason string) {
	dispatchUnavailableTotal.WithLabelValues(reason).Inc()
}

func IncZenCreated() {
	zensCreatedTotal.Inc()
}

func ObserveQueueJob(outcome string) {
	queueJobsTotal.WithLabelValues(outcome).Inc()
}

func AddQueueJobsPurged(count int64) {
	if count <= 0 {
		return
	}
	queueJobsPurgedTotal.Add(float64(count))
}
