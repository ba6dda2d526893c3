package investigate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "investigator",
		Subsystem: "runs",
		Name:      "started_total",
		Help:      "Executions opened, by investigator type",
	}, []string{"type"})

	// Labels: type, status (completed, failed)
	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "investigator",
		Subsystem: "runs",
		Name:      "finished_total",
		Help:      "Executions that reached a terminal state",
	}, []string{"type", "status"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "investigator",
		Subsystem: "runs",
		Name:      "duration_seconds",
		Help:      "Wall time from execution open to terminal state",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"type"})

	runsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "investigator",
		Subsystem: "runs",
		Name:      "in_flight",
		Help:      "Executions currently running in this process",
	})

	resultsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "investigator",
		Subsystem: "results",
		Name:      "written_total",
		Help:      "Findings appended to the ledger, by severity",
	}, []string{"severity"})

	appendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "investigator",
		Subsystem: "results",
		Name:      "append_retries_total",
		Help:      "Ledger append attempts retried after a transient store error",
	})
)
