package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clippay_jobs_processed_total",
		Help: "Verification jobs processed, by outcome",
	}, []string{"outcome"})

	jobsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clippay_jobs_reclaimed_total",
		Help: "Stale verification jobs force-failed back into retry",
	})

	verifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clippay_verify_duration_seconds",
		Help:    "Time spent fetching and matching one submitted link",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	rewardsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clippay_rewards_committed_total",
		Help: "Reward commits that succeeded",
	})
)

const (
	outcomeCompleted   = "completed"
	outcomeMismatch    = "mismatch"
	outcomeFetchError  = "fetch_error"
	outcomeCommitError = "commit_error"
	outcomeTaskMissing = "task_missing"
)
