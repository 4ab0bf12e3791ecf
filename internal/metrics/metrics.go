package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Commit outcome labels.
const (
	ResultCommitted = "committed"
	ResultRejected  = "rejected"
	ResultExhausted = "exhausted"
	ResultError     = "error"
)

var (
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakemeta_commits_total",
		Help: "Total number of commitData calls by commit op and outcome.",
	}, []string{"op", "result"})

	ConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakemeta_conflicts_total",
		Help: "Total number of failed optimistic inserts that entered conflict resolution.",
	}, []string{"op"})

	ResolverAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lakemeta_resolver_attempts",
		Help:    "Number of resolver attempts spent on one conflicting commit.",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
	}, []string{"op"})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lakemeta_commit_duration_seconds",
		Help:    "Duration of commitData calls.",
		Buckets: prometheus.DefBuckets,
	})

	LogicalDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakemeta_logical_deletes_total",
		Help: "Total number of logical delete attempts by scope and outcome.",
	}, []string{"scope", "result"})

	Rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakemeta_rollbacks_total",
		Help: "Total number of partition rollbacks by outcome.",
	}, []string{"result"})

	GCSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakemeta_gc_sweeps_total",
		Help: "Total number of garbage collection sweeps by outcome.",
	}, []string{"result"})

	GCCommitsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakemeta_gc_commits_removed_total",
		Help: "Total number of unreferenced data commits removed.",
	})

	GCFilesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakemeta_gc_files_removed_total",
		Help: "Total number of data files removed from object storage.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakemeta_http_requests_total",
		Help: "Total number of HTTP requests by method and status code.",
	}, []string{"method", "code"})
)
