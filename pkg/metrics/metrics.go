package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Faults counts invocations that ended in an unrecoverable error, labelled
// by the stage that failed. External alerting keys off this counter.
var Faults = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "streamscaler",
	Name:      "faults_total",
	Help:      "Scaling invocations that failed with a non-recoverable error.",
}, []string{"stage"})

// Decisions counts policy outcomes per direction.
var Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "streamscaler",
	Name:      "decisions_total",
	Help:      "Scaling decisions by direction and outcome.",
}, []string{"direction", "outcome"})

// Steps counts individual shard-count adjustments applied by the executor.
var Steps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "streamscaler",
	Name:      "resharding_steps_total",
	Help:      "Individual shard-count steps applied against the stream service.",
})

// Retries counts retried collaborator calls by operation.
var Retries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "streamscaler",
	Name:      "retries_total",
	Help:      "Collaborator calls retried after a rate-limit error.",
}, []string{"op"})
