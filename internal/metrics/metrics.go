// Package metrics holds the Prometheus collectors of the job store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ojs_jobstore"

var (
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_info",
		Help:      "Build and backend information, always 1.",
	}, []string{"version", "backend"})

	StoreOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_operations_total",
		Help:      "Key-value operations by collection, operation and result.",
	}, []string{"collection", "op", "result"})

	LockAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_attempts_total",
		Help:      "Lease acquisitions and renewals by collection and result.",
	}, []string{"collection", "result"})

	LockReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_releases_total",
		Help:      "Lease releases by collection and result (released, already_unlocked, missing, not_holder).",
	}, []string{"collection", "result"})

	TriggersAcquired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_acquired_total",
		Help:      "Triggers acquired for firing by this instance.",
	})

	TriggersFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_fired_total",
		Help:      "Triggers fired by this instance.",
	})

	TriggersSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_skipped_total",
		Help:      "Acquired triggers that were not fired, by reason.",
	}, []string{"reason"})

	Misfires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "misfires_total",
		Help:      "Misfire evaluations that found a missed fire time, by outcome.",
	}, []string{"outcome"})

	JobExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_executions_total",
		Help:      "Jobs executed by the scheduler, by result.",
	}, []string{"result"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Wall time of job executions.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Init records the server info gauge.
func Init(version, backend string) {
	ServerInfo.WithLabelValues(version, backend).Set(1)
}
