// Package metrics holds the Prometheus collectors exported by indexsync.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "indexsync"

// Enqueued counts queue entries appended, by source: direct, all or session.
var Enqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "queue",
	Name:      "enqueued_total",
	Help:      "Queue entries appended.",
}, []string{"entity", "operation", "source"})

// Drained counts queue entries applied to the index and removed.
var Drained = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "queue",
	Name:      "drained_total",
	Help:      "Queue entries applied to the index and removed.",
}, []string{"entity", "operation"})

// Discarded counts queue entries dropped because their type is no longer indexed.
var Discarded = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "queue",
	Name:      "discarded_total",
	Help:      "Queue entries dropped without being applied.",
}, []string{"entity"})

var WriterFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "index",
	Name:      "writer_failures_total",
	Help:      "Index writer calls that failed; their entries stay queued and are retried after a backoff.",
}, []string{"entity", "operation"})

var LockContention = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "lock",
	Name:      "contention_total",
	Help:      "Lock acquisitions that timed out.",
}, []string{"entity"})

// SessionPages counts processed session pages by outcome:
// advanced, exhausted, suspended, stopped.
var SessionPages = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "session",
	Name:      "pages_total",
	Help:      "Enqueueing session pages processed.",
}, []string{"entity", "result"})

var SchedulerTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "scheduler",
	Name:      "ticks_total",
	Help:      "Scheduler loop iterations.",
}, []string{"loop", "result"})

// Collectors returns the package-level collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		Enqueued,
		Drained,
		Discarded,
		WriterFailures,
		LockContention,
		SessionPages,
		SchedulerTicks,
	}
}

// Register registers the package-level collectors plus any extra ones.
// Collectors already registered with reg are skipped.
func Register(reg prometheus.Registerer, extra ...prometheus.Collector) error {
	for _, c := range append(Collectors(), extra...) {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
