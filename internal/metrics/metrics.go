// Package metrics exposes the runtime's prometheus counters/gauges/
// histograms, grounded on goatflow's internal/services/scheduler/metrics.go
// (promauto-constructed collectors behind a package-level singleton,
// namespaced by subsystem).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pool carries the worker-pool's collectors (internal/backend/workerpool).
type Pool struct {
	Acquired      prometheus.Counter
	QueueFull     prometheus.Counter
	AcquireTimeouts prometheus.Counter
	WorkersSpawned  prometheus.Counter
	WorkersKilled   prometheus.Counter
	ActiveWorkers   prometheus.Gauge
	QueueDepth      prometheus.Gauge
	ExecuteDuration prometheus.Histogram
}

// Broker carries the job broker's collectors (internal/scheduler/broker).
type Broker struct {
	Submitted      *prometheus.CounterVec
	QuotaRejected  prometheus.Counter
	DegradedDelays prometheus.Counter
	JobsCompleted  *prometheus.CounterVec
	JobDuration    prometheus.Histogram
}

// Degradation carries the degradation controller's collectors
// (internal/scheduler/degradation).
type Degradation struct {
	State       prometheus.Gauge
	Transitions *prometheus.CounterVec
}

var (
	once       sync.Once
	poolInst   *Pool
	brokerInst *Broker
	degInst    *Degradation
)

func init() {
	once.Do(registerAll)
}

func registerAll() {
	poolInst = &Pool{
		Acquired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pluginrt", Subsystem: "pool", Name: "acquired_total",
			Help: "Worker acquisitions completed successfully.",
		}),
		QueueFull: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pluginrt", Subsystem: "pool", Name: "queue_full_total",
			Help: "Acquire requests rejected because the pool queue was full.",
		}),
		AcquireTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pluginrt", Subsystem: "pool", Name: "acquire_timeouts_total",
			Help: "Acquire requests that timed out waiting for a worker.",
		}),
		WorkersSpawned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pluginrt", Subsystem: "pool", Name: "workers_spawned_total",
			Help: "Worker processes spawned.",
		}),
		WorkersKilled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pluginrt", Subsystem: "pool", Name: "workers_killed_total",
			Help: "Worker processes killed (recycled or unhealthy).",
		}),
		ActiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "pluginrt", Subsystem: "pool", Name: "active_workers",
			Help: "Workers currently tracked by the pool.",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "pluginrt", Subsystem: "pool", Name: "queue_depth",
			Help: "Requests currently waiting for a worker.",
		}),
		ExecuteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pluginrt", Subsystem: "pool", Name: "execute_duration_seconds",
			Help: "Duration of worker-backed Execute calls.", Buckets: prometheus.DefBuckets,
		}),
	}

	brokerInst = &Broker{
		Submitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pluginrt", Subsystem: "broker", Name: "submitted_total",
			Help: "Jobs submitted, labeled by outcome.",
		}, []string{"outcome"}),
		QuotaRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pluginrt", Subsystem: "broker", Name: "quota_rejected_total",
			Help: "Submissions rejected for exceeding a job quota window.",
		}),
		DegradedDelays: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pluginrt", Subsystem: "broker", Name: "degraded_delays_total",
			Help: "Submissions delayed by the degradation controller.",
		}),
		JobsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pluginrt", Subsystem: "broker", Name: "jobs_completed_total",
			Help: "Jobs completed, labeled by terminal status.",
		}, []string{"status"}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pluginrt", Subsystem: "broker", Name: "job_duration_seconds",
			Help: "Duration from dequeue to terminal state.", Buckets: prometheus.DefBuckets,
		}),
	}

	degInst = &Degradation{
		State: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "pluginrt", Subsystem: "degradation", Name: "state",
			Help: "Current degradation level: 0=normal, 1=degraded, 2=critical.",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pluginrt", Subsystem: "degradation", Name: "transitions_total",
			Help: "Degradation state transitions, labeled by from/to.",
		}, []string{"from", "to"}),
	}
}

func PoolMetrics() *Pool             { return poolInst }
func BrokerMetrics() *Broker         { return brokerInst }
func DegradationMetrics() *Degradation { return degInst }
