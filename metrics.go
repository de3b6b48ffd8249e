package job_scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "job_scheduler"

// Metrics 调度器指标，reg为nil时只创建不注册
type Metrics struct {
	Scheduled  *prometheus.CounterVec
	Assigned   prometheus.Counter
	Dequeued   prometheus.Counter
	Executed   *prometheus.CounterVec
	Retried    prometheus.Counter
	Dead       prometheus.Counter
	Reassigned prometheus.Counter
	Todo       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Scheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_scheduled_total",
			Help:      "Jobs accepted by the scheduler, by kind.",
		}, []string{"kind"}),
		Assigned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_assigned_total",
			Help:      "Unassigned jobs claimed by this node's partition.",
		}),
		Dequeued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_dequeued_total",
			Help:      "Jobs marked in flight by the local dequeuer.",
		}),
		Executed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_executed_total",
			Help:      "Handler invocations, by result.",
		}, []string{"result"}),
		Retried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_retried_total",
			Help:      "Failed jobs rescheduled with back-off.",
		}),
		Dead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_dead_total",
			Help:      "Jobs that reached the terminal failure path.",
		}),
		Reassigned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_reassigned_total",
			Help:      "Jobs moved from a dead node to a survivor.",
		}),
		Todo: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "todo_jobs",
			Help:      "Jobs waiting in the local todo queue.",
		}),
	}
}
