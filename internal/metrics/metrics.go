// Package metrics registers the engine's Prometheus collectors: workflow
// throughput, task outcomes and durations, scheduler queue depth, and
// persistence retry counts. One Registry is created at startup and its
// Handler mounted under /metrics by the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Registry holds every collector the engine updates during a run.
type Registry struct {
	reg *prometheus.Registry

	WorkflowsCreated   prometheus.Counter
	WorkflowsCompleted prometheus.Counter
	WorkflowsFailed    prometheus.Counter
	WorkflowsRejected  prometheus.Counter

	TasksStarted   *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec

	SchedulerQueueDepth prometheus.Gauge
	AgentsBusy          prometheus.Gauge

	ApprovalsRequested prometheus.Counter
	ApprovalsDecided   *prometheus.CounterVec
	EmergencyUnblocks  prometheus.Counter

	PersistenceRetries  prometheus.Counter
	PersistenceDegraded prometheus.Counter
}

// New builds and registers every collector against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		WorkflowsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foreman", Subsystem: "workflows", Name: "created_total",
			Help: "Workflows created.",
		}),
		WorkflowsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foreman", Subsystem: "workflows", Name: "completed_total",
			Help: "Workflows that reached completed.",
		}),
		WorkflowsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foreman", Subsystem: "workflows", Name: "failed_total",
			Help: "Workflows that reached failed.",
		}),
		WorkflowsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foreman", Subsystem: "workflows", Name: "rejected_total",
			Help: "Workflows rejected at the approval gate.",
		}),
		TasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman", Subsystem: "tasks", Name: "started_total",
			Help: "Tasks dispatched, by agent.",
		}, []string{"agent"}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman", Subsystem: "tasks", Name: "completed_total",
			Help: "Tasks that completed successfully, by agent.",
		}, []string{"agent"}),
		TasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman", Subsystem: "tasks", Name: "failed_total",
			Help: "Tasks that failed or were cancelled, by agent and reason.",
		}, []string{"agent", "reason"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "foreman", Subsystem: "tasks", Name: "duration_seconds",
			Help:    "Task wall-clock duration, by agent.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"agent"}),
		SchedulerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "foreman", Subsystem: "scheduler", Name: "queue_depth",
			Help: "Tasks currently pending dispatch across all active workflows.",
		}),
		AgentsBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "foreman", Subsystem: "scheduler", Name: "agents_busy",
			Help: "Agents currently executing a task.",
		}),
		ApprovalsRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foreman", Subsystem: "approvals", Name: "requested_total",
			Help: "Approval requests submitted.",
		}),
		ApprovalsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman", Subsystem: "approvals", Name: "decided_total",
			Help: "Approval decisions, by outcome.",
		}, []string{"decision"}),
		EmergencyUnblocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foreman", Subsystem: "approvals", Name: "emergency_unblocks_total",
			Help: "Emergency unblocks issued.",
		}),
		PersistenceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foreman", Subsystem: "persistence", Name: "retries_total",
			Help: "Transient persistence failures retried.",
		}),
		PersistenceDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foreman", Subsystem: "persistence", Name: "degraded_total",
			Help: "Persistence operations that exhausted retries.",
		}),
	}

	reg.MustRegister(
		r.WorkflowsCreated, r.WorkflowsCompleted, r.WorkflowsFailed, r.WorkflowsRejected,
		r.TasksStarted, r.TasksCompleted, r.TasksFailed, r.TaskDuration,
		r.SchedulerQueueDepth, r.AgentsBusy,
		r.ApprovalsRequested, r.ApprovalsDecided, r.EmergencyUnblocks,
		r.PersistenceRetries, r.PersistenceDegraded,
	)
	return r
}

// Handler serves the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
