package metrics

import (
	"context"

	"github.com/opsdeck/foreman/internal/bus"
)

// Listen subscribes to b and updates r from every event until ctx is
// cancelled. Runs as a background goroutine started once at wiring time.
func Listen(ctx context.Context, b *bus.Bus, r *Registry) {
	ch, unsubscribe := b.Subscribe(256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			apply(r, ev)
		}
	}
}

func apply(r *Registry, ev bus.Event) {
	switch ev.Type {
	case bus.WorkflowCreated:
		r.WorkflowsCreated.Inc()
	case bus.WorkflowCompleted:
		r.WorkflowsCompleted.Inc()
	case bus.WorkflowFailed:
		if reason, _ := ev.Payload["reason"].(string); reason == "rejected" {
			r.WorkflowsRejected.Inc()
		} else {
			r.WorkflowsFailed.Inc()
		}
	case bus.TaskStarted:
		r.TasksStarted.WithLabelValues(ev.Agent).Inc()
		applyGauges(r, ev.Payload)
	case bus.TaskCompleted:
		r.TasksCompleted.WithLabelValues(ev.Agent).Inc()
		applyDuration(r, ev)
	case bus.TaskFailed:
		r.TasksFailed.WithLabelValues(ev.Agent, "error").Inc()
		applyDuration(r, ev)
	case bus.TaskCancelled:
		r.TasksFailed.WithLabelValues(ev.Agent, "cancelled").Inc()
		applyDuration(r, ev)
	case bus.ApprovalRequested:
		r.ApprovalsRequested.Inc()
	case bus.ApprovalDecision:
		decision, _ := ev.Payload["decision"].(string)
		r.ApprovalsDecided.WithLabelValues(decision).Inc()
	case bus.EmergencyUnblock:
		r.EmergencyUnblocks.Inc()
	case bus.PersistenceRetried:
		r.PersistenceRetries.Inc()
	case bus.PersistenceDegraded:
		r.PersistenceDegraded.Inc()
	}
}

// applyGauges updates the scheduler load gauges from a task_started event's
// payload (see Scheduler.gaugePayloadLocked).
func applyGauges(r *Registry, payload map[string]interface{}) {
	if depth, ok := payload["queue_depth"].(int); ok {
		r.SchedulerQueueDepth.Set(float64(depth))
	}
	if busy, ok := payload["agents_busy"].(int); ok {
		r.AgentsBusy.Set(float64(busy))
	}
}

// applyDuration updates the gauges and, for a terminal event carrying a
// duration (set only when the task actually ran), the duration histogram.
func applyDuration(r *Registry, ev bus.Event) {
	applyGauges(r, ev.Payload)
	if seconds, ok := ev.Payload["duration_seconds"].(float64); ok {
		r.TaskDuration.WithLabelValues(ev.Agent).Observe(seconds)
	}
}
