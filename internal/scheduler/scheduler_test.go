package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/clock"
	"github.com/opsdeck/foreman/internal/executor"
	"github.com/opsdeck/foreman/internal/lineage"
	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/repository"
)

func newTestScheduler(t *testing.T, onProgress func(string)) (*Scheduler, context.CancelFunc) {
	t.Helper()
	root := t.TempDir()
	b := bus.New()
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	lin := lineage.New(repository.NewMemory(), b, c)
	exec := executor.New(b, c, lin)
	s := New(b, c, exec, root, onProgress)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	return s, cancel
}

func waitForTerminal(t *testing.T, s *Scheduler, workflowID string, timeout time.Duration) []*model.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		tasks := s.Snapshot(workflowID)
		allTerminal := len(tasks) > 0
		for _, task := range tasks {
			if !task.Terminal() {
				allTerminal = false
				break
			}
		}
		if allTerminal {
			return tasks
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("workflow %s did not reach a terminal state within %s", workflowID, timeout)
	return nil
}

func TestSubmitRunsDependentTasksInOrder(t *testing.T) {
	s, cancel := newTestScheduler(t, nil)
	defer cancel()

	tasks := []*model.Task{
		{ID: "a", WorkflowID: "wf-1", Agent: "backend", Status: model.TaskPending, Commands: []string{"echo a"}},
		{ID: "b", WorkflowID: "wf-1", Agent: "backend", Status: model.TaskPending, Commands: []string{"echo b"}, DependsOn: []string{"a"}},
	}
	s.Submit("wf-1", tasks)

	got := waitForTerminal(t, s, "wf-1", 2*time.Second)
	for _, task := range got {
		if task.Status != model.TaskCompleted {
			t.Fatalf("task %s status = %q, want completed", task.ID, task.Status)
		}
	}
}

func TestFailedTaskCancelsDependents(t *testing.T) {
	s, cancel := newTestScheduler(t, nil)
	defer cancel()

	tasks := []*model.Task{
		{ID: "a", WorkflowID: "wf-2", Agent: "backend", Status: model.TaskPending, Commands: []string{"exit 1"}},
		{ID: "b", WorkflowID: "wf-2", Agent: "frontend", Status: model.TaskPending, Commands: []string{"echo b"}, DependsOn: []string{"a"}},
	}
	s.Submit("wf-2", tasks)

	got := waitForTerminal(t, s, "wf-2", 2*time.Second)
	byID := make(map[string]*model.Task, len(got))
	for _, task := range got {
		byID[task.ID] = task
	}
	if byID["a"].Status != model.TaskFailedSt {
		t.Fatalf("task a status = %q, want failed", byID["a"].Status)
	}
	if byID["b"].Status != model.TaskCancelled {
		t.Fatalf("task b status = %q, want cancelled", byID["b"].Status)
	}
}

func TestCancelWorkflowCancelsPendingTasks(t *testing.T) {
	s, cancel := newTestScheduler(t, nil)
	defer cancel()

	tasks := []*model.Task{
		{ID: "a", WorkflowID: "wf-3", Agent: "backend", Status: model.TaskPending, Commands: []string{"sleep 5"}},
		{ID: "b", WorkflowID: "wf-3", Agent: "frontend", Status: model.TaskPending, Commands: []string{"echo b"}, DependsOn: []string{"a"}},
	}
	s.Submit("wf-3", tasks)
	time.Sleep(20 * time.Millisecond) // let task a start running

	s.CancelWorkflow("wf-3", "operator request")

	snap := s.Snapshot("wf-3")
	byID := make(map[string]*model.Task, len(snap))
	for _, task := range snap {
		byID[task.ID] = task
	}
	if byID["b"].Status != model.TaskCancelled {
		t.Fatalf("task b status = %q, want cancelled", byID["b"].Status)
	}
}

func TestAddTaskOnUnknownWorkflowErrors(t *testing.T) {
	s, cancel := newTestScheduler(t, nil)
	defer cancel()

	err := s.AddTask("missing", &model.Task{ID: "x", Agent: "backend"})
	if !model.Is(err, model.InvalidInput) {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
}

func TestTerminalEventCarriesDurationAndLoadGauges(t *testing.T) {
	s, cancel := newTestScheduler(t, nil)
	defer cancel()

	ch, unsubscribe := s.bus.Subscribe(16)
	defer unsubscribe()

	s.Submit("wf-5", []*model.Task{
		{ID: "a", WorkflowID: "wf-5", Agent: "backend", Status: model.TaskPending, Commands: []string{"echo a"}},
	})
	waitForTerminal(t, s, "wf-5", 2*time.Second)

	var completed *bus.Event
	deadline := time.Now().Add(2 * time.Second)
drain:
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev.Type == bus.TaskCompleted {
				e := ev
				completed = &e
				break drain
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if completed == nil {
		t.Fatalf("never observed a task_completed event")
	}
	if _, ok := completed.Payload["agents_busy"].(int); !ok {
		t.Fatalf("payload missing agents_busy: %v", completed.Payload)
	}
	if _, ok := completed.Payload["duration_seconds"].(float64); !ok {
		t.Fatalf("payload missing duration_seconds: %v", completed.Payload)
	}
}

func TestOnProgressCalledAfterTaskCompletion(t *testing.T) {
	progressed := make(chan string, 8)
	s, cancel := newTestScheduler(t, func(workflowID string) { progressed <- workflowID })
	defer cancel()

	s.Submit("wf-4", []*model.Task{
		{ID: "a", WorkflowID: "wf-4", Agent: "backend", Status: model.TaskPending, Commands: []string{"echo a"}},
	})

	select {
	case id := <-progressed:
		if id != "wf-4" {
			t.Fatalf("workflow id = %q, want wf-4", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("onProgress was never called")
	}
}
