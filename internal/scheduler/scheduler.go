// Package scheduler implements the Task Scheduler & Dispatcher of spec
// §4.4: one ready queue, one logical execution slot per agent, dispatch
// and cancellation cascades. It owns task execution state; the
// Orchestrator asks it for snapshots rather than mutating tasks directly.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/clock"
	"github.com/opsdeck/foreman/internal/executor"
	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/workspace"
)

const fallbackPollInterval = time.Second

// run is the scheduler's mutable view of one workflow's tasks.
type run struct {
	tasks      map[string]*model.Task // by task id, mutated in place
	order      []string               // arrival order, the ready-queue tie-break
	paused     bool
	cancelled  bool
	cancelFunc map[string]context.CancelFunc
}

// Scheduler dispatches tasks to agent workspaces, one running task per
// agent, respecting dependency order across any number of workflows.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	bus           *bus.Bus
	clock         clock.Clock
	exec          *executor.Executor
	workspaceRoot string

	agentBusy  map[string]bool
	workspaces map[string]*workspace.Workspace
	runs       map[string]*run

	// group fans running tasks out across goroutines for the lifetime of
	// Run; set once at the top of Run and waited on at shutdown.
	group *errgroup.Group

	// onProgress is invoked (outside the lock) after a task transitions,
	// so the Orchestrator can recompute progress and persist state.
	onProgress func(workflowID string)
}

// New returns a Scheduler whose workspaces live under workspaceRoot, one
// subdirectory per agent.
func New(b *bus.Bus, c clock.Clock, exec *executor.Executor, workspaceRoot string, onProgress func(workflowID string)) *Scheduler {
	s := &Scheduler{
		bus:           b,
		clock:         c,
		exec:          exec,
		workspaceRoot: workspaceRoot,
		agentBusy:     make(map[string]bool),
		workspaces:    make(map[string]*workspace.Workspace),
		runs:          make(map[string]*run),
		onProgress:    onProgress,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Submit registers a workflow's tasks for scheduling. Tasks must already
// carry their dependency ids; the scheduler does not validate acyclicity
// (the Planner and Orchestrator do, before Submit is called).
func (s *Scheduler) Submit(workflowID string, tasks []*model.Task) {
	s.mu.Lock()
	r := &run{
		tasks:      make(map[string]*model.Task, len(tasks)),
		cancelFunc: make(map[string]context.CancelFunc),
	}
	for _, t := range tasks {
		r.tasks[t.ID] = t
		r.order = append(r.order, t.ID)
		if s.bus != nil {
			s.bus.Publish(bus.Event{Type: bus.TaskQueued, WorkflowID: workflowID, TaskID: t.ID, Agent: t.Agent})
		}
	}
	s.runs[workflowID] = r
	s.cond.Broadcast()
	s.mu.Unlock()
}

// AddTask registers one additional task onto an already-submitted
// workflow (used for the synthetic manager_review and needs_revision
// tasks created after the initial plan).
func (s *Scheduler) AddTask(workflowID string, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[workflowID]
	if !ok {
		return model.NewError(model.InvalidInput, fmt.Sprintf("workflow %q is not scheduled", workflowID), nil)
	}
	r.tasks[t.ID] = t
	r.order = append(r.order, t.ID)
	if s.bus != nil {
		s.bus.Publish(bus.Event{Type: bus.TaskQueued, WorkflowID: workflowID, TaskID: t.ID, Agent: t.Agent})
	}
	s.cond.Broadcast()
	return nil
}

// Snapshot returns clones of every task tracked for workflowID, in arrival
// order.
func (s *Scheduler) Snapshot(workflowID string) []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[workflowID]
	if !ok {
		return nil
	}
	out := make([]*model.Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id].Clone())
	}
	return out
}

// PauseWorkflow stops the scheduler from selecting new tasks for
// workflowID; already-running tasks continue.
func (s *Scheduler) PauseWorkflow(workflowID string) {
	s.mu.Lock()
	if r, ok := s.runs[workflowID]; ok {
		r.paused = true
	}
	s.mu.Unlock()
}

// ResumeWorkflow re-enables selection for workflowID.
func (s *Scheduler) ResumeWorkflow(workflowID string) {
	s.mu.Lock()
	if r, ok := s.runs[workflowID]; ok {
		r.paused = false
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// CancelWorkflow cancels every non-terminal task of workflowID: queued
// tasks are marked cancelled directly, running tasks receive a cancel
// signal.
func (s *Scheduler) CancelWorkflow(workflowID, reason string) {
	s.mu.Lock()
	r, ok := s.runs[workflowID]
	if !ok {
		s.mu.Unlock()
		return
	}
	r.cancelled = true
	var toNotify []string
	for _, id := range r.order {
		t := r.tasks[id]
		switch t.Status {
		case model.TaskPending:
			t.Status = model.TaskCancelled
			t.CancelReason = reason
			toNotify = append(toNotify, id)
		case model.TaskRunning:
			if cancel, ok := r.cancelFunc[id]; ok {
				cancel()
			}
		}
	}
	s.mu.Unlock()

	for _, id := range toNotify {
		if s.bus != nil {
			s.bus.Publish(bus.Event{Type: bus.TaskCancelled, WorkflowID: workflowID, TaskID: id, Payload: map[string]interface{}{"reason": reason}})
		}
	}
	if s.onProgress != nil {
		s.onProgress(workflowID)
	}
}

// CancelTask cancels a single task: removed from the ready queue if
// pending, signalled if running.
func (s *Scheduler) CancelTask(workflowID, taskID, reason string) error {
	s.mu.Lock()
	r, ok := s.runs[workflowID]
	if !ok {
		s.mu.Unlock()
		return model.NewError(model.InvalidInput, fmt.Sprintf("workflow %q is not scheduled", workflowID), nil)
	}
	t, ok := r.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return model.NewError(model.InvalidInput, fmt.Sprintf("task %q not found", taskID), nil)
	}
	switch t.Status {
	case model.TaskPending:
		t.Status = model.TaskCancelled
		t.CancelReason = reason
	case model.TaskRunning:
		if cancel, ok := r.cancelFunc[taskID]; ok {
			cancel()
		}
	}
	s.mu.Unlock()
	if s.onProgress != nil {
		s.onProgress(workflowID)
	}
	return nil
}

// Run drives the selection loop until ctx is cancelled. Dispatch is
// signalled by Submit/AddTask/task completion; a fallback poll guards
// against a missed signal, per spec §5. Running tasks fan out across
// goroutines via an errgroup scoped to this Run call, so shutdown can wait
// for every in-flight task to observe cancellation before returning.
func (s *Scheduler) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	s.mu.Lock()
	s.group = g
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
	go s.fallbackTicker(ctx)

	s.mu.Lock()
	for ctx.Err() == nil {
		if !s.dispatchReadyLocked(gctx) {
			s.cond.Wait()
		}
	}
	s.mu.Unlock()

	_ = g.Wait()
}

func (s *Scheduler) fallbackTicker(ctx context.Context) {
	ticker := time.NewTicker(fallbackPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		}
	}
}

// dispatchReadyLocked scans every workflow's ready queue once, dispatching
// every task whose dependencies are satisfied and whose agent is idle.
// Must be called with s.mu held; returns whether anything was dispatched.
func (s *Scheduler) dispatchReadyLocked(ctx context.Context) bool {
	workflowIDs := make([]string, 0, len(s.runs))
	for id := range s.runs {
		workflowIDs = append(workflowIDs, id)
	}
	sort.Strings(workflowIDs)

	dispatched := false
	for _, wfID := range workflowIDs {
		r := s.runs[wfID]
		if r.paused || r.cancelled {
			continue
		}
		for _, taskID := range r.order {
			t := r.tasks[taskID]
			if t.Status != model.TaskPending {
				continue
			}
			if s.agentBusy[t.Agent] {
				continue
			}
			if !s.dependenciesComplete(r, t) {
				continue
			}
			s.startTaskLocked(ctx, wfID, r, t)
			dispatched = true
		}
	}
	return dispatched
}

// queueDepthLocked counts tasks still pending dispatch across every active
// run. Must be called with s.mu held.
func (s *Scheduler) queueDepthLocked() int {
	depth := 0
	for _, r := range s.runs {
		for _, t := range r.tasks {
			if t.Status == model.TaskPending {
				depth++
			}
		}
	}
	return depth
}

// agentsBusyLocked counts agents currently executing a task. Must be called
// with s.mu held.
func (s *Scheduler) agentsBusyLocked() int {
	busy := 0
	for _, b := range s.agentBusy {
		if b {
			busy++
		}
	}
	return busy
}

// gaugePayloadLocked reports the scheduler's current load alongside a task
// transition event, so metrics.Listen can update its gauges without polling
// the scheduler directly. Must be called with s.mu held.
func (s *Scheduler) gaugePayloadLocked() map[string]interface{} {
	return map[string]interface{}{
		"queue_depth": s.queueDepthLocked(),
		"agents_busy": s.agentsBusyLocked(),
	}
}

func (s *Scheduler) dependenciesComplete(r *run, t *model.Task) bool {
	for _, depID := range t.DependsOn {
		dep, ok := r.tasks[depID]
		if !ok || dep.Status != model.TaskCompleted {
			return false
		}
	}
	return true
}

// startTaskLocked marks t running and spawns its execution in a goroutine.
// Must be called with s.mu held.
func (s *Scheduler) startTaskLocked(ctx context.Context, workflowID string, r *run, t *model.Task) {
	s.agentBusy[t.Agent] = true
	now := s.clock.Now()
	t.Status = model.TaskRunning
	t.StartTime = &now

	taskCtx, cancel := context.WithCancel(ctx)
	r.cancelFunc[t.ID] = cancel

	if s.bus != nil {
		s.bus.Publish(bus.Event{Type: bus.TaskStarted, WorkflowID: workflowID, TaskID: t.ID, Agent: t.Agent, Payload: s.gaugePayloadLocked()})
	}

	s.group.Go(func() error {
		s.runTask(taskCtx, cancel, workflowID, r, t)
		return nil
	})
}

func (s *Scheduler) runTask(ctx context.Context, cancel context.CancelFunc, workflowID string, r *run, t *model.Task) {
	defer cancel()

	ws, err := s.workspaceFor(t.Agent)
	var outcome executor.Outcome
	if err != nil {
		outcome = executor.Outcome{Status: model.TaskFailedSt, ErrReason: err.Error()}
	} else {
		outcome, err = s.exec.Execute(ctx, t, ws)
		if err != nil {
			outcome = executor.Outcome{Status: model.TaskFailedSt, ErrReason: err.Error()}
		}
	}

	s.mu.Lock()
	end := s.clock.Now()
	t.EndTime = &end
	t.Exit = outcome.Exit
	delete(r.cancelFunc, t.ID)
	s.agentBusy[t.Agent] = false

	var cascaded []string
	if ctx.Err() == context.Canceled {
		t.Status = model.TaskCancelled
		if t.CancelReason == "" {
			t.CancelReason = "cancelled"
		}
	} else {
		t.Status = outcome.Status
		t.Error = outcome.ErrReason
		if t.Status == model.TaskFailedSt {
			cascaded = s.cancelDependentsLocked(r, t.ID, "upstream failed")
		}
	}
	gauges := s.gaugePayloadLocked()
	s.cond.Broadcast()
	s.mu.Unlock()

	s.publishTerminal(workflowID, t, gauges)
	for _, id := range cascaded {
		if s.bus != nil {
			s.bus.Publish(bus.Event{Type: bus.TaskCancelled, WorkflowID: workflowID, TaskID: id, Payload: map[string]interface{}{"reason": "upstream failed"}})
		}
	}
	if s.onProgress != nil {
		s.onProgress(workflowID)
	}
}

// publishTerminal publishes a task's completion event, carrying its
// wall-clock duration and the scheduler's current load (payload, computed
// under s.mu by the caller) so metrics.Listen can observe both without a
// second lookup.
func (s *Scheduler) publishTerminal(workflowID string, t *model.Task, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	typ := bus.TaskCompleted
	switch t.Status {
	case model.TaskFailedSt:
		typ = bus.TaskFailed
	case model.TaskCancelled:
		typ = bus.TaskCancelled
	}
	if t.StartTime != nil && t.EndTime != nil {
		payload["duration_seconds"] = t.EndTime.Sub(*t.StartTime).Seconds()
	}
	s.bus.Publish(bus.Event{Type: typ, WorkflowID: workflowID, TaskID: t.ID, Agent: t.Agent, Payload: payload})
}

// cancelDependentsLocked transitively cancels every dependent of failedID
// still pending or running. Must be called with s.mu held. Returns the ids
// of tasks cancelled while pending (running ones are signalled and report
// their own cancellation once their goroutine observes ctx.Err()).
func (s *Scheduler) cancelDependentsLocked(r *run, failedID, reason string) []string {
	dependents := make(map[string][]string) // dep id -> dependents
	for _, id := range r.order {
		t := r.tasks[id]
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var cancelled []string
	queue := []string{failedID}
	seen := map[string]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, depID := range dependents[id] {
			if seen[depID] {
				continue
			}
			seen[depID] = true
			t := r.tasks[depID]
			switch t.Status {
			case model.TaskPending:
				t.Status = model.TaskCancelled
				t.CancelReason = reason
				cancelled = append(cancelled, depID)
			case model.TaskRunning:
				if cancel, ok := r.cancelFunc[depID]; ok {
					t.CancelReason = reason
					cancel()
				}
			}
			queue = append(queue, depID)
		}
	}
	return cancelled
}

func (s *Scheduler) workspaceFor(agentName string) (*workspace.Workspace, error) {
	s.mu.Lock()
	ws, ok := s.workspaces[agentName]
	s.mu.Unlock()
	if ok {
		return ws, nil
	}
	ws, err := workspace.New(agentName, filepath.Join(s.workspaceRoot, agentName))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.workspaces[agentName] = ws
	s.mu.Unlock()
	return ws, nil
}
