// Package orchestrator implements the Workflow Orchestrator of spec §4.1:
// it creates workflows from a brief or raw directive, drives the state
// machine as tasks complete, and invokes the Approval Gate at the right
// moment. It is the single owner of each Workflow's envelope fields
// (status, timestamps, metadata); task execution state is owned by the
// Scheduler and merged in on read.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdeck/foreman/internal/approval"
	"github.com/opsdeck/foreman/internal/brief"
	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/clock"
	"github.com/opsdeck/foreman/internal/lineage"
	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/planner"
	"github.com/opsdeck/foreman/internal/repository"
	"github.com/opsdeck/foreman/internal/scheduler"
)

// Orchestrator coordinates brief analysis, planning, scheduling, and
// approval for every workflow.
type Orchestrator struct {
	log   *zap.SugaredLogger
	repo  repository.Repository
	bus   *bus.Bus
	clock clock.Clock

	briefs    *brief.Manager
	planner   *planner.Planner
	scheduler *scheduler.Scheduler
	lineage   *lineage.Service
	gate      *approval.Gate

	mu        sync.Mutex
	workflows map[string]*model.Workflow
}

// New wires an Orchestrator from its collaborators.
func New(
	log *zap.SugaredLogger,
	repo repository.Repository,
	b *bus.Bus,
	c clock.Clock,
	briefs *brief.Manager,
	p *planner.Planner,
	sched *scheduler.Scheduler,
	lin *lineage.Service,
	gate *approval.Gate,
) *Orchestrator {
	return &Orchestrator{
		log:       log,
		repo:      repo,
		bus:       b,
		clock:     c,
		briefs:    briefs,
		planner:   p,
		scheduler: sched,
		lineage:   lin,
		gate:      gate,
		workflows: make(map[string]*model.Workflow),
	}
}

// OnTaskProgress is passed to the Scheduler as its progress hook.
func (o *Orchestrator) OnTaskProgress(workflowID string) {
	if err := o.refreshProgress(context.Background(), workflowID); err != nil {
		o.log.Errorw("refreshing workflow progress", "workflow_id", workflowID, "error", err)
	}
}

// CreateWorkflow creates a workflow either from a brief id (finalized) or
// directly from a raw directive (skipping clarification, using defaults).
func (o *Orchestrator) CreateWorkflow(ctx context.Context, directive, briefID string) (*model.Workflow, error) {
	var fb *model.FinalizedBrief

	if briefID != "" {
		b, err := o.briefs.Get(briefID)
		if err != nil {
			return nil, err
		}
		if b.HasUnresolvedAgentMismatch() {
			return nil, model.NewError(model.Unresolved, "brief has an unresolved agent_mismatch question", nil)
		}
		if len(b.UnresolvedRequired()) > 0 {
			return nil, model.NewError(model.Unresolved, "brief has unresolved required clarifying questions", nil)
		}
		if b.Finalized == nil {
			finalized, err := o.briefs.Finalize(briefID)
			if err != nil {
				return nil, err
			}
			fb = finalized.Finalized
		} else {
			fb = b.Finalized
		}
		directive = b.Directive
	} else {
		if directive == "" {
			return nil, model.NewError(model.InvalidInput, "directive or brief id is required", nil)
		}
		fb = &model.FinalizedBrief{
			Directive:   directive,
			ProjectKind: "generic",
			Scope:       "prototype",
			Timeline:    "standard",
		}
	}

	plan, err := o.planner.Plan(fb)
	if err != nil {
		return nil, err
	}

	wf := &model.Workflow{
		ID:        uuid.New().String(),
		Directive: directive,
		BriefID:   briefID,
		Status:    model.WorkflowPlanned,
		StartTime: o.clock.Now(),
		Tasks:     plan.Tasks,
		Metadata:  map[string]interface{}{"plan_explanation": plan.HumanExplanation},
	}
	for _, t := range wf.Tasks {
		t.WorkflowID = wf.ID
	}
	wf.RecomputeProgress()

	wf.Status = model.WorkflowInProgress

	o.mu.Lock()
	o.workflows[wf.ID] = wf
	o.mu.Unlock()

	if err := o.persist(ctx, wf); err != nil {
		return nil, err
	}
	o.bus.Publish(bus.Event{Type: bus.WorkflowCreated, WorkflowID: wf.ID})

	o.scheduler.Submit(wf.ID, wf.Tasks)

	return wf.Clone(), nil
}

// GetWorkflow merges the in-memory envelope with the scheduler's current
// task snapshot. The durable store is not consulted here: this process's
// memory is canonical for a workflow it created.
func (o *Orchestrator) GetWorkflow(id string) (*model.Workflow, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	wf, ok := o.workflows[id]
	if !ok {
		return nil, model.NewError(model.InvalidInput, fmt.Sprintf("workflow %q not found", id), nil)
	}
	o.mergeTasksLocked(wf)
	return wf.Clone(), nil
}

// ListWorkflows returns newest-first workflows, optionally filtered.
func (o *Orchestrator) ListWorkflows(filter repository.WorkflowFilter) []*model.Workflow {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*model.Workflow, 0, len(o.workflows))
	for _, wf := range o.workflows {
		o.mergeTasksLocked(wf)
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		out = append(out, wf.Clone())
	}
	sortWorkflowsNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func sortWorkflowsNewestFirst(wfs []*model.Workflow) {
	for i := 1; i < len(wfs); i++ {
		for j := i; j > 0 && wfs[j].StartTime.After(wfs[j-1].StartTime); j-- {
			wfs[j], wfs[j-1] = wfs[j-1], wfs[j]
		}
	}
}

// mergeTasksLocked replaces wf.Tasks with the scheduler's live snapshot.
// Must be called with o.mu held.
func (o *Orchestrator) mergeTasksLocked(wf *model.Workflow) {
	if snap := o.scheduler.Snapshot(wf.ID); snap != nil {
		wf.Tasks = snap
	}
	wf.RecomputeProgress()
}

// CancelWorkflow transitions a non-terminal workflow to failed and cancels
// every non-terminal task.
func (o *Orchestrator) CancelWorkflow(ctx context.Context, id, reason string) (*model.Workflow, error) {
	o.mu.Lock()
	wf, ok := o.workflows[id]
	if !ok {
		o.mu.Unlock()
		return nil, model.NewError(model.InvalidInput, fmt.Sprintf("workflow %q not found", id), nil)
	}
	if wf.Terminal() {
		o.mu.Unlock()
		return nil, model.NewError(model.InvalidInput, fmt.Sprintf("workflow %q is already terminal (%s)", id, wf.Status), nil)
	}
	wf.Status = model.WorkflowFailed
	end := o.clock.Now()
	wf.EndTime = &end
	wf.AppendFailureReason(fmt.Sprintf("cancelled: %s", reason))
	o.mu.Unlock()

	o.scheduler.CancelWorkflow(id, reason)
	if err := o.persist(ctx, wf); err != nil {
		return nil, err
	}
	o.bus.Publish(bus.Event{Type: bus.WorkflowCancelled, WorkflowID: id, Payload: map[string]interface{}{"reason": reason}})

	o.mu.Lock()
	o.mergeTasksLocked(wf)
	snapshot := wf.Clone()
	o.mu.Unlock()
	return snapshot, nil
}

// refreshProgress recomputes a workflow's progress from the scheduler's
// current task state and advances the state machine: executing once past
// half-pending, submit-for-approval once the manager review completes,
// complete/fail once the workflow is past approval.
func (o *Orchestrator) refreshProgress(ctx context.Context, workflowID string) error {
	o.mu.Lock()
	wf, ok := o.workflows[workflowID]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	if wf.Terminal() {
		o.mu.Unlock()
		return nil
	}
	o.mergeTasksLocked(wf)

	if wf.Status == model.WorkflowInProgress && pastHalfPending(wf.Tasks) {
		wf.Status = model.WorkflowExecuting
	}

	reviewTask, reviewDone := managerReviewState(wf.Tasks)
	allDone := wf.Progress.Completed+wf.Progress.Failed == wf.Progress.Total
	needsApprovalSubmit := allDone && reviewDone && wf.Status != model.WorkflowWaitingApproval
	anyFailed := wf.Progress.Failed > 0

	snapshot := wf.Clone()
	o.mu.Unlock()

	if err := o.persist(ctx, snapshot); err != nil {
		return err
	}
	o.bus.Publish(bus.Event{Type: bus.WorkflowProgress, WorkflowID: workflowID, Payload: map[string]interface{}{
		"completed": snapshot.Progress.Completed, "failed": snapshot.Progress.Failed,
		"total": snapshot.Progress.Total, "percentage": snapshot.Progress.Percentage,
	}})

	switch {
	case allDone && anyFailed:
		return o.failWorkflow(ctx, workflowID)
	case reviewTask == nil && allDone && !anyFailed:
		return o.enqueueManagerReview(ctx, workflowID)
	case needsApprovalSubmit:
		return o.submitForApproval(ctx, workflowID)
	}
	return nil
}

func pastHalfPending(tasks []*model.Task) bool {
	if len(tasks) == 0 {
		return false
	}
	pending := 0
	for _, t := range tasks {
		if t.Status == model.TaskPending {
			pending++
		}
	}
	return pending*2 < len(tasks)
}

func managerReviewState(tasks []*model.Task) (*model.Task, bool) {
	for _, t := range tasks {
		if t.Type == model.ManagerReviewType {
			return t, t.Status == model.TaskCompleted
		}
	}
	return nil, false
}

// enqueueManagerReview adds the synthetic review task once every planned
// work task has completed, per spec §4.7.
func (o *Orchestrator) enqueueManagerReview(ctx context.Context, workflowID string) error {
	review := &model.Task{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Title:      "Manager review",
		Agent:      "manager",
		Type:       model.ManagerReviewType,
		Status:     model.TaskPending,
		Commands:   []string{"echo manager-review"},
		Estimated:  10,
	}
	return o.scheduler.AddTask(workflowID, review)
}

// failWorkflow ends a workflow whose tasks include at least one failure.
func (o *Orchestrator) failWorkflow(ctx context.Context, workflowID string) error {
	o.mu.Lock()
	wf := o.workflows[workflowID]
	if wf == nil || wf.Terminal() {
		o.mu.Unlock()
		return nil
	}
	wf.Status = model.WorkflowFailed
	end := o.clock.Now()
	wf.EndTime = &end
	for _, t := range wf.Tasks {
		if t.Status == model.TaskFailedSt {
			wf.AppendFailureReason(t.Error)
		}
	}
	snapshot := wf.Clone()
	o.mu.Unlock()

	if err := o.persist(ctx, snapshot); err != nil {
		return err
	}
	o.bus.Publish(bus.Event{Type: bus.WorkflowFailed, WorkflowID: workflowID})
	return nil
}

// submitForApproval freezes the workflow and asks the Approval Gate to
// compute and persist the request.
func (o *Orchestrator) submitForApproval(ctx context.Context, workflowID string) error {
	o.mu.Lock()
	wf := o.workflows[workflowID]
	if wf == nil || wf.Status == model.WorkflowWaitingApproval {
		o.mu.Unlock()
		return nil
	}
	wf.Status = model.WorkflowWaitingApproval
	snapshotTasks := append([]*model.Task(nil), wf.Tasks...)
	directive := wf.Directive
	start := wf.StartTime
	snapshot := wf.Clone()
	o.mu.Unlock()

	artifacts := o.lineage.Search(model.SearchCriteria{WorkflowID: workflowID})
	_, reviewDone := managerReviewState(snapshotTasks)

	if err := o.persist(ctx, snapshot); err != nil {
		return err
	}

	_, err := o.gate.Submit(ctx, workflowID, approval.WorkflowSnapshot{
		Directive:       directive,
		Tasks:           snapshotTasks,
		ArtifactCount:   len(artifacts),
		StartTime:       start,
		ManagerReviewOK: reviewDone,
	}, "orchestrator")
	return err
}

// SubmitForApproval is the public, caller-invocable variant (e.g. from an
// adapter driving a manual review workflow); it delegates to the same
// internal path the state machine uses automatically.
func (o *Orchestrator) SubmitForApproval(ctx context.Context, workflowID string) error {
	return o.submitForApproval(ctx, workflowID)
}

// RecordApprovalDecision applies an executive decision. "approved" marks
// the workflow completed; "rejected" is terminal; "needs_revision" enqueues
// a revision task and returns the workflow to in_progress.
func (o *Orchestrator) RecordApprovalDecision(ctx context.Context, workflowID, decision, approver, comments string) (*model.Workflow, error) {
	if _, err := o.gate.Decide(ctx, workflowID, decision, approver, comments); err != nil {
		return nil, err
	}

	o.mu.Lock()
	wf, ok := o.workflows[workflowID]
	if !ok {
		o.mu.Unlock()
		return nil, model.NewError(model.InvalidInput, fmt.Sprintf("workflow %q not found", workflowID), nil)
	}
	end := o.clock.Now()
	switch decision {
	case model.ApprovalApproved:
		wf.Status = model.WorkflowCompleted
		wf.EndTime = &end
	case model.ApprovalRejected:
		wf.Status = model.WorkflowRejected
		wf.EndTime = &end
	case model.ApprovalNeedsRevision:
		wf.Status = model.WorkflowNeedsRevision
	}
	snapshot := wf.Clone()
	o.mu.Unlock()

	if err := o.persist(ctx, snapshot); err != nil {
		return nil, err
	}
	switch decision {
	case model.ApprovalApproved:
		o.bus.Publish(bus.Event{Type: bus.WorkflowCompleted, WorkflowID: workflowID})
	case model.ApprovalRejected:
		o.bus.Publish(bus.Event{Type: bus.WorkflowFailed, WorkflowID: workflowID, Payload: map[string]interface{}{"reason": "rejected"}})
	case model.ApprovalNeedsRevision:
		if err := o.enqueueRevision(workflowID, comments); err != nil {
			return nil, err
		}
		o.mu.Lock()
		wf.Status = model.WorkflowInProgress
		snapshot = wf.Clone()
		o.mu.Unlock()
		if err := o.persist(ctx, snapshot); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}

// EmergencyUnblock forces completion regardless of prior state.
func (o *Orchestrator) EmergencyUnblock(ctx context.Context, workflowID, approver, reason string) (*model.Workflow, error) {
	if _, err := o.gate.EmergencyUnblock(ctx, workflowID, approver, reason); err != nil {
		return nil, err
	}

	o.mu.Lock()
	wf, ok := o.workflows[workflowID]
	if !ok {
		o.mu.Unlock()
		return nil, model.NewError(model.InvalidInput, fmt.Sprintf("workflow %q not found", workflowID), nil)
	}
	wf.Status = model.WorkflowCompleted
	end := o.clock.Now()
	wf.EndTime = &end
	snapshot := wf.Clone()
	o.mu.Unlock()

	if err := o.persist(ctx, snapshot); err != nil {
		return nil, err
	}
	o.bus.Publish(bus.Event{Type: bus.WorkflowCompleted, WorkflowID: workflowID, Payload: map[string]interface{}{"emergency": true}})
	return snapshot, nil
}

func (o *Orchestrator) enqueueRevision(workflowID, comments string) error {
	revision := &model.Task{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Title:      "Address review feedback",
		Description: comments,
		Agent:      "manager",
		Type:       "revision",
		Status:     model.TaskPending,
		Commands:   []string{"echo revision"},
		Estimated:  30,
	}
	return o.scheduler.AddTask(workflowID, revision)
}

// persist saves the workflow with bounded retry, degrading gracefully per
// spec §5's failure-isolation paragraph.
func (o *Orchestrator) persist(ctx context.Context, wf *model.Workflow) error {
	return repository.WithRetry(ctx, o.bus, wf.ID, func(ctx context.Context) error {
		return o.repo.SaveWorkflow(ctx, wf)
	})
}
