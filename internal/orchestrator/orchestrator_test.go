package orchestrator

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeck/foreman/internal/agent"
	"github.com/opsdeck/foreman/internal/approval"
	"github.com/opsdeck/foreman/internal/brief"
	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/clock"
	"github.com/opsdeck/foreman/internal/executor"
	"github.com/opsdeck/foreman/internal/lineage"
	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/planner"
	"github.com/opsdeck/foreman/internal/repository"
	"github.com/opsdeck/foreman/internal/ruleset"
	"github.com/opsdeck/foreman/internal/scheduler"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, context.CancelFunc) {
	t.Helper()
	root := t.TempDir()
	repo := repository.NewMemory()
	b := bus.New()
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rules := ruleset.Default()

	registry := agent.NewRegistry(agent.DefaultRoster())

	lin := lineage.New(repo, b, c)
	exec := executor.New(b, c, lin)
	briefs := brief.New(c, registry)
	pl := planner.New(rules, registry)

	var orch *Orchestrator
	sched := scheduler.New(b, c, exec, root, func(workflowID string) { orch.OnTaskProgress(workflowID) })
	gate := approval.New(repo, b, c, rules)

	orch = New(zap.NewNop().Sugar(), repo, b, c, briefs, pl, sched, lin, gate)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	return orch, cancel
}

func waitForStatus(t *testing.T, orch *Orchestrator, workflowID, status string, timeout time.Duration) *model.Workflow {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		wf, err := orch.GetWorkflow(workflowID)
		if err != nil {
			t.Fatalf("get workflow: %v", err)
		}
		if wf.Status == status {
			return wf
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("workflow %s did not reach status %q within %s", workflowID, status, timeout)
	return nil
}

func TestCreateWorkflowFromDirectiveRunsToApproval(t *testing.T) {
	orch, cancel := newTestOrchestrator(t)
	defer cancel()

	wf, err := orch.CreateWorkflow(context.Background(), "Do something useful", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	if wf.Status != model.WorkflowInProgress {
		t.Fatalf("status = %q, want in_progress", wf.Status)
	}

	waitForStatus(t, orch, wf.ID, model.WorkflowWaitingApproval, 3*time.Second)
}

func TestRecordApprovalDecisionCompletesWorkflow(t *testing.T) {
	orch, cancel := newTestOrchestrator(t)
	defer cancel()

	wf, err := orch.CreateWorkflow(context.Background(), "Do something useful", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	waitForStatus(t, orch, wf.ID, model.WorkflowWaitingApproval, 3*time.Second)

	decided, err := orch.RecordApprovalDecision(context.Background(), wf.ID, model.ApprovalApproved, "ceo", "ship it")
	if err != nil {
		t.Fatalf("record decision: %v", err)
	}
	if decided.Status != model.WorkflowCompleted {
		t.Fatalf("status = %q, want completed", decided.Status)
	}
}

func TestCreateWorkflowRejectsEmptyDirectiveWithoutBrief(t *testing.T) {
	orch, cancel := newTestOrchestrator(t)
	defer cancel()

	if _, err := orch.CreateWorkflow(context.Background(), "", ""); !model.Is(err, model.InvalidInput) {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
}

func TestCancelWorkflowMarksFailedAndRejectsSecondCancel(t *testing.T) {
	orch, cancel := newTestOrchestrator(t)
	defer cancel()

	wf, err := orch.CreateWorkflow(context.Background(), "Do something useful", "")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	cancelled, err := orch.CancelWorkflow(context.Background(), wf.ID, "operator changed their mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.WorkflowFailed {
		t.Fatalf("status = %q, want failed", cancelled.Status)
	}

	if _, err := orch.CancelWorkflow(context.Background(), wf.ID, "again"); !model.Is(err, model.InvalidInput) {
		t.Fatalf("err = %v, want InvalidInput for an already-terminal workflow", err)
	}
}

func TestListWorkflowsFiltersByStatus(t *testing.T) {
	orch, cancel := newTestOrchestrator(t)
	defer cancel()

	wf1, err := orch.CreateWorkflow(context.Background(), "Do something useful", "")
	if err != nil {
		t.Fatalf("create workflow 1: %v", err)
	}
	if _, err := orch.CreateWorkflow(context.Background(), "Do something else useful", ""); err != nil {
		t.Fatalf("create workflow 2: %v", err)
	}

	if _, err := orch.CancelWorkflow(context.Background(), wf1.ID, "test"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	failed := orch.ListWorkflows(repository.WorkflowFilter{Status: model.WorkflowFailed})
	if len(failed) != 1 || failed[0].ID != wf1.ID {
		t.Fatalf("failed workflows = %v, want exactly [%s]", failed, wf1.ID)
	}
}

func TestGetWorkflowUnknownIDReturnsInvalidInput(t *testing.T) {
	orch, cancel := newTestOrchestrator(t)
	defer cancel()

	if _, err := orch.GetWorkflow("missing"); !model.Is(err, model.InvalidInput) {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
}
