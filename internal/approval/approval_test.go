package approval

import (
	"context"
	"testing"
	"time"

	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/clock"
	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/repository"
	"github.com/opsdeck/foreman/internal/ruleset"
)

func newTestGate() (*Gate, repository.Repository) {
	repo := repository.NewMemory()
	b := bus.New()
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(repo, b, c, ruleset.Default()), repo
}

func TestSubmitScoresLowRiskByDefault(t *testing.T) {
	g, _ := newTestGate()
	req, err := g.Submit(context.Background(), "wf-1", WorkflowSnapshot{
		Directive:       "Build a landing page",
		Tasks:           []*model.Task{{Status: model.TaskCompleted}},
		ArtifactCount:   1,
		ManagerReviewOK: true,
	}, "manager")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Summary.RiskLevel != "low" {
		t.Fatalf("risk = %q, want low", req.Summary.RiskLevel)
	}
	if req.Status != model.ApprovalPending {
		t.Fatalf("status = %q, want pending", req.Status)
	}
}

func TestSubmitFlagsSecurityDirectiveWithoutSecurityTask(t *testing.T) {
	g, _ := newTestGate()
	req, err := g.Submit(context.Background(), "wf-2", WorkflowSnapshot{
		Directive: "Build a donation payment flow",
		Tasks:     []*model.Task{{Agent: "backend", Status: model.TaskCompleted}},
	}, "manager")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Summary.RiskLevel != "high" {
		t.Fatalf("risk = %q, want high", req.Summary.RiskLevel)
	}
	if req.Summary.ComplianceChecks["security_review"] {
		t.Fatalf("expected security_review compliance check to be false")
	}
}

func TestSubmitPenalizesFailedTasksInQualityScore(t *testing.T) {
	g, _ := newTestGate()
	req, err := g.Submit(context.Background(), "wf-3", WorkflowSnapshot{
		Directive: "Build an internal tool",
		Tasks: []*model.Task{
			{Status: model.TaskCompleted},
			{Status: model.TaskFailedSt},
		},
	}, "manager")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Summary.QualityScore != 85 {
		t.Fatalf("quality score = %d, want 85", req.Summary.QualityScore)
	}
}

func TestDecideRejectsUnknownDecision(t *testing.T) {
	g, _ := newTestGate()
	if _, err := g.Submit(context.Background(), "wf-4", WorkflowSnapshot{Directive: "x"}, "manager"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := g.Decide(context.Background(), "wf-4", "maybe", "ceo", ""); !model.Is(err, model.InvalidInput) {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
}

func TestDecideWithoutPendingRequestReturnsApprovalBlocked(t *testing.T) {
	g, _ := newTestGate()
	_, err := g.Decide(context.Background(), "missing", model.ApprovalApproved, "ceo", "")
	if !model.Is(err, model.ApprovalBlocked) {
		t.Fatalf("err = %v, want ApprovalBlocked", err)
	}
}

func TestDecideTwiceIsRejected(t *testing.T) {
	g, _ := newTestGate()
	if _, err := g.Submit(context.Background(), "wf-5", WorkflowSnapshot{Directive: "x"}, "manager"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := g.Decide(context.Background(), "wf-5", model.ApprovalApproved, "ceo", "looks good"); err != nil {
		t.Fatalf("decide: %v", err)
	}
	if _, err := g.Decide(context.Background(), "wf-5", model.ApprovalApproved, "ceo", "again"); !model.Is(err, model.ApprovalBlocked) {
		t.Fatalf("err = %v, want ApprovalBlocked on redecision", err)
	}
}

func TestEmergencyUnblockRequiresReason(t *testing.T) {
	g, _ := newTestGate()
	if _, err := g.EmergencyUnblock(context.Background(), "wf-6", "ceo", ""); !model.Is(err, model.InvalidInput) {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
}

func TestEmergencyUnblockWithoutPriorSubmitCreatesRecord(t *testing.T) {
	g, _ := newTestGate()
	req, err := g.EmergencyUnblock(context.Background(), "wf-7", "ceo", "customer escalation, SLA breach imminent")
	if err != nil {
		t.Fatalf("emergency unblock: %v", err)
	}
	if req.Status != model.ApprovalEmergencyApproved || !req.Emergency {
		t.Fatalf("req = %+v, want emergency approved", req)
	}
}

func TestGetReturnsNotFoundForUnknownWorkflow(t *testing.T) {
	g, _ := newTestGate()
	if _, err := g.Get(context.Background(), "nope"); err != repository.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
