package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/repository"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foreman.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadWorkflow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wf := &model.Workflow{
		ID:        "wf-1",
		Directive: "build a dashboard",
		Status:    model.WorkflowInProgress,
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Tasks: []*model.Task{
			{ID: "t-1", WorkflowID: "wf-1", Title: "scaffold", Status: model.TaskPending, Commands: []string{"echo hi"}},
		},
		ArtifactIDs: []string{"a-1"},
		Metadata:    map[string]interface{}{"notes": "first pass"},
	}
	wf.RecomputeProgress()

	if err := s.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.LoadWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Directive != wf.Directive || loaded.Status != wf.Status {
		t.Fatalf("loaded mismatch: %+v", loaded)
	}
	if len(loaded.Tasks) != 1 || loaded.Tasks[0].ID != "t-1" {
		t.Fatalf("tasks not round-tripped: %+v", loaded.Tasks)
	}
	if loaded.Metadata["notes"] != "first pass" {
		t.Fatalf("metadata not round-tripped: %+v", loaded.Metadata)
	}
}

func TestSaveWorkflowUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wf := &model.Workflow{ID: "wf-1", Directive: "v1", Status: model.WorkflowPlanned, StartTime: time.Now()}
	if err := s.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("save v1: %v", err)
	}
	wf.Directive = "v2"
	wf.Status = model.WorkflowCompleted
	if err := s.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("save v2: %v", err)
	}

	loaded, err := s.LoadWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Directive != "v2" || loaded.Status != model.WorkflowCompleted {
		t.Fatalf("upsert did not overwrite: %+v", loaded)
	}

	all, err := s.ListWorkflows(ctx, repository.WorkflowFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one workflow, got %d", len(all))
	}
}

func TestLoadWorkflowNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.LoadWorkflow(context.Background(), "missing"); err != repository.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListWorkflowsFiltersByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, status := range []string{model.WorkflowCompleted, model.WorkflowInProgress, model.WorkflowCompleted} {
		wf := &model.Workflow{ID: idFor(i), Status: status, StartTime: time.Now()}
		if err := s.SaveWorkflow(ctx, wf); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	completed, err := s.ListWorkflows(ctx, repository.WorkflowFilter{Status: model.WorkflowCompleted})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("expected 2 completed workflows, got %d", len(completed))
	}
}

func idFor(i int) string {
	return "wf-" + string(rune('a'+i))
}

func TestSaveAndLoadArtifact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &model.Artifact{
		ID:          "art-1",
		Name:        "plan.md",
		RelPath:     "plan.md",
		AbsPath:     "/workspace/architect/plan.md",
		Agent:       "architect",
		WorkflowID:  "wf-1",
		ContentHash: "deadbeef",
		CreatedAt:   time.Now(),
		ParentIDs:   []string{"art-0"},
	}
	if err := s.SaveArtifact(ctx, a); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.LoadArtifact(ctx, "art-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Name != "plan.md" || loaded.ContentHash != "deadbeef" {
		t.Fatalf("loaded mismatch: %+v", loaded)
	}
	if len(loaded.ParentIDs) != 1 || loaded.ParentIDs[0] != "art-0" {
		t.Fatalf("parent ids not round-tripped: %+v", loaded.ParentIDs)
	}
}

func TestQueryArtifactsByWorkflowAndAgent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	artifacts := []*model.Artifact{
		{ID: "a1", Name: "plan.md", Agent: "architect", WorkflowID: "wf-1", ContentHash: "h1", CreatedAt: time.Now()},
		{ID: "a2", Name: "main.go", Agent: "engineer", WorkflowID: "wf-1", ContentHash: "h2", CreatedAt: time.Now()},
		{ID: "a3", Name: "plan.md", Agent: "architect", WorkflowID: "wf-2", ContentHash: "h3", CreatedAt: time.Now()},
	}
	for _, a := range artifacts {
		if err := s.SaveArtifact(ctx, a); err != nil {
			t.Fatalf("save %s: %v", a.ID, err)
		}
	}

	results, err := s.QueryArtifacts(ctx, model.SearchCriteria{WorkflowID: "wf-1", AgentName: "architect"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestSaveAndLoadApproval(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := &model.ApprovalRequest{
		ID:          "appr-1",
		WorkflowID:  "wf-1",
		SubmittedAt: time.Now(),
		Submitter:   "orchestrator",
		Status:      model.ApprovalPending,
		Summary: model.Summary{
			QualityScore:     80,
			RiskLevel:        "low",
			ComplianceChecks: map[string]bool{"has_tests": true},
		},
	}
	if err := s.SaveApproval(ctx, req); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.LoadApproval(ctx, "wf-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Status != model.ApprovalPending || loaded.Summary.QualityScore != 80 {
		t.Fatalf("loaded mismatch: %+v", loaded)
	}
	if !loaded.Summary.ComplianceChecks["has_tests"] {
		t.Fatalf("compliance checks not round-tripped: %+v", loaded.Summary)
	}
}

func TestLoadApprovalNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.LoadApproval(context.Background(), "missing"); err != repository.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendAudit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := model.AuditEntry{
		ActorID:    "ceo",
		Action:     "approve",
		TargetKind: "workflow",
		TargetID:   "wf-1",
		Metadata:   map[string]interface{}{"comments": "looks good"},
		Timestamp:  time.Now(),
	}
	if err := s.AppendAudit(ctx, entry); err != nil {
		t.Fatalf("append: %v", err)
	}
}
