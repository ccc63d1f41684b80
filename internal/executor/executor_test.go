package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/clock"
	"github.com/opsdeck/foreman/internal/lineage"
	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/repository"
	"github.com/opsdeck/foreman/internal/workspace"
)

func newTestExecutor(t *testing.T) (*Executor, *workspace.Workspace) {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.New("backend", filepath.Join(root, "backend"))
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	b := bus.New()
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	lin := lineage.New(repository.NewMemory(), b, c)
	return New(b, c, lin), ws
}

func TestExecuteRunsCommandsAndCapturesArtifacts(t *testing.T) {
	exec, ws := newTestExecutor(t)
	task := &model.Task{
		ID:         "t-1",
		WorkflowID: "wf-1",
		Agent:      "backend",
		Title:      "write a file",
		Commands:   []string{"echo hello > output.txt"},
	}

	outcome, err := exec.Execute(context.Background(), task, ws)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Status != model.TaskCompleted {
		t.Fatalf("status = %q, want completed: %s", outcome.Status, outcome.ErrReason)
	}
	if len(outcome.Exit.ArtifactIDs) != 1 {
		t.Fatalf("expected one captured artifact, got %d", len(outcome.Exit.ArtifactIDs))
	}
}

func TestExecuteStopsAtFirstFailingCommand(t *testing.T) {
	exec, ws := newTestExecutor(t)
	task := &model.Task{
		ID:         "t-2",
		WorkflowID: "wf-1",
		Agent:      "backend",
		Commands:   []string{"exit 3", "echo never > unreached.txt"},
	}

	outcome, err := exec.Execute(context.Background(), task, ws)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Status != model.TaskFailedSt {
		t.Fatalf("status = %q, want failed", outcome.Status)
	}
	if len(outcome.Exit.ExitCodes) != 1 || outcome.Exit.ExitCodes[0] != 3 {
		t.Fatalf("exit codes = %v, want [3]", outcome.Exit.ExitCodes)
	}
}

func TestCreateFileRegistersArtifact(t *testing.T) {
	exec, ws := newTestExecutor(t)
	task := &model.Task{ID: "t-4", WorkflowID: "wf-1", Agent: "backend", Title: "write config"}

	a, err := exec.CreateFile(context.Background(), task, ws, "config/app.yaml", []byte("key: value\n"))
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if a.Name != "app.yaml" {
		t.Fatalf("name = %q, want app.yaml", a.Name)
	}
	if a.ContentHash == "" {
		t.Fatalf("expected a content hash")
	}

	data, meta, err := exec.ReadFile(ws, "config/app.yaml")
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "key: value\n" {
		t.Fatalf("data = %q", data)
	}
	if meta.Size != int64(len(data)) {
		t.Fatalf("meta.Size = %d, want %d", meta.Size, len(data))
	}
}

func TestCreateFileRejectsPathEscapingWorkspace(t *testing.T) {
	exec, ws := newTestExecutor(t)
	task := &model.Task{ID: "t-5", WorkflowID: "wf-1", Agent: "backend"}

	if _, err := exec.CreateFile(context.Background(), task, ws, "../escape.txt", []byte("x")); !model.Is(err, model.WorkspaceViolation) {
		t.Fatalf("err = %v, want WorkspaceViolation", err)
	}
}

func TestReadFileRejectsPathEscapingWorkspace(t *testing.T) {
	exec, ws := newTestExecutor(t)

	if _, _, err := exec.ReadFile(ws, "../escape.txt"); !model.Is(err, model.WorkspaceViolation) {
		t.Fatalf("err = %v, want WorkspaceViolation", err)
	}
}

func TestExecutePublishesStepOutput(t *testing.T) {
	root := t.TempDir()
	ws, err := workspace.New("backend", filepath.Join(root, "backend"))
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	b := bus.New()
	ch, unsubscribe := b.Subscribe(16)
	defer unsubscribe()

	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	lin := lineage.New(repository.NewMemory(), b, c)
	exec := New(b, c, lin)

	task := &model.Task{ID: "t-3", WorkflowID: "wf-1", Agent: "backend", Commands: []string{"echo streamed-output"}}
	if _, err := exec.Execute(context.Background(), task, ws); err != nil {
		t.Fatalf("execute: %v", err)
	}

	found := false
	for {
		select {
		case ev := <-ch:
			if ev.Type == bus.TaskStepOutput && ev.Data == "streamed-output" {
				found = true
			}
		default:
			if !found {
				t.Fatalf("expected a task_step_output event carrying the command's stdout")
			}
			return
		}
	}
}
