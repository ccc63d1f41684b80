// Package executor implements the Agent Executor of spec §4.5: it runs a
// task's commands inside the owning agent's workspace, streams output onto
// the bus, and hands every file the commands touched to the lineage service
// so it is captured with provenance.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/clock"
	"github.com/opsdeck/foreman/internal/lineage"
	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/workspace"
)

// Executor runs tasks inside per-agent workspaces.
type Executor struct {
	bus     *bus.Bus
	clock   clock.Clock
	lineage *lineage.Service
}

// New returns an Executor publishing to b and recording artifacts in l.
func New(b *bus.Bus, c clock.Clock, l *lineage.Service) *Executor {
	return &Executor{bus: b, clock: c, lineage: l}
}

// Outcome is the result of running one task's commands.
type Outcome struct {
	Exit      model.ExitRecord
	Status    string // model.TaskCompleted or model.TaskFailedSt
	ErrReason string
}

// Execute runs every command in task.Commands, in order, inside ws, stopping
// at the first non-zero exit. It streams stdout/stderr onto the bus as
// task_step_output events, then snapshots the workspace for files touched
// since start and records each as an artifact via the lineage service.
func (e *Executor) Execute(ctx context.Context, task *model.Task, ws *workspace.Workspace) (Outcome, error) {
	start := e.clock.Now()

	var stdoutAll, stderrAll bytes.Buffer
	var exitCodes []int

	for i, command := range task.Commands {
		code, err := e.runOne(ctx, task, ws, command, i, &stdoutAll, &stderrAll)
		exitCodes = append(exitCodes, code)
		if err != nil {
			return Outcome{
				Exit:      model.ExitRecord{Stdout: stdoutAll.String(), Stderr: stderrAll.String(), ExitCodes: exitCodes},
				Status:    model.TaskFailedSt,
				ErrReason: err.Error(),
			}, nil
		}
		if code != 0 {
			artifactIDs, scanErr := e.captureArtifacts(ctx, task, ws, start)
			if scanErr != nil {
				return Outcome{}, scanErr
			}
			return Outcome{
				Exit: model.ExitRecord{
					Stdout: stdoutAll.String(), Stderr: stderrAll.String(),
					ExitCodes: exitCodes, ArtifactIDs: artifactIDs,
				},
				Status:    model.TaskFailedSt,
				ErrReason: fmt.Sprintf("command %d exited with status %d", i, code),
			}, nil
		}
	}

	artifactIDs, err := e.captureArtifacts(ctx, task, ws, start)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Exit: model.ExitRecord{
			Stdout: stdoutAll.String(), Stderr: stderrAll.String(),
			ExitCodes: exitCodes, ArtifactIDs: artifactIDs,
		},
		Status: model.TaskCompleted,
	}, nil
}

func (e *Executor) runOne(ctx context.Context, task *model.Task, ws *workspace.Workspace, command string, index int, stdoutAll, stderrAll *bytes.Buffer) (int, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = ws.Root
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("executor: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("executor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("executor: starting command %d: %w", index, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go e.stream(&wg, task, "stdout", stdoutPipe, stdoutAll)
	go e.stream(&wg, task, "stderr", stderrPipe, stderrAll)
	wg.Wait()

	code, err := exitCode(cmd.Wait())
	return code, err
}

func (e *Executor) stream(wg *sync.WaitGroup, task *model.Task, streamName string, r io.Reader, sink *bytes.Buffer) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		sink.WriteString(line)
		sink.WriteByte('\n')
		if e.bus != nil {
			e.bus.Publish(bus.Event{
				Type:       bus.TaskStepOutput,
				WorkflowID: task.WorkflowID,
				TaskID:     task.ID,
				Agent:      task.Agent,
				Stream:     streamName,
				Data:       line,
			})
		}
	}
}

// exitCode extracts an exit code from a command error.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

func asExitError(err error, target **exec.ExitError) bool {
	for err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			*target = ee
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// captureArtifacts snapshots the workspace for files touched at or after
// start and registers each one with the lineage service.
func (e *Executor) captureArtifacts(ctx context.Context, task *model.Task, ws *workspace.Workspace, start time.Time) ([]string, error) {
	if e.lineage == nil {
		return nil, nil
	}
	files, err := ws.Snapshot(start)
	if err != nil {
		return nil, fmt.Errorf("executor: scanning workspace after task %s: %w", task.ID, err)
	}

	var ids []string
	for _, f := range files {
		data, err := os.ReadFile(f.AbsPath)
		if err != nil {
			return nil, fmt.Errorf("executor: reading produced file %s: %w", f.RelPath, err)
		}
		a, err := e.lineage.Record(ctx, lineage.RecordInput{
			Name:          baseName(f.RelPath),
			WorkflowID:    task.WorkflowID,
			TaskID:        task.ID,
			Agent:         task.Agent,
			WorkspaceRoot: ws.Root,
			AbsPath:       f.AbsPath,
			Bytes:         data,
			CreationNote:  fmt.Sprintf("produced by task %q", task.Title),
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// FileMetadata is the stat-level metadata ReadFile returns alongside a
// file's bytes.
type FileMetadata struct {
	Size    int64
	ModTime time.Time
}

// CreateFile writes data to relativePath inside ws and registers the result
// as an artifact with the lineage service. It is the convenience path of
// spec §4.5 for a task that produces one known file directly, rather than
// relying on Execute's post-run workspace scan.
func (e *Executor) CreateFile(ctx context.Context, task *model.Task, ws *workspace.Workspace, relativePath string, data []byte) (*model.Artifact, error) {
	abs, err := ws.WriteFile(relativePath, data, 0644)
	if err != nil {
		return nil, err
	}
	if e.lineage == nil {
		return nil, nil
	}
	return e.lineage.Record(ctx, lineage.RecordInput{
		Name:          baseName(relativePath),
		WorkflowID:    task.WorkflowID,
		TaskID:        task.ID,
		Agent:         task.Agent,
		WorkspaceRoot: ws.Root,
		AbsPath:       abs,
		Bytes:         data,
		CreationNote:  fmt.Sprintf("created by task %q", task.Title),
	})
}

// ReadFile reads relativePath from ws, rejecting any path that escapes the
// workspace root, and returns its bytes alongside stat-level metadata.
func (e *Executor) ReadFile(ws *workspace.Workspace, relativePath string) ([]byte, FileMetadata, error) {
	abs, err := ws.Resolve(relativePath)
	if err != nil {
		return nil, FileMetadata{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, FileMetadata{}, fmt.Errorf("executor: reading %s: %w", relativePath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, FileMetadata{}, fmt.Errorf("executor: stat %s: %w", relativePath, err)
	}
	return data, FileMetadata{Size: info.Size(), ModTime: info.ModTime()}, nil
}

func baseName(relPath string) string {
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		return relPath[i+1:]
	}
	return relPath
}
