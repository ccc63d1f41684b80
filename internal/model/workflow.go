package model

import "time"

const (
	WorkflowPlanned             = "planned"
	WorkflowAwaitingClarify     = "awaiting_clarification"
	WorkflowInProgress          = "in_progress"
	WorkflowExecuting           = "executing"
	WorkflowWaitingApproval     = "waiting_for_ceo_approval"
	WorkflowCompleted           = "completed"
	WorkflowFailed              = "failed"
	WorkflowRejected            = "rejected"
	WorkflowNeedsRevision       = "needs_revision"
)

// Progress holds the task-completion counters of a Workflow.
type Progress struct {
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Workflow is one execution of a directive.
type Workflow struct {
	ID          string                 `json:"id"`
	Directive   string                 `json:"directive"`
	BriefID     string                 `json:"brief_id,omitempty"`
	Status      string                 `json:"status"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     *time.Time             `json:"end_time,omitempty"`
	Tasks       []*Task                `json:"tasks"`
	ArtifactIDs []string               `json:"artifact_ids"`
	Progress    Progress               `json:"progress"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Terminal reports whether the workflow has reached a final status.
func (w *Workflow) Terminal() bool {
	switch w.Status {
	case WorkflowCompleted, WorkflowFailed, WorkflowRejected:
		return true
	default:
		return false
	}
}

// TaskByID finds a task by id within the workflow, or nil.
func (w *Workflow) TaskByID(id string) *Task {
	for _, t := range w.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// RecomputeProgress recalculates the progress counters from current task
// statuses and enforces the invariants of spec §3:
// total == len(tasks); completed+failed <= total; percentage = round(...).
func (w *Workflow) RecomputeProgress() {
	var completed, failed int
	for _, t := range w.Tasks {
		switch t.Status {
		case TaskCompleted:
			completed++
		case TaskFailedSt:
			failed++
		}
	}
	total := len(w.Tasks)
	pct := 0
	if total > 0 {
		pct = int((float64(completed) / float64(total) * 100) + 0.5)
	}
	w.Progress = Progress{Completed: completed, Failed: failed, Total: total, Percentage: pct}
}

// AppendFailureReason records a failure in the workflow's metadata trail.
func (w *Workflow) AppendFailureReason(reason string) {
	if w.Metadata == nil {
		w.Metadata = make(map[string]interface{})
	}
	existing, _ := w.Metadata["failureReasons"].([]string)
	w.Metadata["failureReasons"] = append(existing, reason)
}

// Clone returns a deep-enough copy for snapshot-on-read semantics.
func (w *Workflow) Clone() *Workflow {
	cp := *w
	cp.Tasks = make([]*Task, len(w.Tasks))
	for i, t := range w.Tasks {
		cp.Tasks[i] = t.Clone()
	}
	cp.ArtifactIDs = append([]string(nil), w.ArtifactIDs...)
	cp.Metadata = make(map[string]interface{}, len(w.Metadata))
	for k, v := range w.Metadata {
		cp.Metadata[k] = v
	}
	if w.EndTime != nil {
		et := *w.EndTime
		cp.EndTime = &et
	}
	return &cp
}
