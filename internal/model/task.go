package model

import "time"

const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailedSt  = "failed"
	TaskCancelled = "cancelled"
)

// ManagerReviewType marks the synthetic task the orchestrator inserts before
// the executive approval request (spec §4.7).
const ManagerReviewType = "manager_review"

// ExitRecord captures what happened when a task's commands ran.
type ExitRecord struct {
	Stdout      string   `json:"stdout"`
	Stderr      string   `json:"stderr"`
	ExitCodes   []int    `json:"exit_codes"`
	ArtifactIDs []string `json:"artifact_ids"`
}

// Task is one unit of work inside a Workflow.
type Task struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Agent        string     `json:"agent"`
	Commands     []string   `json:"commands"`
	DependsOn    []string   `json:"depends_on"`
	Status       string     `json:"status"`
	Type         string     `json:"type,omitempty"`
	Estimated    int        `json:"estimated_minutes"`
	Priority     int        `json:"priority"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Exit         ExitRecord `json:"exit"`
	Error        string     `json:"error,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
}

// Terminal reports whether the task has reached a final status.
func (t *Task) Terminal() bool {
	switch t.Status {
	case TaskCompleted, TaskFailedSt, TaskCancelled:
		return true
	default:
		return false
	}
}

// Clone returns a deep-enough copy for snapshot-on-read semantics.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Commands = append([]string(nil), t.Commands...)
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	cp.Exit.ExitCodes = append([]int(nil), t.Exit.ExitCodes...)
	cp.Exit.ArtifactIDs = append([]string(nil), t.Exit.ArtifactIDs...)
	if t.StartTime != nil {
		st := *t.StartTime
		cp.StartTime = &st
	}
	if t.EndTime != nil {
		et := *t.EndTime
		cp.EndTime = &et
	}
	return &cp
}

// DependencyCycleCheck reports whether the task set contains a cycle.
// Returns the id of a task on a cycle, or "" if acyclic.
func DependencyCycleCheck(tasks []*Task) string {
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	var cyclic string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		t := byID[id]
		if t != nil {
			for _, dep := range t.DependsOn {
				switch color[dep] {
				case gray:
					cyclic = dep
					return true
				case white:
					if visit(dep) {
						return true
					}
				}
			}
		}
		color[id] = black
		return false
	}
	for _, t := range tasks {
		if color[t.ID] == white {
			if visit(t.ID) {
				return cyclic
			}
		}
	}
	return ""
}
