package model

import "time"

// ModificationEntry is an append-only record attached to an artifact.
type ModificationEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"` // created | edited | regenerated
	Details    string    `json:"details"`
	HashBefore string    `json:"hash_before"`
	HashAfter  string    `json:"hash_after"`
}

// Artifact is a file produced or modified in an agent workspace.
type Artifact struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	RelPath      string              `json:"rel_path"`
	AbsPath      string              `json:"abs_path"`
	Agent        string              `json:"agent"`
	TaskID       string              `json:"task_id"`
	WorkflowID   string              `json:"workflow_id"`
	SizeBytes    int64               `json:"size_bytes"`
	FileType     string              `json:"file_type"`
	ContentHash  string              `json:"content_hash"`
	CreatedAt    time.Time           `json:"created_at"`
	CreationNote string              `json:"creation_note"`
	ParentIDs    []string            `json:"parent_ids,omitempty"`
	History      []ModificationEntry `json:"history"`
}

// Clone returns a deep-enough copy for snapshot-on-read semantics.
func (a *Artifact) Clone() *Artifact {
	cp := *a
	cp.ParentIDs = append([]string(nil), a.ParentIDs...)
	cp.History = append([]ModificationEntry(nil), a.History...)
	return &cp
}

// WithLineage is the result of GetWithLineage: an artifact plus its
// ancestry, one level of descendants, and siblings sharing its content hash.
type WithLineage struct {
	Artifact       *Artifact   `json:"artifact"`
	Ancestors      []*Artifact `json:"ancestors"`
	Descendants    []*Artifact `json:"descendants"`
	SiblingsByHash []*Artifact `json:"siblings_by_hash"`
}

// SearchCriteria filters an artifact search.
type SearchCriteria struct {
	WorkflowID      string
	AgentName       string
	FileName        string
	FileType        string
	CreatedAfter    *time.Time
	ContentSubstr   string
	Limit           int
}

// Report aggregates lineage-wide statistics.
type Report struct {
	ByAgent    map[string]int `json:"by_agent"`
	ByWorkflow map[string]int `json:"by_workflow"`
	ByType     map[string]int `json:"by_type"`
	Orphans    []string       `json:"orphans"`
}
