package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/opsdeck/foreman/internal/model"
)

// Memory is an in-process Repository implementation. Safe for concurrent
// use. Writes are idempotent by primary key, matching the contract spec §6
// requires of any adapter (the core may re-issue a write on transient
// failure).
type Memory struct {
	mu        sync.RWMutex
	workflows map[string]*model.Workflow
	artifacts map[string]*model.Artifact
	approvals map[string]*model.ApprovalRequest // keyed by workflow id
	audit     []model.AuditEntry
	order     []string // workflow insertion order, newest last
}

// NewMemory returns an empty in-memory Repository.
func NewMemory() *Memory {
	return &Memory{
		workflows: make(map[string]*model.Workflow),
		artifacts: make(map[string]*model.Artifact),
		approvals: make(map[string]*model.ApprovalRequest),
	}
}

func (m *Memory) SaveWorkflow(ctx context.Context, w *model.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.workflows[w.ID]; !exists {
		m.order = append(m.order, w.ID)
	}
	m.workflows[w.ID] = w.Clone()
	return nil
}

func (m *Memory) LoadWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return w.Clone(), nil
}

func (m *Memory) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*model.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Workflow
	for i := len(m.order) - 1; i >= 0; i-- {
		w := m.workflows[m.order[i]]
		if w == nil {
			continue
		}
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		out = append(out, w.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) SaveArtifact(ctx context.Context, a *model.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[a.ID] = a.Clone()
	return nil
}

func (m *Memory) LoadArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) QueryArtifacts(ctx context.Context, criteria model.SearchCriteria) ([]*model.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Artifact
	for _, a := range m.artifacts {
		if criteria.WorkflowID != "" && a.WorkflowID != criteria.WorkflowID {
			continue
		}
		if criteria.AgentName != "" && a.Agent != criteria.AgentName {
			continue
		}
		if criteria.FileName != "" && a.Name != criteria.FileName {
			continue
		}
		if criteria.FileType != "" && a.FileType != criteria.FileType {
			continue
		}
		if criteria.CreatedAfter != nil && a.CreatedAt.Before(*criteria.CreatedAfter) {
			continue
		}
		if criteria.ContentSubstr != "" && !strings.Contains(a.ContentHash, criteria.ContentSubstr) {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if criteria.Limit > 0 && len(out) > criteria.Limit {
		out = out[:criteria.Limit]
	}
	return out, nil
}

func (m *Memory) SaveApproval(ctx context.Context, r *model.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[r.WorkflowID] = r.Clone()
	return nil
}

func (m *Memory) LoadApproval(ctx context.Context, workflowID string) (*model.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.approvals[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *Memory) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

// AuditLog returns a snapshot of every recorded audit entry, for tests.
func (m *Memory) AuditLog() []model.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.AuditEntry(nil), m.audit...)
}
