// Package repository defines the narrow durable-storage contract the core
// consumes (spec §6). The core never imports a database driver directly;
// it only ever sees this interface. Two implementations are provided:
// an in-memory one (internal/repository, used by the orchestrator's own
// tests and for ephemeral runs) and a SQL-backed one
// (internal/repository/sqlstore).
package repository

import (
	"context"
	"errors"

	"github.com/opsdeck/foreman/internal/model"
)

// ErrNotFound is returned by Load* calls when the id is unknown.
var ErrNotFound = errors.New("repository: not found")

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	Status string
	Limit  int
}

// Repository is the durable read/write contract for workflows, artifacts,
// approvals, and audit entries.
type Repository interface {
	SaveWorkflow(ctx context.Context, w *model.Workflow) error
	LoadWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*model.Workflow, error)

	SaveArtifact(ctx context.Context, a *model.Artifact) error
	LoadArtifact(ctx context.Context, id string) (*model.Artifact, error)
	QueryArtifacts(ctx context.Context, criteria model.SearchCriteria) ([]*model.Artifact, error)

	SaveApproval(ctx context.Context, r *model.ApprovalRequest) error
	LoadApproval(ctx context.Context, workflowID string) (*model.ApprovalRequest, error)

	AppendAudit(ctx context.Context, entry model.AuditEntry) error
}
