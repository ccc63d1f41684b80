// Package approval implements the Approval Gate of spec §4.7: a two-stage
// review (manager task, then executive decision) with deterministic
// risk/quality/compliance scoring sourced from a ruleset.
package approval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/clock"
	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/repository"
	"github.com/opsdeck/foreman/internal/ruleset"
)

// WorkflowSnapshot is the read-only view of a workflow the gate scores
// against. Kept narrow so this package does not depend on orchestrator.
type WorkflowSnapshot struct {
	Directive        string
	Tasks            []*model.Task
	ArtifactCount    int
	StartTime        time.Time
	ManagerReviewOK  bool
}

// Gate computes approval summaries and tracks decisions.
type Gate struct {
	repo  repository.Repository
	bus   *bus.Bus
	clock clock.Clock
	rules *ruleset.RuleSet

	mu sync.Mutex
}

// New returns a Gate scoring against rules.
func New(repo repository.Repository, b *bus.Bus, c clock.Clock, rules *ruleset.RuleSet) *Gate {
	return &Gate{repo: repo, bus: b, clock: c, rules: rules}
}

// Submit freezes a workflow at the approval stage: computes the summary,
// persists and publishes the request.
func (g *Gate) Submit(ctx context.Context, workflowID string, ws WorkflowSnapshot, submitter string) (*model.ApprovalRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	summary := g.score(ws)
	req := &model.ApprovalRequest{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		SubmittedAt: g.clock.Now(),
		Submitter:   submitter,
		Summary:     summary,
		Status:      model.ApprovalPending,
	}
	if err := g.repo.SaveApproval(ctx, req); err != nil {
		return nil, err
	}
	if g.bus != nil {
		g.bus.Publish(bus.Event{
			Type:       bus.ApprovalRequested,
			WorkflowID: req.WorkflowID,
			Payload:    map[string]interface{}{"approval_id": req.ID, "risk_level": summary.RiskLevel, "quality_score": summary.QualityScore},
		})
	}
	return req.Clone(), nil
}

// Decide records an executive decision. Only "approved" moves a workflow
// toward completion; "rejected" is terminal; "needs_revision" is consumed
// by the caller to enqueue a revision task and return to in_progress.
func (g *Gate) Decide(ctx context.Context, workflowID, decision, approver, comments string) (*model.ApprovalRequest, error) {
	if decision != model.ApprovalApproved && decision != model.ApprovalRejected && decision != model.ApprovalNeedsRevision {
		return nil, model.NewError(model.InvalidInput, fmt.Sprintf("unknown decision %q", decision), nil)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	req, err := g.repo.LoadApproval(ctx, workflowID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, model.NewError(model.ApprovalBlocked, fmt.Sprintf("workflow %q has no pending approval request", workflowID), nil)
		}
		return nil, err
	}
	if req.Status != model.ApprovalPending {
		return nil, model.NewError(model.ApprovalBlocked, fmt.Sprintf("approval request for %q already decided (%s)", workflowID, req.Status), nil)
	}

	now := g.clock.Now()
	req.Status = decision
	req.Approver = approver
	req.Comments = comments
	req.DecidedAt = &now

	if err := g.repo.SaveApproval(ctx, req); err != nil {
		return nil, err
	}
	if g.bus != nil {
		g.bus.Publish(bus.Event{
			Type:       bus.ApprovalDecision,
			WorkflowID: workflowID,
			Payload:    map[string]interface{}{"decision": decision, "approver": approver},
		})
	}
	return req.Clone(), nil
}

// EmergencyUnblock forces a decision regardless of prior state. Requires a
// non-empty reason and is recorded as a distinguished decision kind.
func (g *Gate) EmergencyUnblock(ctx context.Context, workflowID, approver, reason string) (*model.ApprovalRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, model.NewError(model.InvalidInput, "emergency unblock requires a non-empty reason", nil)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	req, err := g.repo.LoadApproval(ctx, workflowID)
	if err != nil && err != repository.ErrNotFound {
		return nil, err
	}
	now := g.clock.Now()
	if req == nil {
		req = &model.ApprovalRequest{ID: uuid.New().String(), WorkflowID: workflowID, SubmittedAt: now}
	}
	req.Status = model.ApprovalEmergencyApproved
	req.Approver = approver
	req.Emergency = true
	req.Reason = reason
	req.DecidedAt = &now

	if err := g.repo.SaveApproval(ctx, req); err != nil {
		return nil, err
	}
	if g.bus != nil {
		g.bus.Publish(bus.Event{
			Type:       bus.EmergencyUnblock,
			WorkflowID: workflowID,
			Payload:    map[string]interface{}{"approver": approver, "reason": reason},
		})
	}
	return req.Clone(), nil
}

// Get returns the current approval request for a workflow, if any.
func (g *Gate) Get(ctx context.Context, workflowID string) (*model.ApprovalRequest, error) {
	return g.repo.LoadApproval(ctx, workflowID)
}

// score computes the deterministic quality/risk/compliance summary of
// spec §4.7 from the workflow's shape: directive tokens, artifact count,
// task count and failed-task count, manager-review presence, and whether a
// security-flagged directive got a completed security task. The snapshot's
// StartTime does not enter the score.
func (g *Gate) score(ws WorkflowSnapshot) model.Summary {
	failed := 0
	for _, t := range ws.Tasks {
		if t.Status == model.TaskFailedSt {
			failed++
		}
	}

	quality := g.rules.Quality.BaseScore - failed*g.rules.Quality.PerFailedTaskPenalty
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}

	risk := "low"
	if len(ws.Tasks) >= g.rules.Risk.HighRiskTaskCount {
		risk = "medium"
	}

	compliance := make(map[string]bool)
	directiveLower := strings.ToLower(ws.Directive)
	securityFlagged := false
	for _, token := range g.rules.Risk.SecurityFlagTokens {
		if strings.Contains(directiveLower, token) {
			securityFlagged = true
			break
		}
	}
	if securityFlagged {
		hasCompletedSecurityTask := false
		for _, t := range ws.Tasks {
			if t.Agent == "security" && t.Status == model.TaskCompleted {
				hasCompletedSecurityTask = true
				break
			}
		}
		compliance["security_review"] = hasCompletedSecurityTask
		if !hasCompletedSecurityTask {
			risk = "high"
		}
	}
	compliance["manager_review_completed"] = ws.ManagerReviewOK
	compliance["artifacts_present"] = ws.ArtifactCount > 0

	var notes []string
	if failed > 0 {
		notes = append(notes, fmt.Sprintf("%d task(s) failed before approval", failed))
	}

	return model.Summary{
		QualityScore:     quality,
		RiskLevel:        risk,
		ComplianceChecks: compliance,
		Notes:            notes,
	}
}
