package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/repository"
)

type approvalRow struct {
	WorkflowID  string         `db:"workflow_id"`
	ID          string         `db:"id"`
	SubmittedAt time.Time      `db:"submitted_at"`
	Submitter   string         `db:"submitter"`
	SummaryJSON string         `db:"summary_json"`
	Status      string         `db:"status"`
	Approver    sql.NullString `db:"approver"`
	Comments    sql.NullString `db:"comments"`
	Emergency   bool           `db:"emergency"`
	Reason      sql.NullString `db:"reason"`
	DecidedAt   sql.NullTime   `db:"decided_at"`
}

func (s *Store) SaveApproval(ctx context.Context, r *model.ApprovalRequest) error {
	summaryJSON, err := marshalJSON(r.Summary)
	if err != nil {
		return classify("save approval", err)
	}

	_, err = s.write.ExecContext(ctx, `
		INSERT INTO approvals (workflow_id, id, submitted_at, submitter, summary_json, status, approver, comments, emergency, reason, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			id = excluded.id,
			submitted_at = excluded.submitted_at,
			submitter = excluded.submitter,
			summary_json = excluded.summary_json,
			status = excluded.status,
			approver = excluded.approver,
			comments = excluded.comments,
			emergency = excluded.emergency,
			reason = excluded.reason,
			decided_at = excluded.decided_at
	`,
		r.WorkflowID, r.ID, r.SubmittedAt, r.Submitter, summaryJSON, r.Status,
		nullableString(r.Approver), nullableString(r.Comments), r.Emergency,
		nullableString(r.Reason), nullableTime(r.DecidedAt),
	)
	return classify("save approval", err)
}

func (s *Store) LoadApproval(ctx context.Context, workflowID string) (*model.ApprovalRequest, error) {
	var row approvalRow
	err := s.read.GetContext(ctx, &row, `SELECT * FROM approvals WHERE workflow_id = ?`, workflowID)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, classify("load approval", err)
	}

	r := &model.ApprovalRequest{
		ID:          row.ID,
		WorkflowID:  row.WorkflowID,
		SubmittedAt: row.SubmittedAt,
		Submitter:   row.Submitter,
		Status:      row.Status,
		Approver:    row.Approver.String,
		Comments:    row.Comments.String,
		Emergency:   row.Emergency,
		Reason:      row.Reason.String,
		DecidedAt:   timePtr(row.DecidedAt),
	}
	if err := unmarshalJSON(row.SummaryJSON, &r.Summary); err != nil {
		return nil, classify("load approval", err)
	}
	return r, nil
}
