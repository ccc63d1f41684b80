package sqlstore

import (
	"context"
	"database/sql"

	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/repository"
)

type workflowRow struct {
	ID              string         `db:"id"`
	Directive       string         `db:"directive"`
	BriefID         sql.NullString `db:"brief_id"`
	Status          string         `db:"status"`
	StartTime       sql.NullTime   `db:"start_time"`
	EndTime         sql.NullTime   `db:"end_time"`
	TasksJSON       string         `db:"tasks_json"`
	ArtifactIDsJSON string         `db:"artifact_ids_json"`
	ProgressJSON    string         `db:"progress_json"`
	MetadataJSON    string         `db:"metadata_json"`
}

func (s *Store) SaveWorkflow(ctx context.Context, w *model.Workflow) error {
	tasksJSON, err := marshalJSON(w.Tasks)
	if err != nil {
		return classify("save workflow", err)
	}
	artifactIDsJSON, err := marshalJSON(w.ArtifactIDs)
	if err != nil {
		return classify("save workflow", err)
	}
	progressJSON, err := marshalJSON(w.Progress)
	if err != nil {
		return classify("save workflow", err)
	}
	metadataJSON, err := marshalJSON(w.Metadata)
	if err != nil {
		return classify("save workflow", err)
	}

	_, err = s.write.ExecContext(ctx, `
		INSERT INTO workflows (id, directive, brief_id, status, start_time, end_time, tasks_json, artifact_ids_json, progress_json, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			directive = excluded.directive,
			brief_id = excluded.brief_id,
			status = excluded.status,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			tasks_json = excluded.tasks_json,
			artifact_ids_json = excluded.artifact_ids_json,
			progress_json = excluded.progress_json,
			metadata_json = excluded.metadata_json
	`,
		w.ID, w.Directive, nullableString(w.BriefID), w.Status,
		w.StartTime, nullableTime(w.EndTime),
		tasksJSON, artifactIDsJSON, progressJSON, metadataJSON,
	)
	return classify("save workflow", err)
}

func (row *workflowRow) toModel() (*model.Workflow, error) {
	w := &model.Workflow{
		ID:        row.ID,
		Directive: row.Directive,
		BriefID:   row.BriefID.String,
		Status:    row.Status,
		StartTime: row.StartTime.Time,
		EndTime:   timePtr(row.EndTime),
	}
	if err := unmarshalJSON(row.TasksJSON, &w.Tasks); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(row.ArtifactIDsJSON, &w.ArtifactIDs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(row.ProgressJSON, &w.Progress); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(row.MetadataJSON, &w.Metadata); err != nil {
		return nil, err
	}
	if w.Metadata == nil {
		w.Metadata = make(map[string]interface{})
	}
	return w, nil
}

func (s *Store) LoadWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	var row workflowRow
	err := s.read.GetContext(ctx, &row, `SELECT * FROM workflows WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, classify("load workflow", err)
	}
	wf, err := row.toModel()
	if err != nil {
		return nil, classify("load workflow", err)
	}
	return wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context, filter repository.WorkflowFilter) ([]*model.Workflow, error) {
	query := `SELECT * FROM workflows`
	var args []interface{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY start_time DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []workflowRow
	if err := s.read.SelectContext(ctx, &rows, s.read.Rebind(query), args...); err != nil {
		return nil, classify("list workflows", err)
	}

	out := make([]*model.Workflow, 0, len(rows))
	for i := range rows {
		wf, err := rows[i].toModel()
		if err != nil {
			return nil, classify("list workflows", err)
		}
		out = append(out, wf)
	}
	return out, nil
}
