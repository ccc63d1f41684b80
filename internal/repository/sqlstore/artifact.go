package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/repository"
)

type artifactRow struct {
	ID            string         `db:"id"`
	Name          string         `db:"name"`
	RelPath       string         `db:"rel_path"`
	AbsPath       string         `db:"abs_path"`
	Agent         string         `db:"agent"`
	TaskID        sql.NullString `db:"task_id"`
	WorkflowID    string         `db:"workflow_id"`
	SizeBytes     int64          `db:"size_bytes"`
	FileType      sql.NullString `db:"file_type"`
	ContentHash   string         `db:"content_hash"`
	CreatedAt     time.Time      `db:"created_at"`
	CreationNote  sql.NullString `db:"creation_note"`
	ParentIDsJSON string         `db:"parent_ids_json"`
	HistoryJSON   string         `db:"history_json"`
}

func (s *Store) SaveArtifact(ctx context.Context, a *model.Artifact) error {
	parentIDsJSON, err := marshalJSON(a.ParentIDs)
	if err != nil {
		return classify("save artifact", err)
	}
	historyJSON, err := marshalJSON(a.History)
	if err != nil {
		return classify("save artifact", err)
	}

	_, err = s.write.ExecContext(ctx, `
		INSERT INTO artifacts (id, name, rel_path, abs_path, agent, task_id, workflow_id, size_bytes, file_type, content_hash, created_at, creation_note, parent_ids_json, history_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			rel_path = excluded.rel_path,
			abs_path = excluded.abs_path,
			agent = excluded.agent,
			task_id = excluded.task_id,
			workflow_id = excluded.workflow_id,
			size_bytes = excluded.size_bytes,
			file_type = excluded.file_type,
			content_hash = excluded.content_hash,
			created_at = excluded.created_at,
			creation_note = excluded.creation_note,
			parent_ids_json = excluded.parent_ids_json,
			history_json = excluded.history_json
	`,
		a.ID, a.Name, a.RelPath, a.AbsPath, a.Agent, nullableString(a.TaskID), a.WorkflowID,
		a.SizeBytes, nullableString(a.FileType), a.ContentHash, a.CreatedAt, nullableString(a.CreationNote),
		parentIDsJSON, historyJSON,
	)
	return classify("save artifact", err)
}

func (row *artifactRow) toModel() (*model.Artifact, error) {
	a := &model.Artifact{
		ID:           row.ID,
		Name:         row.Name,
		RelPath:      row.RelPath,
		AbsPath:      row.AbsPath,
		Agent:        row.Agent,
		TaskID:       row.TaskID.String,
		WorkflowID:   row.WorkflowID,
		SizeBytes:    row.SizeBytes,
		FileType:     row.FileType.String,
		ContentHash:  row.ContentHash,
		CreatedAt:    row.CreatedAt,
		CreationNote: row.CreationNote.String,
	}
	if err := unmarshalJSON(row.ParentIDsJSON, &a.ParentIDs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(row.HistoryJSON, &a.History); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) LoadArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	var row artifactRow
	err := s.read.GetContext(ctx, &row, `SELECT * FROM artifacts WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, classify("load artifact", err)
	}
	a, err := row.toModel()
	if err != nil {
		return nil, classify("load artifact", err)
	}
	return a, nil
}

func (s *Store) QueryArtifacts(ctx context.Context, criteria model.SearchCriteria) ([]*model.Artifact, error) {
	var where []string
	var args []interface{}

	if criteria.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, criteria.WorkflowID)
	}
	if criteria.AgentName != "" {
		where = append(where, "agent = ?")
		args = append(args, criteria.AgentName)
	}
	if criteria.FileName != "" {
		where = append(where, "name = ?")
		args = append(args, criteria.FileName)
	}
	if criteria.FileType != "" {
		where = append(where, "file_type = ?")
		args = append(args, criteria.FileType)
	}
	if criteria.CreatedAfter != nil {
		where = append(where, "created_at > ?")
		args = append(args, *criteria.CreatedAfter)
	}
	if criteria.ContentSubstr != "" {
		where = append(where, "content_hash LIKE ?")
		args = append(args, "%"+criteria.ContentSubstr+"%")
	}

	query := `SELECT * FROM artifacts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC`
	if criteria.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, criteria.Limit)
	}

	var rows []artifactRow
	if err := s.read.SelectContext(ctx, &rows, s.read.Rebind(query), args...); err != nil {
		return nil, classify("query artifacts", err)
	}

	out := make([]*model.Artifact, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toModel()
		if err != nil {
			return nil, classify("query artifacts", err)
		}
		out = append(out, a)
	}
	return out, nil
}
