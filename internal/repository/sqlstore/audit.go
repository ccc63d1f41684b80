package sqlstore

import (
	"context"

	"github.com/opsdeck/foreman/internal/model"
)

func (s *Store) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	metadataJSON, err := marshalJSON(entry.Metadata)
	if err != nil {
		return classify("append audit", err)
	}
	_, err = s.write.ExecContext(ctx, `
		INSERT INTO audit_log (actor_id, action, target_kind, target_id, metadata_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ActorID, entry.Action, entry.TargetKind, entry.TargetID, metadataJSON, entry.Timestamp)
	return classify("append audit", err)
}
