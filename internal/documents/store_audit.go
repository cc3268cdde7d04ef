package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AppendAudit records an append-only audit entry for a document. Details are
// serialized to JSON; a nil map records no detail payload.
func (s *Store) AppendAudit(ctx context.Context, documentID, action, actor string, details map[string]any) error {
	var detailsJSON string
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		detailsJSON = string(data)
	}

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO audit_log (document_id, action, actor, details_json, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		documentID,
		action,
		nullableString(actor),
		nullableString(detailsJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// AuditTrail returns the audit entries for a document in insertion order.
func (s *Store) AuditTrail(ctx context.Context, documentID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, document_id, action, actor, details_json, created_at
         FROM audit_log WHERE document_id = ? ORDER BY id`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			entry      AuditEntry
			actor      sql.NullString
			details    sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.DocumentID, &entry.Action, &actor, &details, &createdRaw); err != nil {
			return nil, err
		}
		entry.Actor = actor.String
		entry.Details = details.String
		if created, err := parseTimeString(createdRaw); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
