package db

import (
	"context"
	"fmt"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
)

// CreateAuditLog inserts a new audit log entry.
func (db *DB) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO audit_logs (id, action, actor_id, target_id, organization_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, log.ID, string(log.Action), log.ActorID, nullString(log.TargetID), nullString(log.OrganizationID),
		nullJSON(log.Details), log.CreatedAt)
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// ListAuditLogsByTarget returns the newest entries about a user.
func (db *DB) ListAuditLogsByTarget(ctx context.Context, targetID string, limit int) ([]*models.AuditLog, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, action, actor_id, target_id, organization_id, details, created_at
		FROM audit_logs
		WHERE target_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditLog
	for rows.Next() {
		var (
			l             models.AuditLog
			target, orgID *string
			details       []byte
		)
		if err := rows.Scan(&l.ID, &l.Action, &l.ActorID, &target, &orgID, &details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		l.TargetID = derefString(target)
		l.OrganizationID = derefString(orgID)
		l.Details = details
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return out, nil
}

// CleanupAuditLogs deletes entries created before cutoff.
func (db *DB) CleanupAuditLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup audit logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
