package db

import (
	"context"
	"fmt"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/jackc/pgx/v5"
)

const warningColumns = `warn_id, organization_id, message_id, created_by, created_at, expires_at, status, payload`

func scanWarning(row pgx.Row) (*models.Warning, error) {
	var (
		w         models.Warning
		messageID *string
		payload   []byte
	)
	if err := row.Scan(&w.ID, &w.OrganizationID, &messageID, &w.CreatedBy, &w.CreatedAt,
		&w.ExpiresAt, &w.Status, &payload); err != nil {
		return nil, err
	}
	w.MessageID = derefString(messageID)
	w.Payload = payload
	return &w, nil
}

func (db *DB) queryWarnings(ctx context.Context, query string, args ...any) ([]*models.Warning, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Warning
	for rows.Next() {
		w, err := scanWarning(rows)
		if err != nil {
			return nil, fmt.Errorf("scan warning: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// CreateWarning inserts a new warning.
func (db *DB) CreateWarning(ctx context.Context, w *models.Warning) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO warnings (warn_id, organization_id, message_id, created_by, created_at, expires_at, status, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.OrganizationID, nullString(w.MessageID), w.CreatedBy, w.CreatedAt, w.ExpiresAt,
		string(w.Status), nullJSON(w.Payload))
	if err != nil {
		return fmt.Errorf("create warning: %w", err)
	}
	return nil
}

// GetWarning returns a warning by id, or nil if it does not exist.
func (db *DB) GetWarning(ctx context.Context, warnID string) (*models.Warning, error) {
	w, err := scanWarning(db.Pool.QueryRow(ctx,
		`SELECT `+warningColumns+` FROM warnings WHERE warn_id = $1`, warnID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get warning: %w", err)
	}
	return w, nil
}

// SetWarningMessage records the id of the message the warning was posted as.
func (db *DB) SetWarningMessage(ctx context.Context, warnID, messageID string) error {
	if _, err := db.Pool.Exec(ctx,
		`UPDATE warnings SET message_id = $2 WHERE warn_id = $1`, warnID, nullString(messageID)); err != nil {
		return fmt.Errorf("set warning message: %w", err)
	}
	return nil
}

// SetWarningStatus moves an ACTIVE warning to status. Expired warnings are
// SetWarningStatus moves a warning to status. Moving an EXPIRED warning back
// to ACTIVE fails with models.ErrInvalidStatusTransition.
func (db *DB) SetWarningStatus(ctx context.Context, warnID string, status models.WarningStatus) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		var current models.WarningStatus
		err := tx.QueryRow(ctx, `SELECT status FROM warnings WHERE warn_id = $1 FOR UPDATE`, warnID).Scan(&current)
		if isNoRows(err) {
			return fmt.Errorf("set warning status: warning %s not found", warnID)
		}
		if err != nil {
			return fmt.Errorf("set warning status: %w", err)
		}
		if !current.CanTransitionTo(status) {
			return fmt.Errorf("%w: %s from %s to %s", models.ErrInvalidStatusTransition, warnID, current, status)
		}
		if current == status {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE warnings SET status = $2 WHERE warn_id = $1`, warnID, string(status)); err != nil {
			return fmt.Errorf("set warning status: %w", err)
		}
		return nil
	})
}

// ListExpiringWarnings returns ACTIVE warnings whose expiry is at or before now.
func (db *DB) ListExpiringWarnings(ctx context.Context, now time.Time) ([]*models.Warning, error) {
	out, err := db.queryWarnings(ctx, `
		SELECT `+warningColumns+`
		FROM warnings
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list expiring warnings: %w", err)
	}
	return out, nil
}

// ListActiveWarnings returns an organization's ACTIVE warnings, newest first.
func (db *DB) ListActiveWarnings(ctx context.Context, orgID string) ([]*models.Warning, error) {
	out, err := db.queryWarnings(ctx, `
		SELECT `+warningColumns+`
		FROM warnings
		WHERE organization_id = $1 AND status = 'ACTIVE'
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list active warnings: %w", err)
	}
	return out, nil
}
