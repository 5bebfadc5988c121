package db

import (
	"context"
	"fmt"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/jackc/pgx/v5"
)

const cooldownColumns = `user_id, kind, expires_at, last_organization_id, created_at, updated_at`

func scanCooldown(row pgx.Row) (*models.Cooldown, error) {
	var (
		c       models.Cooldown
		lastOrg *string
	)
	if err := row.Scan(&c.UserID, &c.Kind, &c.ExpiresAt, &lastOrg, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.LastOrganizationID = derefString(lastOrg)
	return &c, nil
}

func (db *DB) queryCooldowns(ctx context.Context, query string, args ...any) ([]*models.Cooldown, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Cooldown
	for rows.Next() {
		c, err := scanCooldown(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cooldown: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCooldown returns a user's cooldown, or nil if they have none.
func (db *DB) GetCooldown(ctx context.Context, userID string) (*models.Cooldown, error) {
	c, err := scanCooldown(db.Pool.QueryRow(ctx,
		`SELECT `+cooldownColumns+` FROM cooldowns WHERE user_id = $1`, userID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	return c, nil
}

// UpsertCooldown creates or replaces the user's single cooldown.
func (db *DB) UpsertCooldown(ctx context.Context, c *models.Cooldown) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO cooldowns (user_id, kind, expires_at, last_organization_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			expires_at = EXCLUDED.expires_at,
			last_organization_id = EXCLUDED.last_organization_id,
			updated_at = EXCLUDED.updated_at
	`, c.UserID, string(c.Kind), c.ExpiresAt, nullString(c.LastOrganizationID), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert cooldown: %w", err)
	}
	return nil
}

// ClearCooldown deletes a user's cooldown. When kind is non-empty only a
// cooldown of that kind is deleted. It reports whether a row was removed.
func (db *DB) ClearCooldown(ctx context.Context, userID string, kind models.CooldownKind) (bool, error) {
	query := `DELETE FROM cooldowns WHERE user_id = $1`
	args := []any{userID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, string(kind))
	}
	tag, err := db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("clear cooldown: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClearExpiredCooldown deletes a user's cooldown only if it is still expired
// at now, so a cooldown re-issued after it was listed survives.
func (db *DB) ClearExpiredCooldown(ctx context.Context, userID string, now time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM cooldowns WHERE user_id = $1 AND expires_at <= $2`, userID, now)
	if err != nil {
		return false, fmt.Errorf("clear expired cooldown: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpiringCooldowns returns cooldowns whose expiry is at or before now.
func (db *DB) ListExpiringCooldowns(ctx context.Context, now time.Time) ([]*models.Cooldown, error) {
	out, err := db.queryCooldowns(ctx, `
		SELECT `+cooldownColumns+`
		FROM cooldowns
		WHERE expires_at <= $1
		ORDER BY expires_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list expiring cooldowns: %w", err)
	}
	return out, nil
}

// ListCooldowns returns every cooldown of a kind.
func (db *DB) ListCooldowns(ctx context.Context, kind models.CooldownKind) ([]*models.Cooldown, error) {
	out, err := db.queryCooldowns(ctx, `
		SELECT `+cooldownColumns+`
		FROM cooldowns
		WHERE kind = $1
		ORDER BY expires_at
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s cooldowns: %w", kind, err)
	}
	return out, nil
}

// ListCooldownsByOrganization returns cooldowns issued on leaving an organization.
func (db *DB) ListCooldownsByOrganization(ctx context.Context, orgID string) ([]*models.Cooldown, error) {
	out, err := db.queryCooldowns(ctx, `
		SELECT `+cooldownColumns+`
		FROM cooldowns
		WHERE last_organization_id = $1
		ORDER BY expires_at
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list organization cooldowns: %w", err)
	}
	return out, nil
}
