package db

import (
	"context"
	"fmt"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
)

// GetMembership returns a user's membership, or nil if they belong nowhere.
func (db *DB) GetMembership(ctx context.Context, userID string) (*models.Membership, error) {
	var m models.Membership
	err := db.Pool.QueryRow(ctx, `
		SELECT user_id, organization_id, rank_key, updated_at
		FROM memberships
		WHERE user_id = $1
	`, userID).Scan(&m.UserID, &m.OrganizationID, &m.RankKey, &m.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

// SetMembership creates or replaces a user's membership.
func (db *DB) SetMembership(ctx context.Context, m *models.Membership) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO memberships (user_id, organization_id, rank_key, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			rank_key = EXCLUDED.rank_key,
			updated_at = EXCLUDED.updated_at
	`, m.UserID, m.OrganizationID, m.RankKey, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set membership: %w", err)
	}
	return nil
}

// ClearMembership removes a user's membership.
func (db *DB) ClearMembership(ctx context.Context, userID string) error {
	if _, err := db.Pool.Exec(ctx, `DELETE FROM memberships WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear membership: %w", err)
	}
	return nil
}

// ListMembershipsByOrganization returns an organization's members.
func (db *DB) ListMembershipsByOrganization(ctx context.Context, orgID string) ([]*models.Membership, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT user_id, organization_id, rank_key, updated_at
		FROM memberships
		WHERE organization_id = $1
		ORDER BY user_id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []*models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.UserID, &m.OrganizationID, &m.RankKey, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return out, nil
}

// SetLastOrganization records the organization a user just left.
func (db *DB) SetLastOrganization(ctx context.Context, userID, orgID string, leftAt time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO last_organizations (user_id, organization_id, left_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			left_at = EXCLUDED.left_at
	`, userID, orgID, leftAt)
	if err != nil {
		return fmt.Errorf("set last organization: %w", err)
	}
	return nil
}

// GetLastOrganization returns the organization a user last left, or nil.
func (db *DB) GetLastOrganization(ctx context.Context, userID string) (*models.LastOrganization, error) {
	var l models.LastOrganization
	err := db.Pool.QueryRow(ctx, `
		SELECT user_id, organization_id, left_at FROM last_organizations WHERE user_id = $1
	`, userID).Scan(&l.UserID, &l.OrganizationID, &l.LeftAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last organization: %w", err)
	}
	return &l, nil
}
