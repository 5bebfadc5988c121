package db

import (
	"context"
	"fmt"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/jackc/pgx/v5"
)

const organizationColumns = `id, name, kind, base_role_id, active, created_at, updated_at`

func scanOrganization(row pgx.Row) (*models.Organization, error) {
	var (
		o        models.Organization
		baseRole *string
	)
	if err := row.Scan(&o.ID, &o.Name, &o.Kind, &baseRole, &o.Active, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.BaseRoleID = derefString(baseRole)
	return &o, nil
}

// UpsertOrganization creates an organization or updates it and marks it active.
func (db *DB) UpsertOrganization(ctx context.Context, org *models.Organization) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO organizations (id, name, kind, base_role_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			base_role_id = EXCLUDED.base_role_id,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, org.ID, org.Name, string(org.Kind), nullString(org.BaseRoleID), org.Active, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert organization %s: %w", org.ID, err)
	}
	return nil
}

// GetOrganization returns an organization by id, or nil if it does not exist.
func (db *DB) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	org, err := scanOrganization(db.Pool.QueryRow(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get organization %s: %w", id, err)
	}
	return org, nil
}

// ListOrganizations returns active organizations ordered by kind and name.
func (db *DB) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+organizationColumns+`
		FROM organizations
		WHERE active
		ORDER BY kind, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var out []*models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		out = append(out, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return out, nil
}

// DeactivateOrganization soft-deletes an organization and drops its rank
// bindings. Memberships and audit history are kept.
func (db *DB) DeactivateOrganization(ctx context.Context, id string) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE organizations SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("deactivate organization %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("deactivate organization %s: not found", id)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM rank_bindings WHERE organization_id = $1`, id); err != nil {
			return fmt.Errorf("delete ranks of %s: %w", id, err)
		}
		return nil
	})
}

// UpsertRankBinding creates or replaces a rank binding.
func (db *DB) UpsertRankBinding(ctx context.Context, b *models.RankBinding) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO rank_bindings (organization_id, rank_key, role_id, level)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, rank_key) DO UPDATE SET
			role_id = EXCLUDED.role_id,
			level = EXCLUDED.level
	`, b.OrganizationID, b.RankKey, nullString(b.RoleID), b.Level)
	if err != nil {
		return fmt.Errorf("upsert rank %s/%s: %w", b.OrganizationID, b.RankKey, err)
	}
	return nil
}

// GetRankBindings returns an organization's ranks, highest level first.
func (db *DB) GetRankBindings(ctx context.Context, orgID string) ([]*models.RankBinding, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT organization_id, rank_key, role_id, level
		FROM rank_bindings
		WHERE organization_id = $1
		ORDER BY level DESC, rank_key
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("get rank bindings: %w", err)
	}
	defer rows.Close()

	var out []*models.RankBinding
	for rows.Next() {
		var (
			b    models.RankBinding
			role *string
		)
		if err := rows.Scan(&b.OrganizationID, &b.RankKey, &role, &b.Level); err != nil {
			return nil, fmt.Errorf("scan rank binding: %w", err)
		}
		b.RoleID = derefString(role)
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rank bindings: %w", err)
	}
	return out, nil
}
