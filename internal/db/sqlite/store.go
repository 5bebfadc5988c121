// Package sqlite implements the bot's store on a local SQLite file for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('PRIMARY_FACTION', 'LEGAL_FACTION')),
		base_role_id TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rank_bindings (
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		rank_key TEXT NOT NULL,
		role_id TEXT,
		level INTEGER NOT NULL CHECK (level BETWEEN 0 AND 100),
		PRIMARY KEY (organization_id, rank_key)
	);

	CREATE TABLE IF NOT EXISTS memberships (
		user_id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		rank_key TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS last_organizations (
		user_id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		left_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cooldowns (
		user_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('PK', 'BAN')),
		expires_at INTEGER NOT NULL,
		last_organization_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cooldowns_expires_at ON cooldowns(expires_at);

	CREATE TABLE IF NOT EXISTS warnings (
		warn_id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		message_id TEXT,
		created_by TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		status TEXT NOT NULL DEFAULT 'ACTIVE' CHECK (status IN ('ACTIVE', 'EXPIRED')),
		payload TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_warnings_status_expires ON warnings(status, expires_at);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		target_id TEXT,
		organization_id TEXT,
		details TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at);

	CREATE TABLE IF NOT EXISTS rate_limits (
		scope_role TEXT NOT NULL,
		action TEXT NOT NULL,
		max_count INTEGER NOT NULL,
		window_seconds INTEGER NOT NULL,
		PRIMARY KEY (scope_role, action)
	);
`

// Store is a SQLite-backed implementation of every store interface the bot uses.
// Timestamps are stored as Unix milliseconds so range comparisons stay numeric.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "sqlite_store").Logger(),
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("sqlite database initialized")
	return s, nil
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Health returns connection statistics.
func (s *Store) Health() map[string]any {
	stats := s.db.Stats()
	return map[string]any{
		"driver":           "sqlite",
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullJSON(raw []byte) sql.NullString {
	return sql.NullString{String: string(raw), Valid: len(raw) > 0}
}

// withTx runs fn in a transaction. The pool holds a single connection, so
// fn must only use tx.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// GetSetting returns a single setting and whether it exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting creates or replaces a setting. An empty value deletes it.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if value == "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete setting %s: %w", key, err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// GetAllSettings returns every setting.
func (s *Store) GetAllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// UpsertOrganization creates or updates an organization.
func (s *Store) UpsertOrganization(ctx context.Context, org *models.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, kind, base_role_id, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			base_role_id = excluded.base_role_id,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, org.ID, org.Name, string(org.Kind), nullString(org.BaseRoleID), org.Active,
		toMillis(org.CreatedAt), toMillis(org.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert organization %s: %w", org.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row scanner) (*models.Organization, error) {
	var (
		o                models.Organization
		baseRole         sql.NullString
		created, updated int64
	)
	if err := row.Scan(&o.ID, &o.Name, &o.Kind, &baseRole, &o.Active, &created, &updated); err != nil {
		return nil, err
	}
	o.BaseRoleID = baseRole.String
	o.CreatedAt = fromMillis(created)
	o.UpdatedAt = fromMillis(updated)
	return &o, nil
}

// GetOrganization returns an organization by id, or nil if it does not exist.
func (s *Store) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	org, err := scanOrganization(s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, base_role_id, active, created_at, updated_at
		FROM organizations WHERE id = ?
	`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get organization %s: %w", id, err)
	}
	return org, nil
}

// ListOrganizations returns active organizations ordered by kind and name.
func (s *Store) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, base_role_id, active, created_at, updated_at
		FROM organizations
		WHERE active = 1
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
	return out, rows.Err()
}

// DeactivateOrganization soft-deletes an organization and drops its rank
// bindings. Memberships and audit history are kept.
func (s *Store) DeactivateOrganization(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE organizations SET active = 0, updated_at = ? WHERE id = ?`, toMillis(time.Now()), id)
		if err != nil {
			return fmt.Errorf("deactivate organization %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("deactivate organization %s: not found", id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rank_bindings WHERE organization_id = ?`, id); err != nil {
			return fmt.Errorf("delete ranks of %s: %w", id, err)
		}
		return nil
	})
}

// UpsertRankBinding creates or replaces a rank binding.
func (s *Store) UpsertRankBinding(ctx context.Context, b *models.RankBinding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rank_bindings (organization_id, rank_key, role_id, level)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (organization_id, rank_key) DO UPDATE SET
			role_id = excluded.role_id,
			level = excluded.level
	`, b.OrganizationID, b.RankKey, nullString(b.RoleID), b.Level)
	if err != nil {
		return fmt.Errorf("upsert rank %s/%s: %w", b.OrganizationID, b.RankKey, err)
	}
	return nil
}

// GetRankBindings returns an organization's ranks, highest level first.
func (s *Store) GetRankBindings(ctx context.Context, orgID string) ([]*models.RankBinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT organization_id, rank_key, role_id, level
		FROM rank_bindings
		WHERE organization_id = ?
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
			role sql.NullString
		)
		if err := rows.Scan(&b.OrganizationID, &b.RankKey, &role, &b.Level); err != nil {
			return nil, fmt.Errorf("scan rank binding: %w", err)
		}
		b.RoleID = role.String
		out = append(out, &b)
	}
	return out, rows.Err()
}

// GetMembership returns a user's membership, or nil.
func (s *Store) GetMembership(ctx context.Context, userID string) (*models.Membership, error) {
	var (
		m       models.Membership
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, organization_id, rank_key, updated_at FROM memberships WHERE user_id = ?
	`, userID).Scan(&m.UserID, &m.OrganizationID, &m.RankKey, &updated)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	m.UpdatedAt = fromMillis(updated)
	return &m, nil
}

// SetMembership creates or replaces a user's membership.
func (s *Store) SetMembership(ctx context.Context, m *models.Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (user_id, organization_id, rank_key, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			organization_id = excluded.organization_id,
			rank_key = excluded.rank_key,
			updated_at = excluded.updated_at
	`, m.UserID, m.OrganizationID, m.RankKey, toMillis(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("set membership: %w", err)
	}
	return nil
}

// ClearMembership removes a user's membership.
func (s *Store) ClearMembership(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memberships WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear membership: %w", err)
	}
	return nil
}

// ListMembershipsByOrganization returns an organization's members.
func (s *Store) ListMembershipsByOrganization(ctx context.Context, orgID string) ([]*models.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, organization_id, rank_key, updated_at
		FROM memberships
		WHERE organization_id = ?
		ORDER BY user_id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []*models.Membership
	for rows.Next() {
		var (
			m       models.Membership
			updated int64
		)
		if err := rows.Scan(&m.UserID, &m.OrganizationID, &m.RankKey, &updated); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.UpdatedAt = fromMillis(updated)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// SetLastOrganization records the organization a user just left.
func (s *Store) SetLastOrganization(ctx context.Context, userID, orgID string, leftAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_organizations (user_id, organization_id, left_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			organization_id = excluded.organization_id,
			left_at = excluded.left_at
	`, userID, orgID, toMillis(leftAt))
	if err != nil {
		return fmt.Errorf("set last organization: %w", err)
	}
	return nil
}

// GetLastOrganization returns the organization a user last left, or nil.
func (s *Store) GetLastOrganization(ctx context.Context, userID string) (*models.LastOrganization, error) {
	var (
		l    models.LastOrganization
		left int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, organization_id, left_at FROM last_organizations WHERE user_id = ?`, userID).
		Scan(&l.UserID, &l.OrganizationID, &left)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last organization: %w", err)
	}
	l.LeftAt = fromMillis(left)
	return &l, nil
}

const cooldownColumns = `user_id, kind, expires_at, last_organization_id, created_at, updated_at`

func scanCooldown(row scanner) (*models.Cooldown, error) {
	var (
		c                         models.Cooldown
		lastOrg                   sql.NullString
		expires, created, updated int64
	)
	if err := row.Scan(&c.UserID, &c.Kind, &expires, &lastOrg, &created, &updated); err != nil {
		return nil, err
	}
	c.ExpiresAt = fromMillis(expires)
	c.LastOrganizationID = lastOrg.String
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

func (s *Store) queryCooldowns(ctx context.Context, query string, args ...any) ([]*models.Cooldown, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

// GetCooldown returns a user's cooldown, or nil.
func (s *Store) GetCooldown(ctx context.Context, userID string) (*models.Cooldown, error) {
	c, err := scanCooldown(s.db.QueryRowContext(ctx,
		`SELECT `+cooldownColumns+` FROM cooldowns WHERE user_id = ?`, userID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	return c, nil
}

// UpsertCooldown creates or replaces the user's single cooldown.
func (s *Store) UpsertCooldown(ctx context.Context, c *models.Cooldown) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cooldowns (user_id, kind, expires_at, last_organization_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			kind = excluded.kind,
			expires_at = excluded.expires_at,
			last_organization_id = excluded.last_organization_id,
			updated_at = excluded.updated_at
	`, c.UserID, string(c.Kind), toMillis(c.ExpiresAt), nullString(c.LastOrganizationID),
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert cooldown: %w", err)
	}
	return nil
}

// ClearCooldown deletes a user's cooldown, restricted to kind when non-empty.
func (s *Store) ClearCooldown(ctx context.Context, userID string, kind models.CooldownKind) (bool, error) {
	query := `DELETE FROM cooldowns WHERE user_id = ?`
	args := []any{userID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("clear cooldown: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearExpiredCooldown deletes a user's cooldown only if it is still expired at now.
func (s *Store) ClearExpiredCooldown(ctx context.Context, userID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cooldowns WHERE user_id = ? AND expires_at <= ?`, userID, toMillis(now))
	if err != nil {
		return false, fmt.Errorf("clear expired cooldown: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListExpiringCooldowns returns cooldowns whose expiry is at or before now.
func (s *Store) ListExpiringCooldowns(ctx context.Context, now time.Time) ([]*models.Cooldown, error) {
	out, err := s.queryCooldowns(ctx,
		`SELECT `+cooldownColumns+` FROM cooldowns WHERE expires_at <= ? ORDER BY expires_at`, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list expiring cooldowns: %w", err)
	}
	return out, nil
}

// ListCooldowns returns every cooldown of a kind.
func (s *Store) ListCooldowns(ctx context.Context, kind models.CooldownKind) ([]*models.Cooldown, error) {
	out, err := s.queryCooldowns(ctx,
		`SELECT `+cooldownColumns+` FROM cooldowns WHERE kind = ? ORDER BY expires_at`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s cooldowns: %w", kind, err)
	}
	return out, nil
}

// ListCooldownsByOrganization returns cooldowns whose holder last belonged to orgID.
func (s *Store) ListCooldownsByOrganization(ctx context.Context, orgID string) ([]*models.Cooldown, error) {
	out, err := s.queryCooldowns(ctx,
		`SELECT `+cooldownColumns+` FROM cooldowns WHERE last_organization_id = ? ORDER BY expires_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list organization cooldowns: %w", err)
	}
	return out, nil
}

const warningColumns = `warn_id, organization_id, message_id, created_by, created_at, expires_at, status, payload`

func scanWarning(row scanner) (*models.Warning, error) {
	var (
		w         models.Warning
		messageID sql.NullString
		payload   sql.NullString
		created   int64
		expires   sql.NullInt64
	)
	if err := row.Scan(&w.ID, &w.OrganizationID, &messageID, &w.CreatedBy, &created, &expires, &w.Status, &payload); err != nil {
		return nil, err
	}
	w.MessageID = messageID.String
	w.CreatedAt = fromMillis(created)
	if expires.Valid {
		t := fromMillis(expires.Int64)
		w.ExpiresAt = &t
	}
	if payload.Valid {
		w.Payload = []byte(payload.String)
	}
	return &w, nil
}

func (s *Store) queryWarnings(ctx context.Context, query string, args ...any) ([]*models.Warning, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *Store) CreateWarning(ctx context.Context, w *models.Warning) error {
	var expires sql.NullInt64
	if w.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: toMillis(*w.ExpiresAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO warnings (warn_id, organization_id, message_id, created_by, created_at, expires_at, status, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.OrganizationID, nullString(w.MessageID), w.CreatedBy, toMillis(w.CreatedAt), expires,
		string(w.Status), nullJSON(w.Payload))
	if err != nil {
		return fmt.Errorf("create warning: %w", err)
	}
	return nil
}

// GetWarning returns a warning by id, or nil.
func (s *Store) GetWarning(ctx context.Context, warnID string) (*models.Warning, error) {
	w, err := scanWarning(s.db.QueryRowContext(ctx,
		`SELECT `+warningColumns+` FROM warnings WHERE warn_id = ?`, warnID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get warning: %w", err)
	}
	return w, nil
}

// SetWarningMessage records the id of the message the warning was posted as.
func (s *Store) SetWarningMessage(ctx context.Context, warnID, messageID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE warnings SET message_id = ? WHERE warn_id = ?`, nullString(messageID), warnID); err != nil {
		return fmt.Errorf("set warning message: %w", err)
	}
	return nil
}

// SetWarningStatus moves a warning to status. Moving an EXPIRED warning back
// to ACTIVE fails with models.ErrInvalidStatusTransition.
func (s *Store) SetWarningStatus(ctx context.Context, warnID string, status models.WarningStatus) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current models.WarningStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM warnings WHERE warn_id = ?`, warnID).Scan(&current)
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
		if _, err := tx.ExecContext(ctx, `UPDATE warnings SET status = ? WHERE warn_id = ?`, string(status), warnID); err != nil {
			return fmt.Errorf("set warning status: %w", err)
		}
		return nil
	})
}

// ListExpiringWarnings returns ACTIVE warnings whose expiry is at or before now.
func (s *Store) ListExpiringWarnings(ctx context.Context, now time.Time) ([]*models.Warning, error) {
	out, err := s.queryWarnings(ctx, `
		SELECT `+warningColumns+`
		FROM warnings
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at
	`, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list expiring warnings: %w", err)
	}
	return out, nil
}

// ListActiveWarnings returns an organization's ACTIVE warnings, newest first.
func (s *Store) ListActiveWarnings(ctx context.Context, orgID string) ([]*models.Warning, error) {
	out, err := s.queryWarnings(ctx, `
		SELECT `+warningColumns+`
		FROM warnings
		WHERE organization_id = ? AND status = 'ACTIVE'
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list active warnings: %w", err)
	}
	return out, nil
}

// CreateAuditLog inserts a new audit log entry.
func (s *Store) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, actor_id, target_id, organization_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, log.ID.String(), string(log.Action), log.ActorID, nullString(log.TargetID),
		nullString(log.OrganizationID), nullJSON(log.Details), toMillis(log.CreatedAt))
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// ListAuditLogsByTarget returns the newest entries about a user.
func (s *Store) ListAuditLogsByTarget(ctx context.Context, targetID string, limit int) ([]*models.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, actor_id, target_id, organization_id, details, created_at
		FROM audit_logs
		WHERE target_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditLog
	for rows.Next() {
		var (
			l                      models.AuditLog
			id                     string
			target, orgID, details sql.NullString
			created                int64
		)
		if err := rows.Scan(&id, &l.Action, &l.ActorID, &target, &orgID, &details, &created); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse audit log id: %w", err)
		}
		l.ID = parsed
		l.TargetID = target.String
		l.OrganizationID = orgID.String
		if details.Valid {
			l.Details = []byte(details.String)
		}
		l.CreatedAt = fromMillis(created)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// CleanupAuditLogs deletes entries created before cutoff.
func (s *Store) CleanupAuditLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("cleanup audit logs: %w", err)
	}
	return res.RowsAffected()
}

// GetRateLimit returns the rule for a scope role and action, or nil.
func (s *Store) GetRateLimit(ctx context.Context, scopeRole, action string) (*models.RateLimitRule, error) {
	var (
		r      models.RateLimitRule
		window int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT scope_role, action, max_count, window_seconds
		FROM rate_limits WHERE scope_role = ? AND action = ?
	`, scopeRole, action).Scan(&r.ScopeRole, &r.Action, &r.MaxCount, &window)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rate limit: %w", err)
	}
	r.Window = time.Duration(window) * time.Second
	return &r, nil
}

// UpsertRateLimit creates or replaces a rule.
func (s *Store) UpsertRateLimit(ctx context.Context, r *models.RateLimitRule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limits (scope_role, action, max_count, window_seconds) VALUES (?, ?, ?, ?)
		ON CONFLICT (scope_role, action) DO UPDATE SET
			max_count = excluded.max_count,
			window_seconds = excluded.window_seconds
	`, r.ScopeRole, r.Action, r.MaxCount, int64(r.Window/time.Second))
	if err != nil {
		return fmt.Errorf("upsert rate limit: %w", err)
	}
	return nil
}
