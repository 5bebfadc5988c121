package db

import (
	"context"
	"fmt"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
)

// GetRateLimit returns the rule for a scope role and action, or nil if none is set.
func (db *DB) GetRateLimit(ctx context.Context, scopeRole, action string) (*models.RateLimitRule, error) {
	var (
		r             models.RateLimitRule
		windowSeconds int
	)
	err := db.Pool.QueryRow(ctx, `
		SELECT scope_role, action, max_count, window_seconds
		FROM rate_limits
		WHERE scope_role = $1 AND action = $2
	`, scopeRole, action).Scan(&r.ScopeRole, &r.Action, &r.MaxCount, &windowSeconds)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rate limit: %w", err)
	}
	r.Window = time.Duration(windowSeconds) * time.Second
	return &r, nil
}

// UpsertRateLimit creates or replaces a rule.
func (db *DB) UpsertRateLimit(ctx context.Context, r *models.RateLimitRule) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO rate_limits (scope_role, action, max_count, window_seconds, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (scope_role, action) DO UPDATE SET
			max_count = EXCLUDED.max_count,
			window_seconds = EXCLUDED.window_seconds,
			updated_at = NOW()
	`, r.ScopeRole, r.Action, r.MaxCount, int(r.Window/time.Second))
	if err != nil {
		return fmt.Errorf("upsert rate limit: %w", err)
	}
	return nil
}
