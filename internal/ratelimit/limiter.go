// Package ratelimit caps how often callers may perform privileged bot actions.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// DefaultPrefix namespaces limiter keys.
const DefaultPrefix = "phxbot:ratelimit"

// RuleStore looks up the configured rule for a scope role and action.
type RuleStore interface {
	GetRateLimit(ctx context.Context, scopeRole, action string) (*models.RateLimitRule, error)
}

// Result describes the outcome of a single attempt.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter enforces rate limit rules per (scope role, action, user).
type Limiter struct {
	rules  RuleStore
	store  limiter.Store
	logger zerolog.Logger
}

// NewMemory creates a Limiter that keeps counters in process memory.
func NewMemory(rules RuleStore, logger zerolog.Logger) *Limiter {
	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          DefaultPrefix,
		CleanUpInterval: time.Minute,
	})
	return newLimiter(rules, store, logger)
}

// NewRedis creates a Limiter that shares counters through Redis.
func NewRedis(rules RuleStore, client *redis.Client, logger zerolog.Logger) (*Limiter, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: DefaultPrefix})
	if err != nil {
		return nil, fmt.Errorf("create redis limiter store: %w", err)
	}
	return newLimiter(rules, store, logger), nil
}

func newLimiter(rules RuleStore, store limiter.Store, logger zerolog.Logger) *Limiter {
	return &Limiter{
		rules:  rules,
		store:  store,
		logger: logger.With().Str("component", "rate_limiter").Logger(),
	}
}

// Key returns the counter key for an attempt.
func Key(scopeRole, action, userID string) string {
	return scopeRole + ":" + action + ":" + userID
}

// Allow records an attempt and reports whether it is within the rule for
// scopeRole and action. Actions without a valid rule are unlimited.
func (l *Limiter) Allow(ctx context.Context, scopeRole, action, userID string) (Result, error) {
	rule, err := l.rules.GetRateLimit(ctx, scopeRole, action)
	if err != nil {
		return Result{}, fmt.Errorf("get rate limit rule: %w", err)
	}
	if rule == nil {
		return Result{Allowed: true}, nil
	}
	if !rule.IsValid() {
		l.logger.Warn().
			Str("scope", scopeRole).
			Str("action", action).
			Msg("ignoring invalid rate limit rule")
		return Result{Allowed: true}, nil
	}

	instance := limiter.New(l.store, limiter.Rate{
		Period: rule.Window,
		Limit:  int64(rule.MaxCount),
	})
	lc, err := instance.Get(ctx, Key(scopeRole, action, userID))
	if err != nil {
		return Result{}, fmt.Errorf("increment rate limit: %w", err)
	}

	res := Result{
		Allowed:   !lc.Reached,
		Limit:     lc.Limit,
		Remaining: lc.Remaining,
		ResetAt:   time.Unix(lc.Reset, 0),
	}
	if lc.Reached {
		l.logger.Debug().
			Str("scope", scopeRole).
			Str("action", action).
			Str("user_id", userID).
			Time("reset_at", res.ResetAt).
			Msg("rate limit reached")
	}
	return res, nil
}
