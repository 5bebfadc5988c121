package main

import (
	"context"
	"fmt"

	"github.com/XpNow/PHX-Bot/internal/access"
	"github.com/XpNow/PHX-Bot/internal/api/handlers"
	"github.com/XpNow/PHX-Bot/internal/bot"
	"github.com/XpNow/PHX-Bot/internal/config"
	"github.com/XpNow/PHX-Bot/internal/db"
	"github.com/XpNow/PHX-Bot/internal/db/sqlite"
	"github.com/XpNow/PHX-Bot/internal/maintenance"
	"github.com/XpNow/PHX-Bot/internal/membership"
	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/ratelimit"
	"github.com/XpNow/PHX-Bot/internal/reconcile"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// store is everything the process needs from persistence. Both the
// PostgreSQL and the SQLite stores satisfy it.
type store interface {
	access.Store
	membership.Store
	reconcile.Store
	ratelimit.RuleStore
	bot.StatusStore
	maintenance.RetentionStore
	config.SeedStore
	handlers.DatabaseHealthChecker

	GetSetting(ctx context.Context, key string) (string, bool, error)
	ListAuditLogsByTarget(ctx context.Context, targetID string, limit int) ([]*models.AuditLog, error)
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ store = (*db.DB)(nil)
	_ store = (*sqlite.Store)(nil)
)

// openStore connects to the configured database and applies migrations.
func openStore(ctx context.Context, cfg *config.BotConfig, logger zerolog.Logger) (store, error) {
	var (
		s   store
		err error
	)
	driver, dsn := cfg.Database()
	switch driver {
	case config.DriverSQLite:
		s, err = sqlite.Open(ctx, dsn, logger)
	default:
		s, err = db.New(ctx, db.DefaultConfig(dsn), logger)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", driver, err)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Str("driver", driver).Msg("database ready")
	return s, nil
}

// openRedis returns a client for cfg.RedisURL, or nil when Redis is not configured.
func openRedis(ctx context.Context, cfg *config.BotConfig) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
