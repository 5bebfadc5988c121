package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/XpNow/PHX-Bot/internal/access"
	"github.com/XpNow/PHX-Bot/internal/api"
	"github.com/XpNow/PHX-Bot/internal/bot"
	"github.com/XpNow/PHX-Bot/internal/maintenance"
	"github.com/XpNow/PHX-Bot/internal/membership"
	"github.com/XpNow/PHX-Bot/internal/metrics"
	"github.com/XpNow/PHX-Bot/internal/platform"
	"github.com/XpNow/PHX-Bot/internal/ratelimit"
	"github.com/XpNow/PHX-Bot/internal/reconcile"
	"github.com/XpNow/PHX-Bot/internal/shutdown"
	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const httpLimiterPrefix = "phxbot:http"

func newRunCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the gateway and run the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(load)
		},
	}
}

func runBot(load configLoader) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(true); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	logger.Info().
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Str("guild_id", cfg.GuildID).
		Msg("Starting phxbot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open database")
		return err
	}
	defer database.Close()

	redisClient, err := openRedis(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to Redis")
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewPrometheusMetrics(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	discord := platform.NewDiscord(session, logger)

	// Rate limits and the reconcile lock move to Redis when it is configured.
	var (
		actionLimiter *ratelimit.Limiter
		httpStore     limiter.Store
		schedOpts     = []reconcile.Option{reconcile.WithRecorder(recorder)}
	)
	if redisClient != nil {
		actionLimiter, err = ratelimit.NewRedis(database, redisClient, logger)
		if err != nil {
			return err
		}
		httpStore, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: httpLimiterPrefix})
		if err != nil {
			return fmt.Errorf("create http limiter store: %w", err)
		}
		schedOpts = append(schedOpts, reconcile.WithLock(reconcile.NewRedisLock(redisClient, "")))
	} else {
		actionLimiter = ratelimit.NewMemory(database, logger)
	}

	resolver := access.NewResolver(database, logger)
	members := membership.NewService(database, discord, cfg.GuildID, logger)
	dispatcher := bot.NewDispatcher(resolver, members, actionLimiter, database, logger)
	gateway := bot.NewGateway(session, dispatcher, discord, cfg.GuildID, logger)
	lifecycle := shutdown.NewManager(shutdown.DefaultConfig(), gateway, logger)
	gateway.SetGate(lifecycle)

	schedCfg := reconcile.DefaultConfig(cfg.GuildID)
	schedCfg.SweepInterval = cfg.SweepInterval
	schedCfg.DriftInterval = cfg.DriftInterval
	schedCfg.LockTTL = cfg.LockTTL
	scheduler := reconcile.New(database, discord, schedCfg, logger, schedOpts...)

	routerCfg := api.DefaultConfig()
	routerCfg.RateLimitRequests = cfg.RateLimitRequests
	routerCfg.RateLimitPeriod = cfg.RateLimitPeriod
	routerCfg.ReconcileMaxAge = 2*cfg.SweepInterval + cfg.LockTTL
	routerCfg.Version = Version
	routerCfg.Commit = Commit
	routerCfg.BuildDate = BuildDate
	routerCfg.GuildID = cfg.GuildID

	router, err := api.NewRouter(routerCfg, api.Dependencies{
		Database:     database,
		Reconcile:    scheduler,
		Gatherer:     registry,
		Shutdown:     lifecycle,
		LimiterStore: httpStore,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	if err := connectThenServe(ctx, gateway, srv, logger, stop); err != nil {
		logger.Error().Err(err).Msg("Failed to connect to Discord")
		return err
	}
	defer gateway.Close()

	scheduler.Start(ctx)
	defer scheduler.Stop()

	retention := maintenance.NewRetentionScheduler(database, cfg.RetentionSchedule, logger)
	if err := retention.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start retention scheduler")
	} else {
		defer retention.Stop()
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	lifecycle.Shutdown(shutdownCtx)
	status := lifecycle.GetStatus()
	logger.Info().Str("state", string(status.State)).Int("in_flight", status.InFlight).Msg("interactions drained")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}

	logger.Info().Msg("phxbot stopped gracefully")
	return nil
}

type gatewayOpener interface {
	Open(ctx context.Context) error
}

// connectThenServe opens the gateway and only then starts srv. stop is called
// when the server fails after starting.
func connectThenServe(ctx context.Context, gw gatewayOpener, srv *http.Server, logger zerolog.Logger, stop func()) error {
	if err := gw.Open(ctx); err != nil {
		return err
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server error")
			stop()
		}
	}()
	return nil
}
