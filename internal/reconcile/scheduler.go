// Package reconcile keeps cooldown and warning records and the status roles
// they imply convergent. A frequent sweep expires records; an infrequent drift
// pass restores status roles and captures roles granted outside the bot.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/platform"
	"github.com/XpNow/PHX-Bot/internal/settings"
	"github.com/rs/zerolog"
)

var (
	// ErrTickInProgress is returned when a tick is requested while one is running.
	ErrTickInProgress = errors.New("reconcile tick already in progress")
	// ErrGuildUnavailable aborts a tick when the managed guild cannot be resolved.
	ErrGuildUnavailable = errors.New("guild unavailable")
	// ErrLockHeld is returned when another instance holds the tick lock.
	ErrLockHeld = errors.New("tick lock held by another instance")
)

// Store defines the database operations needed by the scheduler.
type Store interface {
	GetAllSettings(ctx context.Context) (map[string]string, error)
	ListExpiringCooldowns(ctx context.Context, now time.Time) ([]*models.Cooldown, error)
	ClearExpiredCooldown(ctx context.Context, userID string, now time.Time) (bool, error)
	ListCooldowns(ctx context.Context, kind models.CooldownKind) ([]*models.Cooldown, error)
	UpsertCooldown(ctx context.Context, cooldown *models.Cooldown) error
	ListExpiringWarnings(ctx context.Context, now time.Time) ([]*models.Warning, error)
	SetWarningStatus(ctx context.Context, warnID string, status models.WarningStatus) error
}

// Platform defines the chat platform calls needed by the scheduler.
type Platform interface {
	Guild(ctx context.Context, guildID string) (*platform.Guild, error)
	Members(ctx context.Context, guildID string) ([]*platform.Member, error)
	Member(ctx context.Context, guildID, userID string) (*platform.Member, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	Channel(ctx context.Context, channelID string) (*platform.Channel, error)
	Message(ctx context.Context, channelID, messageID string) (*platform.Message, error)
	EditEmbeds(ctx context.Context, channelID, messageID string, embeds []platform.Embed) error
}

// Recorder receives reconciliation metrics.
type Recorder interface {
	RecordTick(result string, unixSeconds float64)
	ObservePhase(phase string, seconds float64)
	RecordCooldownExpired(kind string)
	RecordRoleMutation(op, result string)
	RecordWarningExpired()
	RecordDriftRepair(kind, action string)
}

type nopRecorder struct{}

func (nopRecorder) RecordTick(string, float64)        {}
func (nopRecorder) ObservePhase(string, float64)      {}
func (nopRecorder) RecordCooldownExpired(string)      {}
func (nopRecorder) RecordRoleMutation(string, string) {}
func (nopRecorder) RecordWarningExpired()             {}
func (nopRecorder) RecordDriftRepair(string, string)  {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SleepFunc blocks for d or until ctx is done, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config holds the configuration for the scheduler.
type Config struct {
	// GuildID is the guild whose members are reconciled.
	GuildID string
	// SweepInterval is the pause between the end of one tick and the start of the next.
	SweepInterval time.Duration
	// DriftInterval is the minimum time between drift passes.
	DriftInterval time.Duration
	// LockTTL bounds how long a tick may hold the distributed lock.
	LockTTL time.Duration
}

// DefaultConfig returns a Config with the standard cadence.
func DefaultConfig(guildID string) Config {
	return Config{
		GuildID:       guildID,
		SweepInterval: time.Minute,
		DriftInterval: 10 * time.Minute,
		LockTTL:       5 * time.Minute,
	}
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithSleep replaces the sleep primitive used between ticks.
func WithSleep(fn SleepFunc) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

// WithLock makes every tick acquire l first, so only one instance reconciles at a time.
func WithLock(l TickLock) Option {
	return func(s *Scheduler) { s.lock = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// TickOptions alter a single tick.
type TickOptions struct {
	// ForceDrift runs drift correction regardless of when it last ran.
	ForceDrift bool
}

// TickReport summarizes what a tick did.
type TickReport struct {
	StartedAt time.Time
	Duration  time.Duration

	CooldownsExpired   int
	CooldownsRetained  int
	WarningsExpired    int
	WarningsFailed     int
	MessageEditsFailed int

	DriftRan          bool
	RolesRestored     int
	CooldownsCaptured int
	DriftConflicts    int
	DriftFailures     int
}

// Scheduler runs the expiry sweep and drift correction.
type Scheduler struct {
	store    Store
	platform Platform
	config   Config
	clock    Clock
	sleep    SleepFunc
	lock     TickLock
	recorder Recorder
	logger   zerolog.Logger

	// mu serializes ticks. lastDriftRun is only touched while it is held.
	mu           sync.Mutex
	lastDriftRun time.Time
	lastTick     atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Scheduler.
func New(store Store, p Platform, config Config, logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		platform: p,
		config:   config,
		clock:    realClock{},
		sleep:    sleepContext,
		recorder: nopRecorder{},
		logger:   logger.With().Str("component", "reconcile").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the loop in the background until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Run(ctx)
	}()
	s.logger.Info().
		Dur("sweep_interval", s.config.SweepInterval).
		Dur("drift_interval", s.config.DriftInterval).
		Msg("reconcile scheduler started")
}

// Stop cancels the loop and waits for the running tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("reconcile scheduler stopped")
}

// Run ticks immediately and then after every SweepInterval pause until ctx
// is done. A tick always completes before the pause starts, so ticks never
// overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		_, err := s.Tick(ctx, TickOptions{})
		switch {
		case err == nil, ctx.Err() != nil:
		case errors.Is(err, ErrLockHeld):
			s.logger.Debug().Msg("reconcile tick skipped, lock held by another instance")
		default:
			s.logger.Warn().Err(err).Msg("reconcile tick aborted")
		}
		if err := s.sleep(ctx, s.config.SweepInterval); err != nil {
			return err
		}
	}
}

// LastTick returns when the last tick finished, or the zero time. A tick
// skipped because another instance holds the tick lock counts as finished:
// that instance is doing the work.
func (s *Scheduler) LastTick() time.Time {
	n := s.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Tick runs one sweep, plus drift correction when due. It returns
// ErrTickInProgress without doing anything if another tick is running.
func (s *Scheduler) Tick(ctx context.Context, opts TickOptions) (*TickReport, error) {
	if !s.mu.TryLock() {
		return nil, ErrTickInProgress
	}
	defer s.mu.Unlock()

	if s.lock != nil {
		release, ok, err := s.lock.Acquire(ctx, s.config.LockTTL)
		if err != nil {
			s.recorder.RecordTick("aborted", float64(s.clock.Now().Unix()))
			return nil, fmt.Errorf("acquire tick lock: %w", err)
		}
		if !ok {
			now := s.clock.Now()
			s.lastTick.Store(now.UnixNano())
			s.recorder.RecordTick("skipped", float64(now.Unix()))
			return nil, ErrLockHeld
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn().Err(err).Msg("failed to release tick lock")
			}
		}()
	}

	return s.tick(ctx, opts)
}

func (s *Scheduler) tick(ctx context.Context, opts TickOptions) (*TickReport, error) {
	now := s.clock.Now()
	report := &TickReport{StartedAt: now}

	guild, err := s.platform.Guild(ctx, s.config.GuildID)
	if err != nil {
		s.recorder.RecordTick("aborted", float64(now.Unix()))
		return report, fmt.Errorf("%w: %v", ErrGuildUnavailable, err)
	}

	st, err := settings.Load(ctx, s.store)
	if settings.IsFatal(err) {
		s.recorder.RecordTick("aborted", float64(now.Unix()))
		return report, err
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring invalid settings")
	}

	s.logger.Debug().Str("guild", guild.Name).Time("now", now).Msg("running reconcile tick")

	phaseStart := s.clock.Now()
	s.expireCooldowns(ctx, now, st, report)
	s.expireWarnings(ctx, now, st, report)
	s.recorder.ObservePhase("sweep", s.clock.Now().Sub(phaseStart).Seconds())

	if opts.ForceDrift || s.driftDue(now) {
		s.lastDriftRun = now
		report.DriftRan = true
		phaseStart = s.clock.Now()
		if err := s.correctDrift(ctx, now, st, report); err != nil {
			s.logger.Warn().Err(err).Msg("drift correction skipped")
		}
		s.recorder.ObservePhase("drift", s.clock.Now().Sub(phaseStart).Seconds())
	}

	end := s.clock.Now()
	report.Duration = end.Sub(now)
	s.lastTick.Store(end.UnixNano())
	s.recorder.RecordTick("ok", float64(end.Unix()))

	s.logger.Debug().
		Int("cooldowns_expired", report.CooldownsExpired).
		Int("cooldowns_retained", report.CooldownsRetained).
		Int("warnings_expired", report.WarningsExpired).
		Bool("drift_ran", report.DriftRan).
		Int("roles_restored", report.RolesRestored).
		Int("cooldowns_captured", report.CooldownsCaptured).
		Dur("duration", report.Duration).
		Msg("reconcile tick completed")

	return report, nil
}

func (s *Scheduler) driftDue(now time.Time) bool {
	return s.lastDriftRun.IsZero() || now.Sub(s.lastDriftRun) >= s.config.DriftInterval
}
