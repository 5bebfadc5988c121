// Package shutdown coordinates graceful shutdown of the bot: it stops new
// interactions from being accepted and waits for in-flight ones to finish.
package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State represents the current shutdown state.
type State string

const (
	// StateRunning indicates the bot is serving interactions normally.
	StateRunning State = "running"
	// StateDraining indicates new interactions are refused while in-flight ones finish.
	StateDraining State = "draining"
	// StateComplete indicates shutdown is complete.
	StateComplete State = "complete"
)

// Tracker reports how much work is still in progress.
type Tracker interface {
	InFlight() int
}

// Status represents the current shutdown status.
type Status struct {
	State         State         `json:"state"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	TimeRemaining time.Duration `json:"time_remaining,omitempty"`
	InFlight      int           `json:"in_flight"`
	Accepting     bool          `json:"accepting"`
	Message       string        `json:"message,omitempty"`
}

// Config holds configuration for the shutdown manager.
type Config struct {
	// DrainTimeout is the maximum time to wait for in-flight work.
	DrainTimeout time.Duration
	// PollInterval is how often the tracker is checked while draining.
	PollInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DrainTimeout: 15 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

// Manager coordinates graceful shutdown.
type Manager struct {
	config  Config
	tracker Tracker
	logger  zerolog.Logger

	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	accepting    atomic.Bool
	doneCh       chan struct{}
	shutdownOnce sync.Once
}

// NewManager creates a new shutdown manager. tracker may be nil.
func NewManager(config Config, tracker Tracker, logger zerolog.Logger) *Manager {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	m := &Manager{
		config:  config,
		tracker: tracker,
		logger:  logger.With().Str("component", "shutdown_manager").Logger(),
		state:   StateRunning,
		doneCh:  make(chan struct{}),
	}
	m.accepting.Store(true)
	return m
}

// IsAccepting returns true while new interactions should be served.
func (m *Manager) IsAccepting() bool {
	return m.accepting.Load()
}

// GetStatus returns the current shutdown status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		State:     m.state,
		StartedAt: m.startedAt,
		Accepting: m.accepting.Load(),
	}
	if m.tracker != nil {
		status.InFlight = m.tracker.InFlight()
	}
	if m.startedAt != nil {
		if remaining := m.config.DrainTimeout - time.Since(*m.startedAt); remaining > 0 && m.state == StateDraining {
			status.TimeRemaining = remaining
		}
	}

	switch m.state {
	case StateRunning:
		status.Message = "Bot is running normally"
	case StateDraining:
		status.Message = "Bot is draining, not accepting new interactions"
	case StateComplete:
		status.Message = "Shutdown complete"
	}
	return status
}

// Shutdown stops accepting new work and blocks until in-flight work is done,
// DrainTimeout passes or ctx is cancelled. Only the first call does anything.
func (m *Manager) Shutdown(ctx context.Context) {
	m.shutdownOnce.Do(func() {
		m.doShutdown(ctx)
	})
}

func (m *Manager) doShutdown(ctx context.Context) {
	now := time.Now()
	m.mu.Lock()
	m.startedAt = &now
	m.state = StateDraining
	m.mu.Unlock()
	tracker := m.tracker

	m.accepting.Store(false)
	m.logger.Info().Dur("drain_timeout", m.config.DrainTimeout).Msg("draining interactions")

	if tracker != nil {
		drainCtx, cancel := context.WithTimeout(ctx, m.config.DrainTimeout)
		m.waitForTracker(drainCtx, tracker)
		cancel()
	}

	m.mu.Lock()
	m.state = StateComplete
	m.mu.Unlock()
	close(m.doneCh)

	m.logger.Info().Dur("duration", time.Since(now)).Msg("graceful shutdown complete")
}

func (m *Manager) waitForTracker(ctx context.Context, tracker Tracker) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		n := tracker.InFlight()
		if n == 0 {
			m.logger.Debug().Msg("all interactions completed")
			return
		}
		select {
		case <-ctx.Done():
			m.logger.Warn().Int("in_flight", n).Msg("drain timed out with interactions still running")
			return
		case <-ticker.C:
		}
	}
}

// Done returns a channel that is closed when shutdown is complete.
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}
