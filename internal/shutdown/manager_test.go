package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type counter struct {
	n atomic.Int64
}

func (c *counter) InFlight() int { return int(c.n.Load()) }

func testConfig() Config {
	return Config{DrainTimeout: 500 * time.Millisecond, PollInterval: 10 * time.Millisecond}
}

func TestManager_NewManager(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())

	if !m.IsAccepting() {
		t.Error("expected manager to accept interactions initially")
	}
	if m.GetStatus().State != StateRunning {
		t.Errorf("expected state to be running, got %s", m.GetStatus().State)
	}
}

func TestManager_GetStatus(t *testing.T) {
	c := &counter{}
	c.n.Store(2)
	m := NewManager(testConfig(), c, zerolog.Nop())

	status := m.GetStatus()
	if status.State != StateRunning {
		t.Errorf("expected state running, got %s", status.State)
	}
	if !status.Accepting {
		t.Error("expected accepting to be true")
	}
	if status.InFlight != 2 {
		t.Errorf("expected 2 in flight, got %d", status.InFlight)
	}
}

func TestManager_ShutdownIdle(t *testing.T) {
	m := NewManager(testConfig(), &counter{}, zerolog.Nop())

	start := time.Now()
	m.Shutdown(context.Background())
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("idle shutdown took %v", elapsed)
	}
	if m.GetStatus().State != StateComplete {
		t.Errorf("expected state complete, got %s", m.GetStatus().State)
	}
	if m.IsAccepting() {
		t.Error("expected not accepting after shutdown")
	}
}

func TestManager_ShutdownWaitsForInFlight(t *testing.T) {
	c := &counter{}
	c.n.Store(1)
	m := NewManager(testConfig(), c, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		m.Shutdown(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if m.GetStatus().State != StateDraining {
		t.Errorf("expected draining while work is in flight, got %s", m.GetStatus().State)
	}
	if m.IsAccepting() {
		t.Error("expected not accepting while draining")
	}

	c.n.Store(0)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not finish after work completed")
	}
	if m.GetStatus().State != StateComplete {
		t.Errorf("expected state complete, got %s", m.GetStatus().State)
	}
}

func TestManager_ShutdownTimeout(t *testing.T) {
	c := &counter{}
	c.n.Store(1)
	m := NewManager(Config{DrainTimeout: 100 * time.Millisecond, PollInterval: 10 * time.Millisecond}, c, zerolog.Nop())

	start := time.Now()
	m.Shutdown(context.Background())
	elapsed := time.Since(start)

	if elapsed < 100*time.Millisecond || elapsed > time.Second {
		t.Errorf("expected shutdown to stop at the drain timeout, took %v", elapsed)
	}
	if m.GetStatus().State != StateComplete {
		t.Errorf("expected state complete, got %s", m.GetStatus().State)
	}
}

func TestManager_ShutdownContextCancelled(t *testing.T) {
	c := &counter{}
	c.n.Store(1)
	m := NewManager(Config{DrainTimeout: time.Minute, PollInterval: 10 * time.Millisecond}, c, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	m.Shutdown(ctx)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected cancelled shutdown to return promptly, took %v", elapsed)
	}
}

func TestManager_ShutdownOnce(t *testing.T) {
	m := NewManager(testConfig(), &counter{}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Shutdown(context.Background())
		}()
	}
	wg.Wait()

	if m.GetStatus().State != StateComplete {
		t.Errorf("expected state complete, got %s", m.GetStatus().State)
	}
}

func TestManager_Done(t *testing.T) {
	m := NewManager(testConfig(), nil, zerolog.Nop())

	select {
	case <-m.Done():
		t.Fatal("expected done channel to not be closed before shutdown")
	default:
	}

	go m.Shutdown(context.Background())

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for done channel")
	}
}

func TestManager_StatusReportsInFlight(t *testing.T) {
	c := &counter{}
	c.n.Store(3)
	m := NewManager(testConfig(), c, zerolog.Nop())

	if got := m.GetStatus().InFlight; got != 3 {
		t.Errorf("expected 3 in flight, got %d", got)
	}
	if got := NewManager(testConfig(), nil, zerolog.Nop()).GetStatus().InFlight; got != 0 {
		t.Errorf("expected 0 in flight without a tracker, got %d", got)
	}
}
