// Package heartbeat implements the self-check loop that keeps the
// process honest: a fixed probe set runs on an interval, and any probe
// failure flips the process into fail-closed posture until every probe
// passes again.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the probe cadence.
const DefaultInterval = 30 * time.Second

// Probe is one named self-check. A nil error means the probe passed.
type Probe struct {
	// Name identifies the probe in logs and status reports.
	Name string
	// Check runs the probe.
	Check func(ctx context.Context) error
}

// Status is a snapshot of the monitor's state.
type Status struct {
	// Healthy is false while the process is fail-closed.
	Healthy bool
	// Failures names the probes that failed in the last run.
	Failures []string
	// LastRun is when the probe set last completed.
	LastRun time.Time
}

// Monitor runs the probe set and holds the fail-closed flag.
// The flag is read on every request's hot path, so it is atomic.
type Monitor struct {
	probes   []Probe
	interval time.Duration
	healthy  atomic.Bool
	logger   *slog.Logger

	mu       sync.Mutex
	failures []string
	lastRun  time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMonitor creates a monitor. It starts unhealthy; the first
// successful probe run opens the corridor. An interval of 0 uses the
// default.
func NewMonitor(probes []Probe, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		probes:   probes,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Healthy reports whether the process may serve requests.
func (m *Monitor) Healthy() bool {
	return m.healthy.Load()
}

// Status returns the last run's snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	failures := make([]string, len(m.failures))
	copy(failures, m.failures)
	return Status{
		Healthy:  m.healthy.Load(),
		Failures: failures,
		LastRun:  m.lastRun,
	}
}

// RunOnce executes the full probe set and updates the fail-closed flag.
// State transitions are logged exactly once.
func (m *Monitor) RunOnce(ctx context.Context) bool {
	var failures []string
	for _, p := range m.probes {
		if err := p.Check(ctx); err != nil {
			failures = append(failures, p.Name)
			m.logger.Warn("heartbeat probe failed", "probe", p.Name, "error", err)
		}
	}

	nowHealthy := len(failures) == 0
	wasHealthy := m.healthy.Swap(nowHealthy)

	m.mu.Lock()
	m.failures = failures
	m.lastRun = time.Now()
	m.mu.Unlock()

	if nowHealthy && !wasHealthy {
		m.logger.Info("heartbeat recovered; corridor open")
	}
	if !nowHealthy && wasHealthy {
		m.logger.Error("heartbeat failed; entering fail-closed posture",
			"failed_probes", failures)
	}
	return nowHealthy
}

// Start runs the probe set immediately and then on the interval until
// the context is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.RunOnce(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopChan:
				return
			case <-ticker.C:
				m.RunOnce(ctx)
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
}
