package websocket

import (
	"context"
	"time"

	"log/slog"
)

// Monitor is the liveness sweep: a timer-driven pass that evicts connections
// whose last activity is older than the configured timeout. It only ever
// calls Registry.Remove, so it cannot race with a connection's own close path
// beyond what Remove's idempotence already tolerates.
type Monitor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
}

func NewMonitor(registry *Registry, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
	}
}

// Run sweeps until the context is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("Liveness monitor started", "interval", m.interval, "timeout", m.timeout)

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			slog.Info("Liveness monitor stopped")
			return
		}
	}
}

// Sweep evicts every connection idle past the timeout. Eviction is per
// connection and best-effort: a connection closing itself mid-sweep is simply
// skipped by Remove.
func (m *Monitor) Sweep() {
	now := time.Now()
	evicted := 0

	for _, c := range m.registry.snapshotAll() {
		idle := now.Sub(c.LastActivity())
		if idle <= m.timeout {
			continue
		}

		slog.Warn("Evicting stale connection", "connectionID", c.ID(), "userID", c.UserID(), "idle", idle)
		c.setCloseReason(CloseReasonTimeout, "connection timeout")
		if m.registry.Remove(c.ID()) {
			evicted++
		}
	}

	if evicted > 0 {
		slog.Info("Liveness sweep evicted connections", "count", evicted)
	}
}
