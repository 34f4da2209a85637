package workers

import (
	"context"
	"log/slog"
	"time"
)

// StaleRegistry is the slice of the connection registry the sweep
// needs: find silent connections, evict them.
type StaleRegistry interface {
	Stale(timeout time.Duration) []string
	Deregister(ctx context.Context, connID string)
}

// HeartbeatSweep detects half-open connections. A socket that stopped
// answering pings past the timeout is deregistered exactly like an
// explicit disconnect, which keeps the presence increment/decrement
// pairing intact even when the peer vanished silently.
type HeartbeatSweep struct {
	registry StaleRegistry
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
}

func NewHeartbeatSweep(registry StaleRegistry, interval, timeout time.Duration, log *slog.Logger) *HeartbeatSweep {
	return &HeartbeatSweep{registry: registry, interval: interval, timeout: timeout, log: log}
}

func (w *HeartbeatSweep) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, connID := range w.registry.Stale(w.timeout) {
				w.log.Info("Heartbeat timeout, dropping connection", "connection", connID)
				w.registry.Deregister(ctx, connID)
			}
		}
	}
}
