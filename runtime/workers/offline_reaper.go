package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/Logan27/1000-messenger-sub002/presence"
)

// OfflineReaper sweeps presence grace entries. A user whose last
// connection closed only goes offline once the grace period has fully
// elapsed without a reconnect, so brief page reloads never flap
// offline/online at the contacts.
type OfflineReaper struct {
	manager  *presence.Manager
	interval time.Duration
	log      *slog.Logger
}

func NewOfflineReaper(manager *presence.Manager, interval time.Duration, log *slog.Logger) *OfflineReaper {
	return &OfflineReaper{manager: manager, interval: interval, log: log}
}

func (w *OfflineReaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.manager.Reap(ctx); err != nil {
				w.log.Warn("Presence reap failed", "error", err)
			}
		}
	}
}
