package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/Logan27/1000-messenger-sub002/typing"
)

// TypingSweep proactively expires typing entries whose TTL lapsed
// without an explicit stop. Clients cannot be trusted to always send
// one; a closed tab sends nothing.
type TypingSweep struct {
	coordinator *typing.Coordinator
	interval    time.Duration
	log         *slog.Logger
}

func NewTypingSweep(coordinator *typing.Coordinator, interval time.Duration, log *slog.Logger) *TypingSweep {
	return &TypingSweep{coordinator: coordinator, interval: interval, log: log}
}

func (w *TypingSweep) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.coordinator.Sweep(ctx)
		}
	}
}
