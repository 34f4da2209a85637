package workers

import (
	"context"
	"log/slog"

	"github.com/Logan27/1000-messenger-sub002/contract"
	"github.com/Logan27/1000-messenger-sub002/domain/event"
)

// BusListener attaches one bus topic to the local registry. Every
// process runs one listener per topic; the registry filters by room and
// user membership on receipt, which is what lets topics stay broad
// instead of per-chat. Run blocks until the context is done, riding out
// bus reconnects inside Subscribe.
type BusListener struct {
	bus      contract.Bus
	registry contract.Registry
	topic    string
	log      *slog.Logger
}

func NewBusListener(b contract.Bus, registry contract.Registry, topic string, log *slog.Logger) *BusListener {
	return &BusListener{bus: b, registry: registry, topic: topic, log: log}
}

func (w *BusListener) Run(ctx context.Context) error {
	err := w.bus.Subscribe(ctx, w.topic, func(ctx context.Context, e event.DomainEvent) {
		w.registry.DeliverLocal(ctx, e)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
