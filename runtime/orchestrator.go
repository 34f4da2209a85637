package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/Logan27/1000-messenger-sub002/bus"
	"github.com/Logan27/1000-messenger-sub002/contract"
	"github.com/Logan27/1000-messenger-sub002/presence"
	"github.com/Logan27/1000-messenger-sub002/runtime/workers"
	"github.com/Logan27/1000-messenger-sub002/typing"
)

type OrchestratorOptions struct {
	TypingSweepInterval  time.Duration
	PresenceReapInterval time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
}

// Orchestrator prepares all supervised workers and runs them. One
// listener per bus topic feeds the local registry; the sweepers keep
// typing state, presence grace periods and dead sockets from going
// stale.
type Orchestrator struct {
	log        *slog.Logger
	supervisor contract.ISupervisor
	registry   *Registry
	bus        contract.Bus
	typing     *typing.Coordinator
	presence   *presence.Manager
	opts       OrchestratorOptions
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor,
	registry *Registry, eventBus contract.Bus, typingCoordinator *typing.Coordinator,
	presenceManager *presence.Manager, opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		log:        log,
		supervisor: supervisor,
		registry:   registry,
		bus:        eventBus,
		typing:     typingCoordinator,
		presence:   presenceManager,
		opts:       opts,
	}
}

// Start registers every worker with the supervisor and launches them.
// Workers that die are restarted by the supervisor, so a lost bus
// subscription heals without operator intervention.
func (o *Orchestrator) Start(ctx context.Context) error {
	topics := []string{bus.TopicMessage, bus.TopicReceipt, bus.TopicTyping, bus.TopicPresence}
	for _, topic := range topics {
		o.supervisor.Add(workers.NewBusListener(o.bus, o.registry, topic, o.log))
	}

	o.supervisor.Add(
		workers.NewTypingSweep(o.typing, o.opts.TypingSweepInterval, o.log),
		workers.NewOfflineReaper(o.presence, o.opts.PresenceReapInterval, o.log),
		workers.NewHeartbeatSweep(o.registry, o.opts.HeartbeatInterval, o.opts.HeartbeatTimeout, o.log),
	)

	o.log.Info("Starting orchestrator and all supervised workers")
	o.supervisor.Run(ctx)
	return nil
}

// Stop cancels the supervision context and lets workers unwind.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}
