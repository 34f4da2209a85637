//go:generate go run go.uber.org/mock/mockgen -source=coordinator.go -destination=../mocks/mock_typing.go -package=mocks
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Logan27/1000-messenger-sub002/bus"
	"github.com/Logan27/1000-messenger-sub002/contract"
	"github.com/Logan27/1000-messenger-sub002/domain"
	"github.com/Logan27/1000-messenger-sub002/domain/event"
)

type pair struct {
	chatID string
	userID string
}

// Coordinator owns the ephemeral "user is typing" table of this
// process. Entries self-expire: readers ignore lapsed entries without
// waiting for cleanup, and Sweep broadcasts the stop the client never
// sent (tab closed mid-type). Nothing here is ever persisted.
type Coordinator struct {
	mu      sync.Mutex
	entries map[pair]domain.TypingState
	bus     contract.Bus
	log     *slog.Logger
	ttl     time.Duration
	now     func() time.Time
}

func NewCoordinator(b contract.Bus, ttl time.Duration, log *slog.Logger) *Coordinator {
	return &Coordinator{
		entries: make(map[pair]domain.TypingState),
		bus:     b,
		log:     log,
		ttl:     ttl,
		now:     time.Now,
	}
}

// SignalStart refreshes the expiry and broadcasts typing:start only
// when no unexpired entry existed for the pair. Rapid keystrokes
// therefore cost one broadcast per TTL span, not one per keystroke.
func (c *Coordinator) SignalStart(ctx context.Context, chatID, userID string) error {
	key := pair{chatID: chatID, userID: userID}
	now := c.now()

	c.mu.Lock()
	existing, ok := c.entries[key]
	fresh := !ok || existing.Expired(now)
	c.entries[key] = domain.TypingState{ChatID: chatID, UserID: userID, ExpiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	if !fresh {
		return nil
	}
	return c.bus.Publish(ctx, bus.TopicTyping, event.TypingStarted{ChatID: chatID, UserID: userID})
}

// SignalStop removes the entry and broadcasts typing:stop. Stopping a
// pair that was never typing is absorbed silently. An entry that
// expired but was not swept yet still broadcasts: removing it here
// means the sweep never will, and recipients still show the indicator.
func (c *Coordinator) SignalStop(ctx context.Context, chatID, userID string) error {
	key := pair{chatID: chatID, userID: userID}

	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return c.bus.Publish(ctx, bus.TopicTyping, event.TypingStopped{ChatID: chatID, UserID: userID})
}

// Typing reports whether the pair currently counts as typing, expiring
// lazily on read.
func (c *Coordinator) Typing(chatID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[pair{chatID: chatID, userID: userID}]
	return ok && !entry.Expired(c.now())
}

// Sweep expires lapsed entries and broadcasts their typing:stop. Run
// periodically by the TypingSweep worker.
func (c *Coordinator) Sweep(ctx context.Context) {
	now := c.now()

	c.mu.Lock()
	var lapsed []pair
	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
			lapsed = append(lapsed, key)
		}
	}
	c.mu.Unlock()

	for _, key := range lapsed {
		err := c.bus.Publish(ctx, bus.TopicTyping, event.TypingStopped{ChatID: key.chatID, UserID: key.userID})
		if err != nil {
			c.log.Warn("typing:stop broadcast failed", "chat", key.chatID, "user", key.userID, "error", err)
		}
	}
}
