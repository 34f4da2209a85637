//go:generate go run go.uber.org/mock/mockgen -source=manager.go -destination=../mocks/mock_presence.go -package=mocks
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Logan27/1000-messenger-sub002/bus"
	"github.com/Logan27/1000-messenger-sub002/contract"
	"github.com/Logan27/1000-messenger-sub002/domain"
	"github.com/Logan27/1000-messenger-sub002/domain/event"
)

// Store is the shared presence state, mutated only through atomic
// operations: every method is a single round trip that multiple
// processes may race on safely.
type Store interface {
	// ConnOpened bumps the connection count and cancels any pending
	// offline grace entry. Reports the new count, the away override, and
	// whether a grace entry was cancelled by this open.
	ConnOpened(ctx context.Context, userID string, now time.Time) (count int64, away bool, revived bool, err error)
	// ConnClosed decrements, floored at zero. When the count reaches
	// zero a grace deadline is recorded instead of flipping to offline.
	ConnClosed(ctx context.Context, userID string, deadline time.Time) (count int64, err error)
	SetAway(ctx context.Context, userID string, away bool) error
	Get(ctx context.Context, userID string) (domain.PresenceRecord, error)
	// ClaimOffline atomically flips every user whose grace deadline has
	// lapsed with zero connections, stamping LastSeen. Each flipped user
	// is claimed by exactly one process across the cluster.
	ClaimOffline(ctx context.Context, now time.Time) ([]domain.PresenceRecord, error)
}

// Manager owns presence transitions and their fanout. Only transitions
// that survive the grace period are broadcast, so a page reload flaps
// nothing.
type Manager struct {
	store     Store
	bus       contract.Bus
	directory contract.Directory
	log       *slog.Logger
	grace     time.Duration
	now       func() time.Time
}

func NewManager(store Store, b contract.Bus, directory contract.Directory,
	grace time.Duration, log *slog.Logger) *Manager {
	return &Manager{store: store, bus: b, directory: directory, grace: grace, log: log, now: time.Now}
}

// ConnectionOpened is called once per admitted connection. The 0 to 1
// transition broadcasts online unless an away override is active; a new
// connection while away clears the override, per the explicit
// "any new connection while away" rule. A reconnect that cancels a
// pending grace entry stays silent: the user never counted as offline,
// so there is no transition to announce.
func (m *Manager) ConnectionOpened(ctx context.Context, userID string) error {
	count, away, revived, err := m.store.ConnOpened(ctx, userID, m.now())
	if err != nil {
		return fmt.Errorf("presence: open: %w", err)
	}
	if away {
		if err := m.store.SetAway(ctx, userID, false); err != nil {
			return err
		}
		return m.broadcast(ctx, userID, domain.PresenceOnline, time.Time{})
	}
	if count == 1 && !revived {
		return m.broadcast(ctx, userID, domain.PresenceOnline, time.Time{})
	}
	return nil
}

// ConnectionClosed pairs exactly one decrement with every opened
// connection, abnormal disconnects included: the registry calls it from
// the single deregistration path. Reaching zero only schedules the
// grace entry; the reaper broadcasts offline later if nothing
// reconnects.
func (m *Manager) ConnectionClosed(ctx context.Context, userID string) error {
	if _, err := m.store.ConnClosed(ctx, userID, m.now().Add(m.grace)); err != nil {
		return fmt.Errorf("presence: close: %w", err)
	}
	return nil
}

// SetAway is the explicit user override, independent of connections.
func (m *Manager) SetAway(ctx context.Context, userID string) error {
	if err := m.store.SetAway(ctx, userID, true); err != nil {
		return err
	}
	return m.broadcast(ctx, userID, domain.PresenceAway, time.Time{})
}

func (m *Manager) SetOnline(ctx context.Context, userID string) error {
	if err := m.store.SetAway(ctx, userID, false); err != nil {
		return err
	}
	record, err := m.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	return m.broadcast(ctx, userID, record.Effective(), time.Time{})
}

func (m *Manager) Get(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	return m.store.Get(ctx, userID)
}

// Reap flips users whose grace period lapsed and broadcasts the offline
// transition. Called periodically by the OfflineReaper worker.
func (m *Manager) Reap(ctx context.Context) error {
	flipped, err := m.store.ClaimOffline(ctx, m.now())
	if err != nil {
		return err
	}
	for _, record := range flipped {
		m.log.Debug("Presence grace elapsed", "user", record.UserID)
		if err := m.broadcast(ctx, record.UserID, domain.PresenceOffline, record.LastSeen); err != nil {
			m.log.Warn("Offline broadcast failed", "user", record.UserID, "error", err)
		}
	}
	return nil
}

func (m *Manager) broadcast(ctx context.Context, userID string, status domain.PresenceStatus, lastSeen time.Time) error {
	contacts, err := m.directory.ContactsOf(ctx, userID)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		return nil
	}
	return m.bus.Publish(ctx, bus.TopicPresence, event.PresenceChanged{
		UserID:   userID,
		Status:   status,
		LastSeen: lastSeen,
		Contacts: contacts,
	})
}
