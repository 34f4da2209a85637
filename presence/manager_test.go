package presence

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Logan27/1000-messenger-sub002/domain"
	"github.com/Logan27/1000-messenger-sub002/domain/event"
)

type memoryStore struct {
	records map[string]*domain.PresenceRecord
	grace   map[string]time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: make(map[string]*domain.PresenceRecord),
		grace:   make(map[string]time.Time),
	}
}

func (s *memoryStore) record(userID string) *domain.PresenceRecord {
	if _, ok := s.records[userID]; !ok {
		s.records[userID] = &domain.PresenceRecord{UserID: userID, Status: domain.PresenceOffline}
	}
	return s.records[userID]
}

func (s *memoryStore) ConnOpened(_ context.Context, userID string, _ time.Time) (int64, bool, bool, error) {
	r := s.record(userID)
	r.Connections++
	r.Status = domain.PresenceOnline
	_, revived := s.grace[userID]
	delete(s.grace, userID)
	return r.Connections, r.Away, revived, nil
}

func (s *memoryStore) ConnClosed(_ context.Context, userID string, deadline time.Time) (int64, error) {
	r := s.record(userID)
	if r.Connections > 0 {
		r.Connections--
	}
	if r.Connections == 0 {
		s.grace[userID] = deadline
	}
	return r.Connections, nil
}

func (s *memoryStore) SetAway(_ context.Context, userID string, away bool) error {
	s.record(userID).Away = away
	return nil
}

func (s *memoryStore) Get(_ context.Context, userID string) (domain.PresenceRecord, error) {
	return *s.record(userID), nil
}

func (s *memoryStore) ClaimOffline(_ context.Context, now time.Time) ([]domain.PresenceRecord, error) {
	var flipped []domain.PresenceRecord
	for userID, deadline := range s.grace {
		r := s.record(userID)
		if r.Connections == 0 && !now.Before(deadline) {
			r.Status = domain.PresenceOffline
			r.LastSeen = now
			delete(s.grace, userID)
			flipped = append(flipped, *r)
		}
	}
	return flipped, nil
}

type fixedDirectory struct {
	contacts map[string][]string
}

func (d fixedDirectory) ParticipantsOf(context.Context, string) ([]string, error) { return nil, nil }
func (d fixedDirectory) ContactsOf(_ context.Context, userID string) ([]string, error) {
	return d.contacts[userID], nil
}

type busRecorder struct {
	events []event.DomainEvent
}

func (b *busRecorder) Publish(_ context.Context, _ string, e event.DomainEvent) error {
	b.events = append(b.events, e)
	return nil
}

func (b *busRecorder) Subscribe(context.Context, string, func(context.Context, event.DomainEvent)) error {
	return nil
}

func (b *busRecorder) Healthy() bool { return true }

func statuses(events []event.DomainEvent) []domain.PresenceStatus {
	var out []domain.PresenceStatus
	for _, e := range events {
		if changed, ok := e.(event.PresenceChanged); ok {
			out = append(out, changed.Status)
		}
	}
	return out
}

func newTestManager(grace time.Duration) (*Manager, *memoryStore, *busRecorder) {
	store := newMemoryStore()
	b := &busRecorder{}
	directory := fixedDirectory{contacts: map[string][]string{"alice": {"bob"}}}
	return NewManager(store, b, directory, grace, slog.Default()), store, b
}

func TestConnectionOpened_Broadcasts_On_First_Connection_Only(t *testing.T) {
	req := require.New(t)
	manager, _, b := newTestManager(5 * time.Second)

	// When two devices of the same user connect
	req.NoError(manager.ConnectionOpened(context.Background(), "alice"))
	req.NoError(manager.ConnectionOpened(context.Background(), "alice"))

	// Then only the 0 to 1 transition is broadcast
	req.Equal([]domain.PresenceStatus{domain.PresenceOnline}, statuses(b.events))
}

func TestConnectionClosed_Schedules_Grace_Without_Broadcast(t *testing.T) {
	req := require.New(t)
	manager, store, b := newTestManager(5 * time.Second)

	// Given a connected user
	req.NoError(manager.ConnectionOpened(context.Background(), "alice"))

	// When the last connection drops
	req.NoError(manager.ConnectionClosed(context.Background(), "alice"))

	// Then no offline is broadcast yet, only the grace deadline is set
	req.Equal([]domain.PresenceStatus{domain.PresenceOnline}, statuses(b.events))
	req.Contains(store.grace, "alice")
}

func TestReap_Broadcasts_Offline_After_Grace(t *testing.T) {
	req := require.New(t)
	manager, _, b := newTestManager(5 * time.Second)
	frozen := time.Now()
	manager.now = func() time.Time { return frozen }

	// Given a user whose last connection dropped
	req.NoError(manager.ConnectionOpened(context.Background(), "alice"))
	req.NoError(manager.ConnectionClosed(context.Background(), "alice"))

	// When the reaper runs before the grace deadline
	req.NoError(manager.Reap(context.Background()))
	req.Equal([]domain.PresenceStatus{domain.PresenceOnline}, statuses(b.events))

	// When the reaper runs after the grace deadline
	manager.now = func() time.Time { return frozen.Add(6 * time.Second) }
	req.NoError(manager.Reap(context.Background()))

	// Then offline is broadcast exactly once
	req.Equal([]domain.PresenceStatus{domain.PresenceOnline, domain.PresenceOffline}, statuses(b.events))
	req.NoError(manager.Reap(context.Background()))
	req.Len(statuses(b.events), 2)
}

func TestReconnect_Within_Grace_Stays_Silent(t *testing.T) {
	req := require.New(t)
	manager, store, b := newTestManager(5 * time.Second)
	frozen := time.Now()
	manager.now = func() time.Time { return frozen }

	// Given a page reload: disconnect then reconnect within grace
	req.NoError(manager.ConnectionOpened(context.Background(), "alice"))
	req.NoError(manager.ConnectionClosed(context.Background(), "alice"))
	req.NoError(manager.ConnectionOpened(context.Background(), "alice"))

	// When the reaper runs after the original deadline
	manager.now = func() time.Time { return frozen.Add(6 * time.Second) }
	req.NoError(manager.Reap(context.Background()))

	// Then the flap produced no offline transition
	req.Equal([]domain.PresenceStatus{domain.PresenceOnline}, statuses(b.events))
	req.NotContains(store.grace, "alice")
}

func TestSetAway_Overrides_And_New_Connection_Clears_It(t *testing.T) {
	req := require.New(t)
	manager, store, b := newTestManager(5 * time.Second)

	// Given an online user who goes away
	req.NoError(manager.ConnectionOpened(context.Background(), "alice"))
	req.NoError(manager.SetAway(context.Background(), "alice"))
	req.Equal([]domain.PresenceStatus{domain.PresenceOnline, domain.PresenceAway}, statuses(b.events))
	req.True(store.record("alice").Away)

	// When a new connection arrives
	req.NoError(manager.ConnectionOpened(context.Background(), "alice"))

	// Then the away override is cleared and online is broadcast
	req.False(store.record("alice").Away)
	req.Equal([]domain.PresenceStatus{domain.PresenceOnline, domain.PresenceAway, domain.PresenceOnline},
		statuses(b.events))
}

func TestBroadcast_Without_Contacts_Publishes_Nothing(t *testing.T) {
	req := require.New(t)
	store := newMemoryStore()
	b := &busRecorder{}
	manager := NewManager(store, b, fixedDirectory{contacts: map[string][]string{}}, time.Second, slog.Default())

	req.NoError(manager.ConnectionOpened(context.Background(), "loner"))

	req.Empty(b.events)
}
