package domain

import "time"

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceRecord is the cross-process view of a user's visibility.
// Connections counts live sockets across every server process; it is
// maintained with atomic increments on the shared store, never with a
// read-modify-write from this package.
type PresenceRecord struct {
	UserID      string
	Status      PresenceStatus
	LastSeen    time.Time
	Connections int64
	Away        bool
}

// Effective resolves the visible status. The away override wins while
// connections are live; zero connections always reads as offline.
func (p PresenceRecord) Effective() PresenceStatus {
	if p.Connections <= 0 {
		return PresenceOffline
	}
	if p.Away {
		return PresenceAway
	}
	return PresenceOnline
}
