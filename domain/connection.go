package domain

import "time"

// Connection describes one live client socket. It is owned exclusively
// by the registry of the process that accepted it and is never shared
// across processes; remote connections are only ever reached through
// the fanout bus.
type Connection struct {
	ID            string
	UserID        string
	ProcessID     string
	Rooms         map[string]struct{}
	CreatedAt     time.Time
	LastHeartbeat time.Time
}

func NewConnection(id, userID, processID string, now time.Time) *Connection {
	return &Connection{
		ID:            id,
		UserID:        userID,
		ProcessID:     processID,
		Rooms:         make(map[string]struct{}),
		CreatedAt:     now,
		LastHeartbeat: now,
	}
}

func (c *Connection) Join(chatID string)  { c.Rooms[chatID] = struct{}{} }
func (c *Connection) Leave(chatID string) { delete(c.Rooms, chatID) }

func (c *Connection) InRoom(chatID string) bool {
	_, ok := c.Rooms[chatID]
	return ok
}
