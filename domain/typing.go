package domain

import "time"

// TypingState marks "user is typing in chat" until ExpiresAt. Entries
// are purely transient: an expired entry is treated as absent by every
// reader, whether or not a sweep removed it yet.
type TypingState struct {
	ChatID    string
	UserID    string
	ExpiresAt time.Time
}

func (t TypingState) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
