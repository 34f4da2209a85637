package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the three-stage lifecycle of a message for one
// recipient. Values are ordered so that progress can be compared.
type DeliveryStatus int

const (
	StatusPending DeliveryStatus = iota
	StatusDelivered
	StatusRead
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

// DeliveryRecord tracks delivery progress of one message toward one
// recipient. There is exactly one record per (message, recipient) pair,
// created at send time for every participant except the sender.
type DeliveryRecord struct {
	MessageID   uuid.UUID
	ChatID      string
	SenderID    string
	UserID      string
	Status      DeliveryStatus
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

// Advance moves the record to target and stamps the timestamp of the
// first transition into each state. Status never regresses: advancing to
// a state the record already passed is a no-op and returns false, which
// is what makes MarkDelivered and MarkRead idempotent.
func (r *DeliveryRecord) Advance(target DeliveryStatus, now time.Time) bool {
	if target <= r.Status {
		return false
	}
	if target >= StatusDelivered && r.DeliveredAt == nil {
		at := now
		r.DeliveredAt = &at
	}
	if target == StatusRead && r.ReadAt == nil {
		at := now
		r.ReadAt = &at
	}
	r.Status = target
	return true
}
