package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAdvance_Pending_To_Delivered_To_Read(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()
	record := DeliveryRecord{MessageID: uuid.New(), UserID: "alice", Status: StatusPending}

	// When the record advances to delivered
	req.True(record.Advance(StatusDelivered, now))

	// Then the delivered timestamp is stamped once
	req.Equal(StatusDelivered, record.Status)
	req.NotNil(record.DeliveredAt)
	req.Equal(now, *record.DeliveredAt)
	req.Nil(record.ReadAt)

	// When the record advances to read
	later := now.Add(time.Minute)
	req.True(record.Advance(StatusRead, later))

	// Then the read timestamp is stamped and delivered is untouched
	req.Equal(StatusRead, record.Status)
	req.Equal(now, *record.DeliveredAt)
	req.Equal(later, *record.ReadAt)
}

func TestAdvance_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()
	record := DeliveryRecord{MessageID: uuid.New(), UserID: "alice", Status: StatusPending}

	// Given a delivered record
	req.True(record.Advance(StatusDelivered, now))

	// When the same transition is applied again, later
	req.False(record.Advance(StatusDelivered, now.Add(time.Hour)))

	// Then the original timestamp survives
	req.Equal(now, *record.DeliveredAt)
}

func TestAdvance_Never_Regresses(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()
	record := DeliveryRecord{MessageID: uuid.New(), UserID: "alice", Status: StatusPending}

	// Given a read record
	req.True(record.Advance(StatusRead, now))

	// When an older delivered report arrives
	req.False(record.Advance(StatusDelivered, now.Add(time.Second)))

	// Then the record stays read
	req.Equal(StatusRead, record.Status)
}

func TestAdvance_Straight_To_Read_Stamps_Both(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()
	record := DeliveryRecord{MessageID: uuid.New(), UserID: "alice", Status: StatusPending}

	// When a pending record is read directly (markAllRead path)
	req.True(record.Advance(StatusRead, now))

	// Then both timestamps are stamped on the single transition
	req.Equal(now, *record.DeliveredAt)
	req.Equal(now, *record.ReadAt)
}
