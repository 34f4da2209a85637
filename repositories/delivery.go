//go:generate go run go.uber.org/mock/mockgen -source=delivery.go -destination=../mocks/mock_delivery_repository.go -package=mocks
package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/Logan27/1000-messenger-sub002/domain"
	"github.com/Logan27/1000-messenger-sub002/errors"
)

type IDeliveryRepository interface {
	Create(ctx context.Context, records []domain.DeliveryRecord, createdAt time.Time) error
	Advance(ctx context.Context, messageID uuid.UUID, userID string, target domain.DeliveryStatus, now time.Time) (domain.DeliveryRecord, bool, error)
	Get(ctx context.Context, messageID uuid.UUID, userID string) (domain.DeliveryRecord, error)
	Pending(ctx context.Context, userID string, cursor *string, limit int) ([]uuid.UUID, *string, error)
	Unread(ctx context.Context, userID, chatID string) ([]uuid.UUID, error)
	ReadCount(ctx context.Context, messageID uuid.UUID) (int, error)
	AddReaction(ctx context.Context, reaction domain.Reaction) error
	RemoveReaction(ctx context.Context, reaction domain.Reaction) error
	ReactionsFor(ctx context.Context, messageID uuid.UUID) ([]domain.Reaction, error)
}

// DeliveryRepository tracks per-recipient delivery progress on the
// shared store, so any process can advance any record:
//
//	rcpt:{message_id}:{user_id}  hash, the record itself
//	pend:{user_id}               zset, offline-queue index
//	unrd:{user_id}:{chat_id}     set, backs markAllRead
//	read:{message_id}            set, backs the group read count
//
// Every mutation that races across processes runs as one Lua script or
// one MULTI block. The pending index holds identifiers only; content is
// re-fetched at delivery time so replayed entries never go stale
// relative to edits and deletes.
type DeliveryRepository struct {
	client *redis.Client
	log    *slog.Logger
}

func NewDeliveryRepository(client *redis.Client, log *slog.Logger) DeliveryRepository {
	return DeliveryRepository{client: client, log: log}
}

func recordKey(messageID uuid.UUID, userID string) string {
	return fmt.Sprintf("rcpt:%s:%s", messageID, userID)
}

func pendingSetKey(userID string) string {
	return "pend:" + userID
}

func unreadSetKey(userID, chatID string) string {
	return fmt.Sprintf("unrd:%s:%s", userID, chatID)
}

func readSetKey(messageID uuid.UUID) string {
	return "read:" + messageID.String()
}

// pendingMember pads the creation time so lexicographic order inside
// the zset equals time order; all members carry score zero.
func pendingMember(createdMilli int64, messageID uuid.UUID) string {
	return fmt.Sprintf("%013d:%s", createdMilli, messageID)
}

// Create writes one pending record plus its index entries per
// recipient, as a single MULTI block. Called right after the message
// revision committed; a failure here is surfaced to the sender as
// retryable, never swallowed.
func (d DeliveryRepository) Create(ctx context.Context, records []domain.DeliveryRecord, createdAt time.Time) error {
	createdMilli := createdAt.UnixMilli()
	pipe := d.client.TxPipeline()
	for _, record := range records {
		pipe.HSet(ctx, recordKey(record.MessageID, record.UserID),
			"chat", record.ChatID,
			"sender", record.SenderID,
			"status", int(domain.StatusPending),
			"created", createdMilli,
		)
		pipe.ZAdd(ctx, pendingSetKey(record.UserID), redis.Z{
			Score:  0,
			Member: pendingMember(createdMilli, record.MessageID),
		})
		pipe.SAdd(ctx, unreadSetKey(record.UserID, record.ChatID), record.MessageID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return nil
}

// advanceScript is the monotonic transition, in one atomic step:
// status only moves forward, each timestamp is stamped once, and the
// first transition out of pending clears the offline-queue entry.
// Two processes racing the same pair see exactly one changed=1.
var advanceScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
status = tonumber(status)
local target = tonumber(ARGV[1])
if target <= status then return 0 end
redis.call('HSET', KEYS[1], 'status', target)
if status == 0 then
  redis.call('HSETNX', KEYS[1], 'deliveredAt', ARGV[2])
  local created = tonumber(redis.call('HGET', KEYS[1], 'created'))
  redis.call('ZREM', KEYS[2], string.format('%013d:', created) .. ARGV[3])
end
if target == 2 then
  redis.call('HSETNX', KEYS[1], 'readAt', ARGV[2])
  redis.call('SREM', KEYS[3], ARGV[3])
  redis.call('SADD', KEYS[4], ARGV[4])
end
return 1
`)

// Advance moves a record toward target, idempotently. A no-op advance
// (already delivered, already read) returns changed=false and no error:
// duplicate markDelivered calls from two processes serving the same
// user's devices are expected, not exceptional.
func (d DeliveryRepository) Advance(ctx context.Context, messageID uuid.UUID, userID string,
	target domain.DeliveryStatus, now time.Time) (domain.DeliveryRecord, bool, error) {
	record, err := d.Get(ctx, messageID, userID)
	if err != nil {
		return domain.DeliveryRecord{}, false, err
	}
	keys := []string{
		recordKey(messageID, userID),
		pendingSetKey(userID),
		unreadSetKey(userID, record.ChatID),
		readSetKey(messageID),
	}
	res, err := advanceScript.Run(ctx, d.client, keys,
		int(target), now.UnixNano(), messageID.String(), userID).Int64()
	if err != nil {
		return domain.DeliveryRecord{}, false, err
	}
	switch res {
	case -1:
		return domain.DeliveryRecord{}, false, errors.ErrMessageNotFound
	case 0:
		return record, false, nil
	}
	record.Advance(target, now)
	return record, true, nil
}

func (d DeliveryRepository) Get(ctx context.Context, messageID uuid.UUID, userID string) (domain.DeliveryRecord, error) {
	fields, err := d.client.HGetAll(ctx, recordKey(messageID, userID)).Result()
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	if len(fields) == 0 {
		return domain.DeliveryRecord{}, errors.ErrMessageNotFound
	}
	return toDeliveryRecord(messageID, userID, fields), nil
}

// Pending pages through the offline-queue index for one user, oldest
// first. The cursor is the last member returned; paging resumes
// strictly after it, so entries delivered between pages cannot shift
// the window.
func (d DeliveryRepository) Pending(ctx context.Context, userID string, cursor *string, limit int) ([]uuid.UUID, *string, error) {
	min := "-"
	if cursor != nil {
		min = "(" + *cursor
	}
	members, err := d.client.ZRangeByLex(ctx, pendingSetKey(userID), &redis.ZRangeBy{
		Min:   min,
		Max:   "+",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, nil, err
	}
	var ids []uuid.UUID
	var last string
	for _, member := range members {
		last = member
		// Member is {timestamp_padded}:{message_id}.
		if len(member) < 15 {
			continue
		}
		id, err := uuid.Parse(member[14:])
		if err != nil {
			d.log.Warn("Skipping malformed pending entry", "member", member)
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}
	return ids, &last, nil
}

// Unread lists every message of the chat the user has not read yet,
// pending and delivered alike. Backs markAllRead.
func (d DeliveryRepository) Unread(ctx context.Context, userID, chatID string) ([]uuid.UUID, error) {
	members, err := d.client.SMembers(ctx, unreadSetKey(userID, chatID)).Result()
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for _, member := range members {
		id, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ReadCount is the derived aggregate behind a group chat's read count,
// maintained as a set of readers by the advance script.
func (d DeliveryRepository) ReadCount(ctx context.Context, messageID uuid.UUID) (int, error) {
	count, err := d.client.SCard(ctx, readSetKey(messageID)).Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func reactionHashKey(messageID uuid.UUID) string {
	return "react:" + messageID.String()
}

func reactionField(r domain.Reaction) string {
	return r.UserID + ":" + r.Emoji
}

func (d DeliveryRepository) AddReaction(ctx context.Context, reaction domain.Reaction) error {
	return d.client.HSet(ctx, reactionHashKey(reaction.MessageID),
		reactionField(reaction), reaction.At.UnixNano()).Err()
}

func (d DeliveryRepository) RemoveReaction(ctx context.Context, reaction domain.Reaction) error {
	return d.client.HDel(ctx, reactionHashKey(reaction.MessageID), reactionField(reaction)).Err()
}

func (d DeliveryRepository) ReactionsFor(ctx context.Context, messageID uuid.UUID) ([]domain.Reaction, error) {
	fields, err := d.client.HGetAll(ctx, reactionHashKey(messageID)).Result()
	if err != nil {
		return nil, err
	}
	var reactions []domain.Reaction
	for field := range fields {
		userID, emoji, ok := strings.Cut(field, ":")
		if !ok || userID == "" {
			continue
		}
		reactions = append(reactions, domain.Reaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
		})
	}
	return reactions, nil
}

func toDeliveryRecord(messageID uuid.UUID, userID string, fields map[string]string) domain.DeliveryRecord {
	status, _ := strconv.Atoi(fields["status"])
	record := domain.DeliveryRecord{
		MessageID: messageID,
		ChatID:    fields["chat"],
		SenderID:  fields["sender"],
		UserID:    userID,
		Status:    domain.DeliveryStatus(status),
	}
	if raw, ok := fields["deliveredAt"]; ok && raw != "" {
		nano, _ := strconv.ParseInt(raw, 10, 64)
		at := time.Unix(0, nano).UTC()
		record.DeliveredAt = &at
	}
	if raw, ok := fields["readAt"]; ok && raw != "" {
		nano, _ := strconv.ParseInt(raw, 10, 64)
		at := time.Unix(0, nano).UTC()
		record.ReadAt = &at
	}
	return record
}
