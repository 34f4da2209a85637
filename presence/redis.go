package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Logan27/1000-messenger-sub002/domain"
)

// RedisStore keeps one hash per user:
//
//	presence:{user_id} -> conns, away, status, lastSeen, graceAt
//
// Every mutation is a Lua script, so concurrent processes mutating the
// same user's record always observe a single atomic step. No caller
// ever does a read-then-write round trip against this state.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

var _ Store = (*RedisStore)(nil)

func presenceKey(userID string) string {
	return "presence:" + userID
}

// openScript: increment, cancel any pending grace entry, mark online.
// The HDEL result reports whether a grace entry was cancelled, meaning
// the user never actually left.
var openScript = redis.NewScript(`
local c = redis.call('HINCRBY', KEYS[1], 'conns', 1)
local revived = redis.call('HDEL', KEYS[1], 'graceAt')
redis.call('HSET', KEYS[1], 'status', 'online')
local away = redis.call('HGET', KEYS[1], 'away')
if away == '1' then return {c, 1, revived} end
return {c, 0, revived}
`)

func (r *RedisStore) ConnOpened(ctx context.Context, userID string, _ time.Time) (int64, bool, bool, error) {
	res, err := openScript.Run(ctx, r.client, []string{presenceKey(userID)}).Slice()
	if err != nil {
		return 0, false, false, err
	}
	count, _ := res[0].(int64)
	awayFlag, _ := res[1].(int64)
	revivedFlag, _ := res[2].(int64)
	return count, awayFlag == 1, revivedFlag == 1, nil
}

// closeScript: decrement floored at zero; on reaching zero record the
// grace deadline instead of flipping to offline.
var closeScript = redis.NewScript(`
local c = redis.call('HINCRBY', KEYS[1], 'conns', -1)
if c < 0 then
  redis.call('HSET', KEYS[1], 'conns', 0)
  c = 0
end
if c == 0 then
  redis.call('HSET', KEYS[1], 'graceAt', ARGV[1])
end
return c
`)

func (r *RedisStore) ConnClosed(ctx context.Context, userID string, deadline time.Time) (int64, error) {
	return closeScript.Run(ctx, r.client,
		[]string{presenceKey(userID)}, deadline.UnixNano()).Int64()
}

func (r *RedisStore) SetAway(ctx context.Context, userID string, away bool) error {
	value := "0"
	status := "online"
	if away {
		value = "1"
		status = "away"
	}
	return r.client.HSet(ctx, presenceKey(userID), "away", value, "status", status).Err()
}

func (r *RedisStore) Get(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	fields, err := r.client.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return domain.PresenceRecord{}, err
	}
	record := domain.PresenceRecord{UserID: userID, Status: domain.PresenceOffline}
	if len(fields) == 0 {
		return record, nil
	}
	record.Connections, _ = strconv.ParseInt(fields["conns"], 10, 64)
	record.Away = fields["away"] == "1"
	if s, ok := fields["status"]; ok && s != "" {
		record.Status = domain.PresenceStatus(s)
	}
	if raw, ok := fields["lastSeen"]; ok && raw != "" {
		nano, _ := strconv.ParseInt(raw, 10, 64)
		record.LastSeen = time.Unix(0, nano).UTC()
	}
	return record, nil
}

// claimScript flips one user to offline when the grace deadline lapsed
// with zero connections. Returns 1 only for the single caller that wins
// the claim, so exactly one process broadcasts the transition.
var claimScript = redis.NewScript(`
local conns = tonumber(redis.call('HGET', KEYS[1], 'conns') or '0')
local graceAt = tonumber(redis.call('HGET', KEYS[1], 'graceAt') or '0')
if conns == 0 and graceAt > 0 and graceAt <= tonumber(ARGV[1]) then
  redis.call('HDEL', KEYS[1], 'graceAt')
  redis.call('HSET', KEYS[1], 'status', 'offline', 'lastSeen', ARGV[1])
  return 1
end
return 0
`)

func (r *RedisStore) ClaimOffline(ctx context.Context, now time.Time) ([]domain.PresenceRecord, error) {
	var flipped []domain.PresenceRecord
	iter := r.client.Scan(ctx, 0, presenceKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		claimed, err := claimScript.Run(ctx, r.client, []string{key}, now.UnixNano()).Int64()
		if err != nil {
			return flipped, fmt.Errorf("presence: claim %s: %w", key, err)
		}
		if claimed == 1 {
			flipped = append(flipped, domain.PresenceRecord{
				UserID:   key[len("presence:"):],
				Status:   domain.PresenceOffline,
				LastSeen: now.UTC(),
			})
		}
	}
	if err := iter.Err(); err != nil {
		return flipped, err
	}
	return flipped, nil
}
