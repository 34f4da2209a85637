//go:generate go run go.uber.org/mock/mockgen -source=limiter.go -destination=../mocks/mock_limiter.go -package=mocks
package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Logan27/1000-messenger-sub002/errors"
)

// CounterStore is the atomic-counter contract the limiter runs on.
// Counts are shared by every process, so Increment must be a single
// atomic operation on the store, never a read-modify-write here.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Rule bounds one operation class.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRules are illustrative production values; real deployments
// override them through configuration.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"message":  {Limit: 10, Window: time.Second},
		"typing":   {Limit: 10, Window: time.Minute},
		"reaction": {Limit: 30, Window: time.Minute},
	}
}

// Limiter is a windowed counter keyed by (user, operation class). The
// window start is encoded in the key, so crossing a window boundary
// resets the count without any explicit cleanup; stale buckets expire
// on their own.
type Limiter struct {
	store CounterStore
	rules map[string]Rule
	log   *slog.Logger
	now   func() time.Time
}

func New(store CounterStore, rules map[string]Rule, log *slog.Logger) *Limiter {
	return &Limiter{store: store, rules: rules, log: log, now: time.Now}
}

// Check returns nil when the operation is allowed, ErrRateLimited when
// denied. A denial is terminal for this call: nothing here retries, and
// callers must surface the distinct signal rather than a generic error.
// Unknown classes are allowed; the limiter only bounds what it knows.
func (l *Limiter) Check(ctx context.Context, userID, class string) error {
	rule, ok := l.rules[class]
	if !ok {
		return nil
	}
	window := l.now().UnixNano() / int64(rule.Window)

	count, err := l.store.Increment(ctx, bucketKey(userID, class, window), 2*rule.Window)
	if err != nil {
		// The limiter failing must not take message delivery down with it.
		l.log.Warn("Limiter store unavailable, allowing", "class", class, "error", err)
		return nil
	}
	if count > rule.Limit {
		l.log.Debug("Rate limit exceeded", "user", userID, "class", class)
		return fmt.Errorf("%w: %s", errors.ErrRateLimited, class)
	}
	return nil
}

func bucketKey(userID, class string, window int64) string {
	return fmt.Sprintf("rate:%s:%s:%d", userID, class, window)
}
