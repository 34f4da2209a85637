package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Logan27/1000-messenger-sub002/domain/event"
)

const (
	publishAttempts = 3
	initialBackoff  = 50 * time.Millisecond
	maxBackoff      = 5 * time.Second
)

// RedisBus broadcasts events to every subscribed process via Redis
// pub/sub. Delivery is fire-and-forget: the bus guarantees nothing
// across a subscriber gap, and nothing here waits for receipt. Anything
// that must survive a missed publish (new messages) is independently
// covered by the delivery tracker's pending-state reconciliation.
type RedisBus struct {
	client *redis.Client
	log    *slog.Logger

	// Number of currently confirmed topic subscriptions; the health
	// endpoint reports the bus as up only while every loop is attached.
	subscriptions atomic.Int64
}

// NewRedisBus connects and pings so a dead Redis is caught at startup,
// not at first publish.
func NewRedisBus(ctx context.Context, url string, log *slog.Logger) (*RedisBus, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("bus: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("bus: ping: %w", err)
	}
	return &RedisBus{client: client, log: log}, nil
}

// Publish serializes and broadcasts. Transient failures are retried
// with exponential backoff at this call site; after that the error goes
// back to the caller, which decides whether the operation as a whole is
// retryable.
func (b *RedisBus) Publish(ctx context.Context, topic string, e event.DomainEvent) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err = b.client.Publish(ctx, topic, data).Err()
		if err == nil {
			return nil
		}
		if attempt == publishAttempts {
			return fmt.Errorf("bus: publish %s after %d attempts: %w", topic, attempt, err)
		}
		b.log.Warn("Publish failed, retrying", "topic", topic, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// Subscribe consumes a topic until ctx is done, resubscribing with
// backoff whenever the connection drops. Events published during a gap
// are gone as far as the bus is concerned; the process must not assume
// otherwise.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, handler func(context.Context, event.DomainEvent)) error {
	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sub := b.client.Subscribe(ctx, topic)
		// Wait for the subscription to be confirmed before reporting healthy.
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			b.log.Warn("Subscribe failed, retrying", "topic", topic, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		b.subscriptions.Add(1)
		backoff = initialBackoff
		b.log.Info("Subscribed", "topic", topic)

		b.consume(ctx, sub, topic, handler)
		b.subscriptions.Add(-1)
		_ = sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Warn("Subscription lost, resubscribing", "topic", topic)
	}
}

func (b *RedisBus) consume(ctx context.Context, sub *redis.PubSub, topic string,
	handler func(context.Context, event.DomainEvent)) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			e, err := Decode([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("Dropping undecodable event", "topic", topic, "error", err)
				continue
			}
			handler(ctx, e)
		}
	}
}

func (b *RedisBus) Healthy() bool {
	return b.subscriptions.Load() > 0
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
