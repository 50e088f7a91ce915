package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus is a Broker backed by Redis Pub/Sub, letting several server
// instances share board streams. Channels are namespaced by prefix.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
	log    *zap.Logger
}

// NewRedisBus wraps an existing client. prefix must not be empty.
func NewRedisBus(rdb *redis.Client, prefix string, log *zap.Logger) (*RedisBus, error) {
	if prefix == "" {
		return nil, fmt.Errorf("channel prefix cannot be empty")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{rdb: rdb, prefix: prefix, log: log}, nil
}

// Channel returns the Pub/Sub channel carrying events of boardID.
func (b *RedisBus) Channel(boardID uuid.UUID) string {
	return fmt.Sprintf("%s:board:%s:events", b.prefix, boardID)
}

// Ping verifies Redis connectivity.
func (b *RedisBus) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

// Publish sends e as JSON on its board channel.
func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.Channel(e.BoardID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe streams events of boardID until ctx ends or the subscription is closed.
// Undecodable messages are logged and skipped.
func (b *RedisBus) Subscribe(ctx context.Context, boardID uuid.UUID) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, b.Channel(boardID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Event, subscriptionBuffer)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					b.log.Warn("skip malformed event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- e:
				case <-subCtx.Done():
					return
				default:
					b.log.Debug("subscriber lagging, event dropped", zap.Stringer("board", boardID))
				}
			}
		}
	}()

	return &Subscription{events: out, cancel: cancel}, nil
}
