package chathub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"nearme/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisChannel is the Redis channel every instance publishes bus events to.
const RedisChannel = "nearme:bus"

// busFrame is what travels through Redis.
type busFrame struct {
	Topic string          `json:"topic"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(topic string, ev models.Event) ([]byte, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(busFrame{Topic: topic, Event: ev.Name, Data: data})
}

func decodeFrame(payload []byte) (string, models.Event, error) {
	var f busFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return "", models.Event{}, err
	}
	if f.Topic == "" || f.Event == "" {
		return "", models.Event{}, fmt.Errorf("incomplete bus frame")
	}
	ev := models.Event{Name: f.Event}
	if len(f.Data) > 0 && string(f.Data) != "null" {
		ev.Data = f.Data
	}
	return f.Topic, ev, nil
}

// RedisBus relays bus events through Redis Pub/Sub so that subscribers on
// every instance receive them. Local subscriptions live in the embedded
// LocalBus; Publish only goes to Redis and Listen delivers what comes back,
// including this instance's own events.
type RedisBus struct {
	*LocalBus
	Redis *redis.Client
	log   *slog.Logger
}

func NewRedisBus(rdb *redis.Client, log *slog.Logger) *RedisBus {
	return &RedisBus{
		LocalBus: NewLocalBus(log),
		Redis:    rdb,
		log:      log,
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, ev models.Event) error {
	payload, err := encodeFrame(topic, ev)
	if err != nil {
		return fmt.Errorf("encode bus frame: %w", err)
	}
	if err := b.Redis.Publish(ctx, RedisChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Name, err)
	}
	return nil
}

// Listen blocks, relaying Redis messages to local subscribers until ctx ends.
// ready, when non-nil, is closed once Redis confirms the subscription.
func (b *RedisBus) Listen(ctx context.Context, ready chan<- struct{}) error {
	pubsub := b.Redis.Subscribe(ctx, RedisChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", RedisChannel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic, ev, err := decodeFrame([]byte(msg.Payload))
			if err != nil {
				b.log.Error("bad bus frame from redis", "err", err)
				continue
			}
			_ = b.LocalBus.Publish(ctx, topic, ev)
		}
	}
}
