package chathub

import (
	"context"
	"log/slog"
	"sync"

	"nearme/backend/internal/models"

	"github.com/samber/lo"
)

// TopicPresence carries online, offline and location events. Every active
// connection subscribes to it.
const TopicPresence = "presence"

// Bus is a topic publish/subscribe primitive for events that are not tied to
// a pair room.
type Bus interface {
	Subscribe(topic string, c Client)
	Unsubscribe(topic string, connID string)
	Publish(ctx context.Context, topic string, ev models.Event) error
}

// LocalBus delivers events to subscribers of this process.
type LocalBus struct {
	mu     sync.RWMutex
	topics map[string]map[string]Client
	log    *slog.Logger
}

func NewLocalBus(log *slog.Logger) *LocalBus {
	return &LocalBus{
		topics: make(map[string]map[string]Client),
		log:    log,
	}
}

func (b *LocalBus) Subscribe(topic string, c Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]Client)
		b.topics[topic] = subs
	}
	subs[c.GetConnID()] = c
}

func (b *LocalBus) Unsubscribe(topic string, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[topic]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Subscribers returns the number of subscribers of topic.
func (b *LocalBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Publish delivers ev to a snapshot of the topic's subscribers. Per-subscriber
// failures are logged and never returned.
func (b *LocalBus) Publish(_ context.Context, topic string, ev models.Event) error {
	b.mu.RLock()
	subs := lo.Values(b.topics[topic])
	b.mu.RUnlock()

	for _, c := range subs {
		if err := c.Deliver(ev); err != nil {
			b.log.Warn("bus delivery dropped",
				"topic", topic, "event", ev.Name, "conn", c.GetConnID(), "err", err)
		}
	}
	return nil
}
