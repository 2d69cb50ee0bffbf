package chathub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nearme/backend/internal/models"
)

// PresenceStore is the storage slice presence needs.
type PresenceStore interface {
	UpdateLastActive(ctx context.Context, userID string, at time.Time) error
	UpdateLocation(ctx context.Context, userID string, lat, lng float64) error
}

// Presence publishes online, offline and location events on the presence
// topic. Every active connection subscribes to that topic, so each event
// costs one delivery per connection.
type Presence struct {
	bus   Bus
	store PresenceStore
	log   *slog.Logger
	now   func() time.Time
}

func NewPresence(bus Bus, store PresenceStore, log *slog.Logger) *Presence {
	return &Presence{bus: bus, store: store, log: log, now: time.Now}
}

// OnOnline must be called once per offline->online edge reported by the Registry.
func (p *Presence) OnOnline(ctx context.Context, userID string) {
	p.publish(ctx, models.Event{Name: models.EventUserOnline, Data: models.PresencePayload{UserID: userID}})
}

// OnOffline must be called once per online->offline edge reported by the Registry.
func (p *Presence) OnOffline(ctx context.Context, userID string) {
	p.publish(ctx, models.Event{Name: models.EventUserOffline, Data: models.PresencePayload{UserID: userID}})
}

// RecordLastActive stores when the user was last seen. Failures are logged.
func (p *Presence) RecordLastActive(ctx context.Context, userID string) {
	if err := p.store.UpdateLastActive(ctx, userID, p.now()); err != nil {
		p.log.Error("failed to record last active", "user", userID, "err", err)
	}
}

// OnLocationUpdate stores the coordinate and then broadcasts it. Nothing is
// broadcast when the store rejects the update.
func (p *Presence) OnLocationUpdate(ctx context.Context, userID string, lat, lng float64) error {
	if err := p.store.UpdateLocation(ctx, userID, lat, lng); err != nil {
		return fmt.Errorf("update location: %w", err)
	}
	p.publish(ctx, models.Event{
		Name: models.EventUserLocation,
		Data: models.UserLocationPayload{UserID: userID, Lat: lat, Lng: lng},
	})
	return nil
}

func (p *Presence) publish(ctx context.Context, ev models.Event) {
	if err := p.bus.Publish(ctx, TopicPresence, ev); err != nil {
		p.log.Error("presence publish failed", "event", ev.Name, "err", err)
	}
}
