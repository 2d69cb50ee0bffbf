package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nearme/backend/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// ConnState is the lifecycle of one connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const shutdownPoll = 10 * time.Millisecond

// Store is everything the hub needs from persistence.
type Store interface {
	MessageStore
	PresenceStore
}

// ManagerService binds connections to the registry, rooms, pipeline and
// presence, and routes every inbound event of an active connection.
type ManagerService struct {
	Registry *Registry
	Rooms    *RoomRouter
	Pipeline *Pipeline
	Presence *Presence
	Bus      Bus

	log      *slog.Logger
	validate *validator.Validate

	// users orders each user's online and offline edges with their broadcast.
	users *keyedMutex

	mu    sync.Mutex
	conns map[string]Client
}

func NewManagerService(store Store, bus Bus, log *slog.Logger) *ManagerService {
	rooms := NewRoomRouter(log)
	return &ManagerService{
		Registry: NewRegistry(),
		Rooms:    rooms,
		Pipeline: NewPipeline(store, rooms, log),
		Presence: NewPresence(bus, store, log),
		Bus:      bus,
		log:      log,
		validate: validator.New(),
		users:    newKeyedMutex(),
		conns:    make(map[string]Client),
	}
}

// Attach makes an authenticated connection active: it is registered, joined
// to its personal room and subscribed to presence. The online event fires
// when this is the user's first connection.
func (m *ManagerService) Attach(ctx context.Context, c Client) {
	userID := c.GetUserID()

	m.mu.Lock()
	m.conns[c.GetConnID()] = c
	m.mu.Unlock()

	m.Rooms.Join(c, PersonalRoom(userID))
	m.Bus.Subscribe(TopicPresence, c)

	unlock := m.users.Lock(userID)
	defer unlock()

	first := m.Registry.Register(userID, c.GetConnID())
	m.log.Info("connection active", "user", userID, "conn", c.GetConnID(), "first", first)
	if first {
		m.Presence.OnOnline(ctx, userID)
	}
}

// Detach tears a connection down. The offline event fires when it was the
// user's last connection. Calling Detach twice for a connection is harmless.
func (m *ManagerService) Detach(ctx context.Context, c Client) {
	userID := c.GetUserID()

	m.Bus.Unsubscribe(TopicPresence, c.GetConnID())
	m.Rooms.LeaveAll(c)

	unlock := m.users.Lock(userID)
	last := m.Registry.Unregister(userID, c.GetConnID())
	m.log.Info("connection closed", "user", userID, "conn", c.GetConnID(), "last", last)
	if last {
		m.Presence.OnOffline(ctx, userID)
	}
	unlock()

	// Recorded after the user lock is released.
	if last {
		m.Presence.RecordLastActive(ctx, userID)
	}

	// Shutdown waits for this count to reach zero.
	m.mu.Lock()
	delete(m.conns, c.GetConnID())
	m.mu.Unlock()
}

// ActiveConnections returns the number of attached connections.
func (m *ManagerService) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Shutdown closes every attached connection and waits until each one has
// detached through its own close path, so offline events and last-active
// writes are done when it returns. It gives up when ctx ends.
func (m *ManagerService) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	conns := lo.Values(m.conns)
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	ticker := time.NewTicker(shutdownPoll)
	defer ticker.Stop()
	for {
		if m.ActiveConnections() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d connections still attached: %w", m.ActiveConnections(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Handle routes one inbound event. Failures are reported to c as
// message:error and never end the connection.
func (m *ManagerService) Handle(ctx context.Context, c Client, env models.Envelope) {
	self := c.GetIdentity()

	switch env.Event {
	case models.EventChatJoin, models.EventChatLeave:
		var p models.PeerPayload
		if !m.decode(c, env, &p) {
			return
		}
		room := RoomIDFor(self.ID, p.UserID)
		if env.Event == models.EventChatJoin {
			m.Rooms.Join(c, room)
		} else {
			m.Rooms.Leave(c, room)
		}

	case models.EventTypingStart, models.EventTypingStop:
		var p models.PeerPayload
		if !m.decode(c, env, &p) {
			return
		}
		m.Rooms.RelayTyping(self.ID, p.UserID, env.Event)

	case models.EventMessageSend:
		var p models.SendPayload
		if !m.decode(c, env, &p) {
			return
		}
		_, err := m.Pipeline.Send(ctx, SendRequest{
			Sender:     self,
			ReceiverID: p.ReceiverID,
			Content:    p.Content,
			ImageURL:   p.ImageURL,
			Origin:     c,
		})
		var sendErr *SendError
		if errors.As(err, &sendErr) {
			m.reply(c, errorEvent(sendErr.Code(), sendErr.Message()))
		}

	case models.EventLocationUpdate:
		var p models.LocationPayload
		if !m.decode(c, env, &p) {
			return
		}
		if err := m.Presence.OnLocationUpdate(ctx, self.ID, *p.Lat, *p.Lng); err != nil {
			m.log.Error("location update failed", "user", self.ID, "err", err)
			m.reply(c, errorEvent(CodeLocationFailed, "location could not be saved"))
		}

	default:
		m.reply(c, errorEvent(CodeBadRequest, "unknown event "+env.Event))
	}
}

// decode unmarshals and validates the payload, answering bad_request on failure.
func (m *ManagerService) decode(c Client, env models.Envelope, into any) bool {
	if len(env.Data) == 0 {
		m.reply(c, errorEvent(CodeBadRequest, env.Event+": missing data"))
		return false
	}
	if err := json.Unmarshal(env.Data, into); err != nil {
		m.reply(c, errorEvent(CodeBadRequest, env.Event+": malformed data"))
		return false
	}
	if err := m.validate.Struct(into); err != nil {
		m.reply(c, errorEvent(CodeBadRequest, env.Event+": "+err.Error()))
		return false
	}
	return true
}

func (m *ManagerService) reply(c Client, ev models.Event) {
	if err := c.Deliver(ev); err != nil {
		m.log.Debug("reply dropped", "conn", c.GetConnID(), "event", ev.Name, "err", err)
	}
}
