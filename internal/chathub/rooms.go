package chathub

import (
	"log/slog"
	"sync"

	"nearme/backend/internal/models"

	"github.com/samber/lo"
)

// RoomID names a notification scope. Pair rooms are derived from the two
// user ids, personal rooms from one.
type RoomID string

// RoomIDFor returns the pair room of a and b; the argument order does not matter.
func RoomIDFor(a, b string) RoomID {
	if b < a {
		a, b = b, a
	}
	return RoomID("chat:" + a + ":" + b)
}

// PersonalRoom is the per-user channel used for notifications.
func PersonalRoom(userID string) RoomID {
	return RoomID("user:" + userID)
}

// RoomRouter keeps room membership per connection. Membership only scopes
// notifications; it never grants or denies access to anything.
type RoomRouter struct {
	mu     sync.RWMutex
	rooms  map[RoomID]map[string]Client
	byConn map[string]map[RoomID]struct{}
	log    *slog.Logger
}

func NewRoomRouter(log *slog.Logger) *RoomRouter {
	return &RoomRouter{
		rooms:  make(map[RoomID]map[string]Client),
		byConn: make(map[string]map[RoomID]struct{}),
		log:    log,
	}
}

// Join adds c to room. Joining twice is a no-op.
func (r *RoomRouter) Join(c Client, room RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Client)
		r.rooms[room] = members
	}
	members[c.GetConnID()] = c

	joined, ok := r.byConn[c.GetConnID()]
	if !ok {
		joined = make(map[RoomID]struct{})
		r.byConn[c.GetConnID()] = joined
	}
	joined[room] = struct{}{}
}

// Leave removes c from room. Leaving a room c is not in is a no-op.
func (r *RoomRouter) Leave(c Client, room RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c.GetConnID(), room)
}

// LeaveAll drops every membership of c.
func (r *RoomRouter) LeaveAll(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.byConn[c.GetConnID()] {
		r.leaveLocked(c.GetConnID(), room)
	}
}

func (r *RoomRouter) leaveLocked(connID string, room RoomID) {
	if members, ok := r.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, ok := r.byConn[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// Members returns a snapshot of the connections in room.
func (r *RoomRouter) Members(room RoomID) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.rooms[room])
}

// RoomsOf returns a snapshot of the rooms connID has joined.
func (r *RoomRouter) RoomsOf(connID string) []RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.byConn[connID])
}

// RelayTyping forwards a typing indicator to the other members of the pair
// room. Connections owned by from never get their own indicator back.
func (r *RoomRouter) RelayTyping(from, to, phase string) {
	ev := models.Event{Name: phase, Data: models.PeerPayload{UserID: from}}
	targets := lo.Filter(r.Members(RoomIDFor(from, to)), func(c Client, _ int) bool {
		return c.GetUserID() != from
	})
	r.deliver(targets, ev)
}

// deliver sends ev to each target. A failing target does not affect the rest.
func (r *RoomRouter) deliver(targets []Client, ev models.Event) {
	for _, c := range targets {
		if err := c.Deliver(ev); err != nil {
			r.log.Warn("fan-out delivery dropped",
				"event", ev.Name, "conn", c.GetConnID(), "user", c.GetUserID(), "err", err)
		}
	}
}
