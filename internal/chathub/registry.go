package chathub

import (
	"sync"

	"github.com/samber/lo"
)

// Registry tracks the live connections of every user and is the only place
// that decides whether a user is online.
type Registry struct {
	mu    sync.Mutex
	users map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]map[string]struct{})}
}

// Register adds connID for userID and reports whether it is the user's only
// connection, i.e. the user just came online.
func (r *Registry) Register(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.users[userID] = conns
	}
	if _, dup := conns[connID]; dup {
		return false
	}
	conns[connID] = struct{}{}
	return len(conns) == 1
}

// Unregister removes connID and reports whether the user has no connections
// left. Unknown connections never report a transition.
func (r *Registry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := conns[connID]; !ok {
		return false
	}
	delete(conns, connID)
	if len(conns) > 0 {
		return false
	}
	delete(r.users, userID)
	return true
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID]) > 0
}

// Connections returns a snapshot of the user's connection ids.
func (r *Registry) Connections(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.users[userID])
}

// OnlineUsers returns a snapshot of every online user id.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.users)
}
