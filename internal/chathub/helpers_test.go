package chathub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"nearme/backend/internal/models"

	"github.com/samber/lo"
	"github.com/stretchr/testify/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClient records every delivered event.
type fakeClient struct {
	connID   string
	identity models.UserIdentity

	mu     sync.Mutex
	events []models.Event
	closed bool

	// onClose, when set, runs after Close, like a transport's close path.
	onClose func()
}

func newFakeClient(connID, userID string, tier models.AccountTier) *fakeClient {
	return &fakeClient{
		connID:   connID,
		identity: models.UserIdentity{ID: userID, Username: "name-" + userID, AccountTier: tier},
	}
}

func (c *fakeClient) GetConnID() string                { return c.connID }
func (c *fakeClient) GetUserID() string                { return c.identity.ID }
func (c *fakeClient) GetIdentity() models.UserIdentity { return c.identity }

func (c *fakeClient) Deliver(ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if c.onClose != nil {
		c.onClose()
	}
}

func (c *fakeClient) Events() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Event(nil), c.events...)
}

func (c *fakeClient) Named(name string) []models.Event {
	return lo.Filter(c.Events(), func(ev models.Event, _ int) bool { return ev.Name == name })
}

func (c *fakeClient) Names() []string {
	return lo.Map(c.Events(), func(ev models.Event, _ int) string { return ev.Name })
}

func (c *fakeClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// MockStore is a testify mock of Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) UserExists(ctx context.Context, userID string) (bool, error) {
	args := m.Called(userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) CountRecentMessages(ctx context.Context, userID string, since time.Time) (int64, error) {
	args := m.Called(userID, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStore) UpdateLastActive(ctx context.Context, userID string, at time.Time) error {
	args := m.Called(userID, at)
	return args.Error(0)
}

func (m *MockStore) UpdateLocation(ctx context.Context, userID string, lat, lng float64) error {
	args := m.Called(userID, lat, lng)
	return args.Error(0)
}

// memStore is an in-memory Store for window and concurrency tests.
type memStore struct {
	mu         sync.Mutex
	users      map[string]bool
	messages   []models.Message
	lastActive map[string]time.Time
	saveDelay  time.Duration
	nextID     int

	// Optional hooks run before the call touches state; tests use them to stall.
	beforeSave       func(msg *models.Message)
	beforeLastActive func(userID string)
}

func newMemStore(users ...string) *memStore {
	s := &memStore{users: make(map[string]bool), lastActive: make(map[string]time.Time)}
	for _, u := range users {
		s.users[u] = true
	}
	return s
}

func (s *memStore) UserExists(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID], nil
}

func (s *memStore) CountRecentMessages(ctx context.Context, userID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(lo.CountBy(s.messages, func(m models.Message) bool {
		return m.SenderID == userID && m.CreatedAt.After(since)
	})), nil
}

func (s *memStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if s.saveDelay > 0 {
		time.Sleep(s.saveDelay)
	}
	if s.beforeSave != nil {
		s.beforeSave(msg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("m%d", s.nextID)
	}
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *memStore) UpdateLastActive(ctx context.Context, userID string, at time.Time) error {
	if s.beforeLastActive != nil {
		s.beforeLastActive(userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive[userID] = at
	return nil
}

func (s *memStore) UpdateLocation(ctx context.Context, userID string, lat, lng float64) error {
	return nil
}

func (s *memStore) LastActive(userID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastActive[userID]
	return at, ok
}

func (s *memStore) Saved() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...)
}

func ptr(s string) *string { return &s }
