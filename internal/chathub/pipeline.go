package chathub

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"nearme/backend/internal/config"
	"nearme/backend/internal/models"
)

// MessageStore is the storage slice the pipeline needs.
type MessageStore interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	CountRecentMessages(ctx context.Context, userID string, since time.Time) (int64, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
}

// SendRequest is one message:send from a connection.
type SendRequest struct {
	Sender     models.UserIdentity
	ReceiverID string
	Content    *string
	ImageURL   *string
	// Origin is the sending connection; it gets the acknowledgment and is
	// skipped by the room fan-out. May be nil.
	Origin Client
}

// Pipeline validates, rate limits, persists and fans out direct messages.
type Pipeline struct {
	store MessageStore
	rooms *RoomRouter
	log   *slog.Logger
	now   func() time.Time

	dailyCap int64
	window   time.Duration
	senders  *keyedMutex
}

func NewPipeline(store MessageStore, rooms *RoomRouter, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		rooms:    rooms,
		log:      log,
		now:      time.Now,
		dailyCap: config.RestrictedDailyCap,
		window:   config.RateLimitWindow,
		senders:  newKeyedMutex(),
	}
}

// Send runs the steps in order and stops at the first failure. The returned
// error is always a *SendError.
//
// For restricted senders the rate check and the write hold a per-sender lock,
// so concurrent sends from one account cannot both slip under the cap. Full
// tier sends take no lock: a stalled write holds up only its own call.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	content := normalize(req.Content)
	imageURL := normalize(req.ImageURL)

	if content == nil && imageURL == nil {
		return nil, sendErr(ErrEmptyPayload, nil)
	}
	if content != nil && utf8.RuneCountInString(*content) > config.MaxContentLength {
		return nil, sendErr(ErrPayloadTooLarge, nil)
	}
	if req.ReceiverID == req.Sender.ID {
		return nil, sendErr(ErrInvalidRecipient, nil)
	}

	exists, err := p.store.UserExists(ctx, req.ReceiverID)
	if err != nil {
		return nil, sendErr(ErrPersistenceFailure, err)
	}
	if !exists {
		return nil, sendErr(ErrUnknownRecipient, nil)
	}

	msg, err := p.persist(ctx, req, content, imageURL)
	if err != nil {
		return nil, err
	}

	p.fanOut(req, msg)
	return msg, nil
}

// persist runs the rate check and the write.
func (p *Pipeline) persist(ctx context.Context, req SendRequest, content, imageURL *string) (*models.Message, error) {
	restricted := req.Sender.Restricted()
	if restricted {
		unlock := p.senders.Lock(req.Sender.ID)
		defer unlock()
	}

	now := p.now()
	if restricted {
		count, err := p.store.CountRecentMessages(ctx, req.Sender.ID, now.Add(-p.window))
		if err != nil {
			return nil, sendErr(ErrPersistenceFailure, err)
		}
		if count >= p.dailyCap {
			return nil, sendErr(ErrRateLimited, nil)
		}
	}

	msg := &models.Message{
		SenderID:   req.Sender.ID,
		ReceiverID: req.ReceiverID,
		Content:    content,
		ImageURL:   imageURL,
		IsRead:     false,
		CreatedAt:  now,
	}
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		p.log.Error("failed to persist message", "sender", req.Sender.ID, "receiver", req.ReceiverID, "err", err)
		return nil, sendErr(ErrPersistenceFailure, err)
	}
	return msg, nil
}

// fanOut runs strictly after the message is stored. Delivery is best effort.
func (p *Pipeline) fanOut(req SendRequest, msg *models.Message) {
	originID := ""
	if req.Origin != nil {
		originID = req.Origin.GetConnID()
		if err := req.Origin.Deliver(models.Event{Name: models.EventMessageSent, Data: msg}); err != nil {
			p.log.Debug("ack not delivered", "conn", originID, "message", msg.ID, "err", err)
		}
	}

	var roomTargets []Client
	for _, c := range p.rooms.Members(RoomIDFor(req.Sender.ID, req.ReceiverID)) {
		if c.GetConnID() != originID {
			roomTargets = append(roomTargets, c)
		}
	}
	p.rooms.deliver(roomTargets, models.Event{Name: models.EventMessageReceived, Data: msg})

	p.rooms.deliver(p.rooms.Members(PersonalRoom(req.ReceiverID)), models.Event{
		Name: models.EventMessageNotification,
		Data: models.NotificationPayload{Message: msg, SenderName: req.Sender.Username},
	})
}

func normalize(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
