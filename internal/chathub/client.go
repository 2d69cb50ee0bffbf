package chathub

import (
	"errors"

	"nearme/backend/internal/models"
)

var (
	// ErrClientClosed is returned by Deliver after the connection was closed.
	ErrClientClosed = errors.New("client closed")
	// ErrSlowConsumer is returned by Deliver when the outbound queue is full.
	ErrSlowConsumer = errors.New("outbound queue full")
)

// Client is one live connection of a user. The hub only talks to
// connections through this interface so transports stay swappable.
type Client interface {
	// GetConnID returns the unique identifier of this connection.
	GetConnID() string
	// GetUserID returns the id of the authenticated user owning the connection.
	GetUserID() string
	// GetIdentity returns the identity snapshot taken at handshake.
	GetIdentity() models.UserIdentity

	// Deliver queues ev for writing without blocking. It fails with
	// ErrClientClosed or ErrSlowConsumer; callers log and move on.
	Deliver(ev models.Event) error

	// Close shuts the connection down. Safe to call more than once.
	Close()
}

func errorEvent(code, message string) models.Event {
	return models.Event{
		Name: models.EventMessageError,
		Data: models.ErrorPayload{Error: code, Message: message},
	}
}
