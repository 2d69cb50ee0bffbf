package models

import "encoding/json"

// Inbound event names (client -> server).
const (
	EventChatJoin       = "chat:join"
	EventChatLeave      = "chat:leave"
	EventMessageSend    = "message:send"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventLocationUpdate = "location:update"
)

// Outbound event names (server -> client).
const (
	EventMessageSent         = "message:sent"
	EventMessageReceived     = "message:received"
	EventMessageNotification = "message:notification"
	EventMessageError        = "message:error"
	EventUserOnline          = "user:online"
	EventUserOffline         = "user:offline"
	EventUserLocation        = "user:location"
)

// Envelope is the frame read from a client.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is a frame written to a client.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Peer ids never contain ':', the separator of pair room ids.
type PeerPayload struct {
	UserID string `json:"userId" validate:"required,max=64,excludes=:"`
}

type SendPayload struct {
	ReceiverID string  `json:"receiverId" validate:"required,max=64,excludes=:"`
	Content    *string `json:"content,omitempty"`
	ImageURL   *string `json:"imageUrl,omitempty"`
}

type LocationPayload struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lng *float64 `json:"lng" validate:"required,longitude"`
}

type NotificationPayload struct {
	Message    *Message `json:"message"`
	SenderName string   `json:"senderName"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
}

type UserLocationPayload struct {
	UserID string  `json:"userId"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
