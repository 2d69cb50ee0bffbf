package chathub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nearme/backend/internal/config"
	"nearme/backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketClient implements Client over a gorilla websocket.
//
// Inbound frames are split over two bounded lanes: message:send goes to the
// send lane, everything else to the control lane. Each lane has its own
// worker, so a slow store write never holds up join, typing or location
// events of the same connection, while sends keep their order. A full lane
// rejects the new event with queue_full.
type WebSocketClient struct {
	connID   string
	identity models.UserIdentity
	Conn     *websocket.Conn
	Hub      *ManagerService
	Send     chan models.Event

	sendLane    chan models.Envelope
	controlLane chan models.Envelope

	state     atomic.Int32
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
	// ctx outlives the socket so an in-flight send finishes after disconnect.
	ctx context.Context
}

// NewWebSocketClient wraps an upgraded connection of an authenticated user.
func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, identity models.UserIdentity, inboundSize, outboundSize int, log *slog.Logger) *WebSocketClient {
	c := &WebSocketClient{
		connID:      uuid.New().String(),
		identity:    identity,
		Conn:        conn,
		Hub:         hub,
		Send:        make(chan models.Event, outboundSize),
		sendLane:    make(chan models.Envelope, inboundSize),
		controlLane: make(chan models.Envelope, inboundSize),
		done:        make(chan struct{}),
		log:         log.With("user", identity.ID),
		ctx:         context.Background(),
	}
	c.state.Store(int32(StateAuthenticated))
	return c
}

func (c *WebSocketClient) GetConnID() string                { return c.connID }
func (c *WebSocketClient) GetUserID() string                { return c.identity.ID }
func (c *WebSocketClient) GetIdentity() models.UserIdentity { return c.identity }
func (c *WebSocketClient) State() ConnState                 { return ConnState(c.state.Load()) }

// Deliver queues ev for the write pump without blocking.
func (c *WebSocketClient) Deliver(ev models.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.Send <- ev:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close closes the Send channel, which stops the write pump and with it the
// socket; the read pump then runs the detach path.
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Run attaches the client to the hub and blocks in the read pump until the
// connection ends.
func (c *WebSocketClient) Run() {
	c.Hub.Attach(c.ctx, c)
	c.state.Store(int32(StateActive))

	go c.writePump()
	go c.worker(c.sendLane)
	go c.worker(c.controlLane)
	c.readPump()
}

// shutdown moves the client to Closed exactly once. Queued events that have
// not started are dropped.
func (c *WebSocketClient) shutdown() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		c.Hub.Detach(c.ctx, c)
		c.Close()
	})
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.shutdown()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(config.MaxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read failed", "conn", c.connID, "err", err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.log.Debug("undecodable frame", "conn", c.connID, "err", err)
			_ = c.Deliver(errorEvent(CodeBadRequest, "frame is not a JSON event"))
			continue
		}
		c.enqueue(env)
	}
}

func (c *WebSocketClient) enqueue(env models.Envelope) {
	lane := c.controlLane
	if env.Event == models.EventMessageSend {
		lane = c.sendLane
	}
	select {
	case lane <- env:
	default:
		c.log.Warn("inbound lane full, event rejected", "conn", c.connID, "event", env.Event)
		_ = c.Deliver(errorEvent(CodeQueueFull, "too many pending events, slow down"))
	}
}

func (c *WebSocketClient) worker(lane <-chan models.Envelope) {
	for {
		// Closed wins over pending work.
		select {
		case <-c.done:
			return
		default:
		}

		select {
		case <-c.done:
			return
		case env := <-lane:
			if c.State() != StateActive {
				return
			}
			c.Hub.Handle(c.ctx, c, env)
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteJSON(ev); err != nil {
				c.log.Debug("websocket write failed", "conn", c.connID, "err", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
