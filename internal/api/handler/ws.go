package handler

import (
	"net/http"
	"strings"

	"nearme/backend/internal/auth"
	"nearme/backend/internal/chathub"
	"nearme/backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBuffer,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin.
		return true
	}
	return lo.ContainsBy(h.Config.AllowedOrigins, func(allowed string) bool {
		return allowed == "*" || strings.EqualFold(allowed, origin)
	})
}

// ServeWebSocket authenticates the handshake and upgrades it. A rejected
// credential never reaches the hub.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	identity, err := h.Gate.Authenticate(c.Request.Context(), auth.BearerToken(c.Request))
	if err != nil {
		h.log.Info("websocket handshake rejected", "remote", c.ClientIP(), "err", err)
		abortAuth(c, err)
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Warn("websocket upgrade failed", "user", identity.ID, "err", err)
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, identity,
		h.Config.InboundQueueSize, h.Config.OutboundQueueSize, h.log)
	client.Run()
}
