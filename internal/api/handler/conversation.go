package handler

import (
	"net/http"
	"strconv"

	"nearme/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// GetPresence reports whether a user currently has a live connection.
func (h *Handler) GetPresence(c *gin.Context) {
	userID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"userId": userID, "online": h.Hub.Registry.IsOnline(userID)})
}

// GetConversation returns the latest messages between the caller and a peer
// and marks the returned ones addressed to the caller as read.
func (h *Handler) GetConversation(c *gin.Context) {
	self := identityFrom(c)
	peerID := c.Param("userId")

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, models.ErrorPayload{Error: "bad_request", Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxPageSize)
	}

	ctx := c.Request.Context()
	history, err := h.Storage.GetConversation(ctx, self.ID, peerID, limit)
	if err != nil {
		h.log.Error("conversation fetch failed", "user", self.ID, "peer", peerID, "err", err)
		c.JSON(http.StatusInternalServerError, models.ErrorPayload{Error: "internal", Message: "failed to load conversation"})
		return
	}

	// Only the returned page counts as read.
	unread := lo.FilterMap(history, func(m models.Message, _ int) (string, bool) {
		return m.ID, m.ReceiverID == self.ID && !m.IsRead
	})
	if _, err := h.Storage.MarkMessagesRead(ctx, self.ID, unread); err != nil {
		h.log.Error("mark read failed", "user", self.ID, "peer", peerID, "err", err)
	} else {
		for i := range history {
			if history[i].ReceiverID == self.ID {
				history[i].IsRead = true
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"messages": history})
}
