package handler

import (
	"errors"
	"net/http"

	"nearme/backend/internal/models"
	"nearme/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

type tokenRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// IssueToken signs a bearer token for an existing user. It is only mounted
// when DEV_TOKENS is enabled; production tokens come from the login service.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorPayload{Error: "bad_request", Message: err.Error()})
		return
	}

	if _, err := h.Storage.GetUserByID(c.Request.Context(), req.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorPayload{Error: "unknown_user", Message: "user does not exist"})
			return
		}
		h.log.Error("token lookup failed", "user", req.UserID, "err", err)
		c.JSON(http.StatusInternalServerError, models.ErrorPayload{Error: "internal", Message: "failed to create token"})
		return
	}

	token, err := h.Gate.IssueToken(req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorPayload{Error: "internal", Message: "failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "userId": req.UserID})
}
