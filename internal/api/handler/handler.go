package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"nearme/backend/internal/auth"
	"nearme/backend/internal/chathub"
	"nearme/backend/internal/config"
	"nearme/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// Store is the storage slice the HTTP handlers read.
type Store interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetConversation(ctx context.Context, userA, userB string, limit int) ([]models.Message, error)
	MarkMessagesRead(ctx context.Context, readerID string, messageIDs []string) (int64, error)
}

// Authenticator turns a bearer credential into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (models.UserIdentity, error)
	IssueToken(userID string) (string, error)
}

// Handler holds the dependencies of every route.
type Handler struct {
	Hub     *chathub.ManagerService
	Gate    Authenticator
	Storage Store
	Config  config.Config
	log     *slog.Logger
}

func NewHandler(hub *chathub.ManagerService, gate Authenticator, s Store, cfg config.Config, log *slog.Logger) *Handler {
	return &Handler{Hub: hub, Gate: gate, Storage: s, Config: cfg, log: log}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.Health)
	r.GET("/ws", h.ServeWebSocket)
	if h.Config.DevTokens {
		r.POST("/auth/token", h.IssueToken)
	}

	authed := r.Group("/", h.RequireIdentity)
	authed.GET("/users/:id/presence", h.GetPresence)
	authed.GET("/conversations/:userId", h.GetConversation)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.Hub.ActiveConnections()})
}

const identityKey = "identity"

// RequireIdentity authenticates REST calls with the same gate as the socket handshake.
func (h *Handler) RequireIdentity(c *gin.Context) {
	identity, err := h.Gate.Authenticate(c.Request.Context(), auth.BearerToken(c.Request))
	if err != nil {
		abortAuth(c, err)
		return
	}
	c.Set(identityKey, identity)
	c.Next()
}

func identityFrom(c *gin.Context) models.UserIdentity {
	return c.MustGet(identityKey).(models.UserIdentity)
}

func abortAuth(c *gin.Context, err error) {
	code := "invalid_credential"
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		code = "missing_credential"
	case errors.Is(err, auth.ErrUnknownUser):
		code = "unknown_user"
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorPayload{Error: code, Message: "authentication failed"})
}
