package api

import (
	"net/http"
	"time"

	"private-chat/backend/internal/admission"
	"private-chat/backend/internal/models"
	"private-chat/backend/internal/presence"
	"private-chat/backend/pkg/logger"
	"private-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// SubmitMessageRequest is the body of POST /api/v1/messages. The author is
// always taken from the session.
type SubmitMessageRequest struct {
	ID        string    `json:"id"`
	Body      string    `json:"body" binding:"required"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageHandler exposes the admission pipeline and presence snapshot
type MessageHandler struct {
	pipeline *admission.Pipeline
	registry *presence.Registry
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(pipeline *admission.Pipeline, registry *presence.Registry, logger *logger.Logger) *MessageHandler {
	return &MessageHandler{pipeline: pipeline, registry: registry, logger: logger}
}

// List returns the retained history, oldest first
func (h *MessageHandler) List(c *gin.Context) {
	messages, err := h.pipeline.History(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Submit stores a message authored by the session participant
func (h *MessageHandler) Submit(c *gin.Context) {
	p, ok := middleware.CurrentParticipant(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	var req SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg := &models.Message{
		ID:           req.ID,
		AuthorID:     p.ID,
		AuthorName:   p.DisplayName,
		AuthorAvatar: p.AvatarRef,
		Body:         req.Body,
		CreatedAt:    req.Timestamp,
	}
	ctx := middleware.WithRequestContext(c.Request.Context(), c)
	if err := h.pipeline.Submit(ctx, msg); err != nil {
		logger.FromContext(c).Warn("Message rejected", "message_id", msg.ID, "error", err.Error())
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// Presence returns the participants currently joined to the relay
func (h *MessageHandler) Presence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"participants": h.registry.List()})
}
