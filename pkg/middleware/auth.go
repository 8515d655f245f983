package middleware

import (
	"context"
	"strings"

	"private-chat/backend/internal/models"
	"private-chat/backend/pkg/errors"
	"private-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// SessionResolver turns a bearer token into the participant it belongs to
type SessionResolver interface {
	CurrentParticipant(ctx context.Context, token string) (*models.Participant, error)
}

// JWTAuthMiddleware requires a valid session token and stores the
// participant in the request context
func JWTAuthMiddleware(sessions SessionResolver, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authorization header is required"))
			c.Abort()
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		participant, err := sessions.CurrentParticipant(c.Request.Context(), token)
		if err != nil {
			logger.Warn("Invalid session token", "error", err.Error())
			c.Error(errors.NewUnauthorizedError("INVALID_TOKEN", "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set("participant", participant)
		c.Set("userID", participant.ID)
		c.Next()
	}
}

// CurrentParticipant returns the participant set by JWTAuthMiddleware
func CurrentParticipant(c *gin.Context) (*models.Participant, bool) {
	v, ok := c.Get("participant")
	if !ok {
		return nil, false
	}
	p, ok := v.(*models.Participant)
	return p, ok
}
