package api

import (
	"net/http"

	"private-chat/backend/internal/identity"
	"private-chat/backend/internal/models"
	"private-chat/backend/pkg/logger"
	"private-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles signup, signin and profile requests
type AuthHandler struct {
	gate   *identity.Gate
	logger *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(gate *identity.Gate, logger *logger.Logger) *AuthHandler {
	return &AuthHandler{gate: gate, logger: logger}
}

// Signup creates an account for an approved email
func (h *AuthHandler) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Error binding JSON for signup", "error", err.Error())
		badRequest(c, err)
		return
	}

	ctx := middleware.WithRequestContext(c.Request.Context(), c)
	session, err := h.gate.Signup(ctx, req.Email, req.Password, req.DisplayName)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// Signin authenticates an existing account
func (h *AuthHandler) Signin(c *gin.Context) {
	var req models.SigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Error binding JSON for signin", "error", err.Error())
		badRequest(c, err)
		return
	}

	ctx := middleware.WithRequestContext(c.Request.Context(), c)
	session, err := h.gate.Signin(ctx, req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}

	h.logger.Info("User signed in", "userID", session.User.ID)
	c.JSON(http.StatusOK, session)
}

// Me returns the participant behind the current session
func (h *AuthHandler) Me(c *gin.Context) {
	p, ok := middleware.CurrentParticipant(c)
	if !ok {
		fail(c, identity.ErrInvalidCredentials)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UpdateProfile changes the caller's display name and avatar
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	p, ok := middleware.CurrentParticipant(c)
	if !ok {
		fail(c, identity.ErrInvalidCredentials)
		return
	}

	var req models.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := middleware.WithRequestContext(c.Request.Context(), c)
	user, err := h.gate.UpdateProfile(ctx, p.ID, req.DisplayName, req.AvatarRef)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user.Participant())
}
