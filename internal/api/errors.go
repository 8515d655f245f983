package api

import (
	"errors"

	"private-chat/backend/internal/admission"
	"private-chat/backend/internal/identity"
	"private-chat/backend/internal/store"
	apperrors "private-chat/backend/pkg/errors"
	"private-chat/backend/pkg/jwt"
	"private-chat/backend/pkg/resilience"

	"github.com/gin-gonic/gin"
)

// toAppError maps domain errors onto the HTTP error taxonomy
func toAppError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, identity.ErrNotApproved):
		return apperrors.NewForbiddenError("NOT_APPROVED", "This email is not approved for the chat")
	case errors.Is(err, identity.ErrUserAlreadyExists):
		return apperrors.NewConflictError("USER_EXISTS", "A user with this email already exists")
	case errors.Is(err, identity.ErrInvalidCredentials):
		return apperrors.NewUnauthorizedError("INVALID_CREDENTIALS", "Invalid email or password")
	case errors.Is(err, identity.ErrInvalidProfile):
		return apperrors.NewBadRequestError("INVALID_REQUEST", err.Error())
	case errors.Is(err, identity.ErrUserNotFound):
		return apperrors.NewNotFoundError("USER_NOT_FOUND", "User not found")
	case errors.Is(err, jwt.ErrInvalidToken), errors.Is(err, jwt.ErrExpiredToken):
		return apperrors.NewUnauthorizedError("INVALID_TOKEN", "Invalid or expired token")
	case errors.Is(err, admission.ErrInvalidMessage):
		return apperrors.NewBadRequestError("INVALID_MESSAGE", err.Error())
	case errors.Is(err, store.ErrDuplicateMessage):
		return apperrors.NewConflictError("DUPLICATE_MESSAGE", "A message with this id already exists")
	case errors.Is(err, admission.ErrStoreUnavailable), errors.Is(err, resilience.ErrCircuitOpen):
		return apperrors.NewServiceUnavailableError("STORE_UNAVAILABLE", "Message store is temporarily unavailable")
	default:
		return apperrors.FromError(err)
	}
}

// fail records err on c for the error middleware and stops the chain
func fail(c *gin.Context, err error) {
	c.Error(toAppError(err))
	c.Abort()
}

func badRequest(c *gin.Context, err error) {
	c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "Invalid request format").WithDetails(err.Error()))
	c.Abort()
}
