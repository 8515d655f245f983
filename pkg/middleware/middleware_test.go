package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"private-chat/backend/internal/models"
	apperrors "private-chat/backend/pkg/errors"
	"private-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type staticSessions map[string]models.Participant

func (s staticSessions) CurrentParticipant(_ context.Context, token string) (*models.Participant, error) {
	p, ok := s[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &p, nil
}

func TestJWTAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	r.GET("/me", JWTAuthMiddleware(staticSessions{"good": {ID: "1", DisplayName: "Ann"}}, logger.Discard()), func(c *gin.Context) {
		p, ok := CurrentParticipant(c)
		assert.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": p.ID, "userID": c.GetString("userID")})
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRateLimiterReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(logger.Discard(), RateLimiterOptions{
		Limit:          0.001,
		Burst:          2,
		ExpiryDuration: time.Hour,
	})

	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	r.Use(limiter.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		ctx := WithRequestContext(context.Background(), c)
		c.String(http.StatusOK, GetRequestID(ctx))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Body.String())
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get("X-Request-ID"))
}

func TestWithRequestContextCarriesUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.Set("userID", "42")
		ctx := WithRequestContext(context.Background(), c)
		c.String(http.StatusOK, GetUserID(ctx))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "42", w.Body.String())
	assert.Empty(t, GetUserID(context.Background()))
}
