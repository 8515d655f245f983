package logger

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Middleware returns a Gin middleware function that logs requests
func Middleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetString("requestID")
		if requestID == "" {
			requestID = c.GetHeader("X-Request-ID")
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("requestID", requestID)

		reqLogger := logger.WithRequestID(requestID)
		c.Set("logger", reqLogger)

		start := time.Now()
		c.Next()

		// The auth middleware runs after us, so the user is only known now
		if userID, ok := c.Get("userID"); ok {
			reqLogger = reqLogger.WithUserID(fmt.Sprintf("%v", userID))
		}

		latency := time.Since(start)
		reqLogger.LogRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), latency)

		for _, err := range c.Errors {
			reqLogger.LogError(err.Err, "request error",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
			)
		}
	}
}

// FromContext returns the request-scoped logger, falling back to the global one
func FromContext(c *gin.Context) *Logger {
	if l, ok := c.Get("logger"); ok {
		if logger, ok := l.(*Logger); ok {
			return logger
		}
	}
	return GetGlobal()
}
