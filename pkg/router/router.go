package router

import (
	"net/http"
	"strings"

	"private-chat/backend/internal/api"
	"private-chat/backend/internal/relay"
	"private-chat/backend/pkg/config"
	"private-chat/backend/pkg/di"
	"private-chat/backend/pkg/errors"
	"private-chat/backend/pkg/logger"
	"private-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)
	cfg := container.Config

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Request IDs first so the logger and error handler can see them
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))

	opts := middleware.DefaultRateLimiterOptions()
	opts.Limit = rate.Limit(cfg.Security.RateLimit)
	opts.Burst = cfg.Security.RateLimitBurst
	engine.Use(middleware.NewRateLimiter(container.Logger, opts).Middleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	if path := r.Config.Observability.OpenAPISchemaPath; path != "" {
		r.AddOpenAPIValidation(path)
	}

	jwtAuth := middleware.JWTAuthMiddleware(r.Container.Gate, r.Logger)

	authHandler := api.NewAuthHandler(r.Container.Gate, r.Logger)
	messageHandler := api.NewMessageHandler(r.Container.Pipeline, r.Container.Registry, r.Logger)

	v1 := r.Engine.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/signup", authHandler.Signup)
			authRoutes.POST("/signin", authHandler.Signin)
			authRoutes.GET("/me", jwtAuth, authHandler.Me)
		}

		protected := v1.Group("/")
		protected.Use(jwtAuth)
		{
			protected.PUT("/profile", authHandler.UpdateProfile)
			protected.GET("/messages", messageHandler.List)
			protected.POST("/messages", messageHandler.Submit)
			protected.GET("/presence", messageHandler.Presence)
		}
	}

	r.Engine.GET("/ws", relay.ServeWs(r.Container.Hub, r.Container.Gate, r.Config.Security.AllowedOrigins))
	r.Engine.GET("/health", r.Container.Health.Handler())
	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// corsMiddleware allows the configured origins and the headers the
// websocket handshake needs
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		origins[strings.TrimSuffix(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case allowAll && origin == "":
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case allowAll || origins[strings.TrimSuffix(origin, "/")]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
