package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"cabm-chat/backend/internal/api"
	"cabm-chat/backend/internal/ws"
	"cabm-chat/backend/pkg/di"
	"cabm-chat/backend/pkg/errors"
	"cabm-chat/backend/pkg/health"
	"cabm-chat/backend/pkg/logger"
	"cabm-chat/backend/pkg/middleware"
	"cabm-chat/backend/pkg/validator"
)

// Router assembles the HTTP surface on top of the container.
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Health    *health.Checker
}

// New creates the router with the shared middleware chain installed.
func New(container *di.Container, checker *health.Checker) *Router {
	logger.SetGlobal(container.Logger)

	if container.Config.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(middleware.RequestID())
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware())

	limits := middleware.DefaultRateLimiterOptions()
	limits.Limit = rate.Limit(container.Config.Security.RateLimit)
	limits.Burst = container.Config.Security.RateLimitBurst
	rateLimiter := middleware.NewRateLimiter(container.Logger, limits)
	engine.Use(rateLimiter.Middleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Health:    checker,
	}
}

// SetupRoutes registers all application routes. schemaPath optionally
// points at an OpenAPI document used to validate incoming requests.
func (r *Router) SetupRoutes(schemaPath string) error {
	c := r.Container

	if schemaPath != "" {
		v, err := validator.NewOpenAPIValidator(schemaPath)
		if err != nil {
			return err
		}
		r.Engine.Use(v.Middleware())
	}

	chatHandler := api.NewChatHandler(c.Orchestrator, c.Sessions, c.Characters, r.Logger)
	characterHandler := api.NewCharacterHandler(c.Characters, c.Memory, r.Logger)
	speechHandler := api.NewSpeechHandler(c.Speech, c.Characters, r.Logger)
	imageHandler := api.NewImageHandler(c.Images, c.Characters, r.Logger)
	sessionHandler := api.NewSessionHandler(c.JWTService, c.Sessions, c.Characters, r.Logger)
	wsHandler := ws.NewHandler(c.Orchestrator, c.Sessions, r.Logger)

	root := r.Engine.Group("/api")
	root.Use(api.SessionMiddleware(c.JWTService))
	{
		root.POST("/chat", chatHandler.Chat)
		root.POST("/chat/stream", chatHandler.Stream)
		root.POST("/clear", chatHandler.Clear)

		root.GET("/characters", characterHandler.List)
		root.POST("/characters/:id", characterHandler.Select)
		root.GET("/characters/:id/images", characterHandler.Images)

		root.POST("/tts", speechHandler.Synthesize)
		root.POST("/mic", speechHandler.Transcribe)
		root.POST("/background", imageHandler.Background)

		root.POST("/session", sessionHandler.Create)
	}

	r.Engine.GET("/api/v1/health", r.Health.Handler())
	r.Engine.GET("/ws", wsHandler.Serve)
	return nil
}

// corsMiddleware opens the API to the local frontend; the server runs
// next to a desktop client, not on the public internet.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, Cache-Control, Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
