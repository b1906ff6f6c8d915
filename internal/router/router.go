package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/handler"
	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/response"
	"github.com/stemsi/exstem-runtime/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	Health  *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	limiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so every log line and response carries it.
	router.Use(response.RequestIDMiddleware())
	router.Use(response.RequestLogger(log))

	// Health check.
	router.GET("/health", handlers.Health.Health)

	// ─── 1. Candidate Attempt Group (JWT + no-store) ───────────────────
	attempts := router.Group("/api/v1/attempts")
	attempts.Use(
		middleware.RequireCandidate(authService),
		middleware.NoStore(),
	)
	{
		attempts.GET("/:session_id", handlers.Attempt.GetStatus)
		attempts.GET("/:session_id/paper", middleware.Compress(middleware.DefaultCompressConfig), handlers.Attempt.GetPaper)

		// Mutations are rate limited per candidate.
		mutating := attempts.Group("")
		mutating.Use(limiter.Middleware())
		{
			mutating.POST("", handlers.Attempt.StartAttempt)
			mutating.DELETE("/:session_id", handlers.Attempt.AbandonAttempt)
			mutating.POST("/:session_id/resume", handlers.Attempt.ResumeAttempt)
			mutating.PUT("/:session_id/answers", handlers.Attempt.RecordAnswer)
			mutating.PUT("/:session_id/position", handlers.Attempt.Navigate)
			mutating.POST("/:session_id/flags", handlers.Attempt.ToggleFlag)
			mutating.PUT("/:session_id/connectivity", handlers.Attempt.ReportConnectivity)
			mutating.POST("/:session_id/submit", handlers.Attempt.Submit)
			mutating.POST("/:session_id/submit/retry", handlers.Attempt.RetrySubmit)
		}
	}

	// ─── 2. WebSocket Group (token query auth) ─────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireCandidate(authService))
	{
		ws.GET("/attempts/:session_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
