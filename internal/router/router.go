package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/handler"
	"github.com/stemsi/exstem-assess/internal/middleware"
	"github.com/stemsi/exstem-assess/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Assessment *handler.AssessmentHandler
	WS         *handler.WSHandler
	System     *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// runLimiter guards the judge-backed run and submit routes.
func SetupRouter(handlers *Handlers, cfg *config.Config, runLimiter *middleware.RateLimiter) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Prometheus scrapes uncompressed text.
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:   middleware.DefaultBrotliConfig.Quality,
		MinLength: middleware.DefaultBrotliConfig.MinLength,
		SkipPaths: []string{"/metrics"},
	}))

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ─── 1. Assessment Group (addressed by unique link id) ─────────────
	assessment := router.Group("/api/v1/assessments/:link_id")
	assessment.Use(middleware.NoStore())
	{
		assessment.GET("", handlers.Assessment.GetAssessment)
		assessment.GET("/timer", handlers.Assessment.GetTimer)
		assessment.POST("/start", handlers.Assessment.StartAssessment)
		assessment.POST("/reset", handlers.Assessment.ResetAssessment)

		assessment.POST("/questions/:index/select", handlers.Assessment.SelectQuestion)
		assessment.POST("/skip", handlers.Assessment.SkipQuestion)
		assessment.PUT("/code", handlers.Assessment.UpdateCode)
		assessment.PUT("/language", handlers.Assessment.ChangeLanguage)

		limit := runLimiter.Middleware(middleware.ByParamAndIP("link_id"))
		assessment.POST("/run", limit, handlers.Assessment.RunCode)
		assessment.POST("/submit", limit, handlers.Assessment.SubmitCode)

		assessment.POST("/violations", handlers.Assessment.ReportViolation)
		assessment.POST("/keys", handlers.Assessment.HandleKey)
		assessment.POST("/dismiss", handlers.Assessment.DismissWarning)
	}

	// The language list rarely changes, let clients cache it briefly.
	router.GET("/api/v1/assessments/:link_id/languages", middleware.CacheControl(300), handlers.Assessment.GetLanguages)

	// ─── 2. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/assessments/:link_id/stream", handlers.WS.AssessmentStream)
	}

	return router
}
