package api

import (
	"github.com/gin-gonic/gin"

	"github.com/timmy/nutrilens/internal/api/handler"
	"github.com/timmy/nutrilens/internal/api/middleware"
	"github.com/timmy/nutrilens/internal/logger"
)

// RouterConfig carries everything SetupRouter wires.
type RouterConfig struct {
	Mode       string
	CORS       middleware.CORSConfig
	AdminToken string
	Logger     *logger.Logger

	Jobs    handler.JobService
	Resumer handler.JobResumer
	Catalog handler.CatalogReloader
	// Indexer is nil when semantic food matching is disabled.
	Indexer handler.FoodIndexer
	DB      handler.Pinger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg RouterConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(cfg.DB)
	jobHandler := handler.NewJobHandler(cfg.Jobs)
	adminHandler := handler.NewAdminHandler(cfg.Resumer, cfg.Catalog, cfg.Indexer, cfg.Logger)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs", middleware.RequireUser())
		jobs.POST("", jobHandler.CreateJob)
		jobs.GET("", jobHandler.ListJobs)
		jobs.GET("/:id", jobHandler.GetJob)
		jobs.POST("/:id/answers", jobHandler.SubmitAnswers)

		admin := v1.Group("/admin", middleware.RequireAdminToken(cfg.AdminToken))
		admin.POST("/jobs/resume", adminHandler.ResumeJobs)
		admin.POST("/foods/reload", adminHandler.ReloadFoods)
		admin.POST("/foods/index", adminHandler.IndexFoods)
		admin.GET("/foods/index/status", adminHandler.IndexStatus)
	}

	return r
}
