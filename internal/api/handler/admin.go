package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/nutrilens/internal/logger"
	"github.com/timmy/nutrilens/internal/service"
)

// JobResumer reruns jobs left unfinished by a previous process.
type JobResumer interface {
	ResumeInterrupted(ctx context.Context, limit int) (*service.ResumeStats, error)
}

// CatalogReloader refreshes the in-memory food catalog.
type CatalogReloader interface {
	Reload(ctx context.Context) (int, error)
}

// FoodIndexer embeds the catalog into the vector store.
type FoodIndexer interface {
	IndexAll(ctx context.Context) (*service.IndexStats, error)
	Status() *service.IndexStats
}

// AdminHandler handles admin operations.
type AdminHandler struct {
	jobs    JobResumer
	catalog CatalogReloader
	// indexer is nil when semantic matching is off.
	indexer FoodIndexer
	logger  *logger.Logger
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - jobs: job service used to resume interrupted jobs.
//   - catalog: food resolver to reload.
//   - indexer: food vector indexer; may be nil.
//   - log: logger instance.
//
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(jobs JobResumer, catalog CatalogReloader, indexer FoodIndexer, log *logger.Logger) *AdminHandler {
	if log == nil {
		log = logger.GetDefault()
	}
	return &AdminHandler{jobs: jobs, catalog: catalog, indexer: indexer, logger: log}
}

// ResumeRequest limits how many jobs a resume run picks up.
type ResumeRequest struct {
	Limit int `json:"limit" binding:"omitempty,min=1,max=10000"`
}

// ResumeJobs handles POST /api/v1/admin/jobs/resume.
func (h *AdminHandler) ResumeJobs(c *gin.Context) {
	ctx := c.Request.Context()

	var req ResumeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	// Detached from the request so a client timeout does not strand jobs mid-step.
	start := time.Now()
	stats, err := h.jobs.ResumeInterrupted(context.WithoutCancel(ctx), req.Limit)
	if err != nil {
		logger.With(logger.Fields{}).WithDuration(start).Error(ctx, "Resume failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.With(logger.Fields{logger.FieldCount: stats.Found}).WithDuration(start).
		Info(ctx, "Resume completed: done=%d, waiting=%d, failed=%d, errors=%d",
			stats.Done, stats.Waiting, stats.Failed, stats.Errors)
	c.JSON(http.StatusOK, stats)
}

// ReloadFoods handles POST /api/v1/admin/foods/reload.
func (h *AdminHandler) ReloadFoods(c *gin.Context) {
	n, err := h.catalog.Reload(c.Request.Context())
	if err != nil {
		logger.CtxError(c.Request.Context(), "Food catalog reload failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"foods": n})
}

// IndexFoods handles POST /api/v1/admin/foods/index. The run continues in
// the background; poll IndexStatus for progress.
func (h *AdminHandler) IndexFoods(c *gin.Context) {
	if h.indexer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "semantic food matching is disabled"})
		return
	}
	if status := h.indexer.Status(); status != nil && status.Running {
		c.JSON(http.StatusConflict, gin.H{"error": "Indexing is already running"})
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	go func() {
		if _, err := h.indexer.IndexAll(ctx); err != nil && !errors.Is(err, service.ErrIndexRunning) {
			h.logger.WithError(err).Error("Food indexing failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"message": "Indexing started"})
}

// IndexStatus handles GET /api/v1/admin/foods/index/status.
func (h *AdminHandler) IndexStatus(c *gin.Context) {
	if h.indexer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "semantic food matching is disabled"})
		return
	}
	status := h.indexer.Status()
	if status == nil {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}
	c.JSON(http.StatusOK, status)
}
