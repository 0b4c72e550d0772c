package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/nutrilens/internal/api/middleware"
	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/logger"
	"github.com/timmy/nutrilens/internal/service"
)

// JobService is the part of service.JobService the handlers use.
type JobService interface {
	CreateJob(ctx context.Context, req service.CreateJobRequest) (*domain.Job, error)
	GetJob(ctx context.Context, userID, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, userID string, limit, offset int) ([]domain.Job, int64, error)
	SubmitAnswers(ctx context.Context, userID, jobID string, answers map[string]string) (*domain.Job, error)
}

// JobHandler handles the job polling endpoints.
type JobHandler struct {
	jobs JobService
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// JobResult groups the outputs of a finished job.
type JobResult struct {
	RecognizedItems  []domain.RecognizedItem `json:"recognized_items"`
	Portions         []domain.Portion        `json:"portions"`
	UncertaintyNotes []string                `json:"uncertainty_notes"`
	Nutrition        *domain.NutritionResult `json:"nutrition"`
	Advisory         *domain.Advisory        `json:"advisory"`
	OptimizedMeal    *domain.OptimizedMeal   `json:"optimized_meal"`
	GeneratedImage   *domain.GeneratedImage  `json:"generated_image"`
}

// JobError describes why a job failed.
type JobError struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// JobResponse is the polling view of a job.
type JobResponse struct {
	ID               string              `json:"id"`
	Status           domain.JobStatus    `json:"status"`
	StageLabel       string              `json:"stage_label"`
	MealCategory     domain.MealCategory `json:"meal_category"`
	AnalysisMode     domain.AnalysisMode `json:"analysis_mode"`
	PortionMode      domain.PortionMode  `json:"portion_mode"`
	PendingQuestions []domain.Question   `json:"pending_questions,omitempty"`
	Result           *JobResult          `json:"result,omitempty"`
	Error            *JobError           `json:"error,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func newJobResponse(job *domain.Job) JobResponse {
	resp := JobResponse{
		ID:           job.ID,
		Status:       job.Status,
		StageLabel:   job.StageLabel,
		MealCategory: job.MealCategory,
		AnalysisMode: job.AnalysisMode,
		PortionMode:  job.PortionMode,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	switch job.Status {
	case domain.JobStatusWaitingUser:
		resp.PendingQuestions = job.PendingQuestions
	case domain.JobStatusDone:
		resp.Result = &JobResult{
			RecognizedItems:  job.RecognizedItems,
			Portions:         job.Portions,
			UncertaintyNotes: job.UncertaintyNotes,
			Nutrition:        job.Nutrition.Data(),
			Advisory:         job.Advisory.Data(),
			OptimizedMeal:    job.OptimizedMeal.Data(),
			GeneratedImage:   job.GeneratedImage.Data(),
		}
	case domain.JobStatusError:
		resp.Error = &JobError{Kind: job.ErrorKind, Message: job.ErrorMessage}
	}
	return resp
}

// CreateJob handles POST /api/v1/jobs.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req service.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	req.UserID = middleware.UserID(c)

	job, err := h.jobs.CreateJob(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/api/v1/jobs/"+job.ID)
	c.JSON(http.StatusAccepted, newJobResponse(job))
}

// GetJob handles GET /api/v1/jobs/:id.
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.GetJob(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job))
}

// ListJobsResponse is one page of a user's history.
type ListJobsResponse struct {
	Jobs   []JobResponse `json:"jobs"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListJobs handles GET /api/v1/jobs.
func (h *JobHandler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	jobs, total, err := h.jobs.ListJobs(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs)), Total: total, Limit: limit, Offset: offset}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// AnswersRequest carries clarification answers keyed by question id.
type AnswersRequest struct {
	Answers map[string]string `json:"answers" binding:"required"`
}

// SubmitAnswers handles POST /api/v1/jobs/:id/answers.
func (h *JobHandler) SubmitAnswers(c *gin.Context) {
	var req AnswersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	job, err := h.jobs.SubmitAnswers(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Answers)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newJobResponse(job))
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		ctx := c.Request.Context()
		logger.CtxError(ctx, "Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Internal server error",
			"request_id": logger.GetRequestID(ctx),
		})
	}
}
