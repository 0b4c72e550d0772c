package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/logger"
	"github.com/timmy/nutrilens/internal/nutrition"
	"github.com/timmy/nutrilens/internal/repository"
	"github.com/timmy/nutrilens/internal/stage"
)

var (
	// ErrJobNotFound is returned for unknown jobs and jobs owned by someone else.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidState is returned when an operation does not apply to the job's status.
	ErrInvalidState = errors.New("job is not in a state that accepts this operation")
	// ErrInvalidRequest wraps input validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrJobBusy is returned by Advance when another run holds the job's claim.
	ErrJobBusy = errors.New("job is being advanced elsewhere")
)

// JobStore persists jobs. Update is a compare-and-set on status and revision
// and returns repository.ErrConflict when the stored row moved on.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	GetForUser(ctx context.Context, id, userID string) (*domain.Job, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Job, int64, error)
	ListRunnable(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Job, error)
	Update(ctx context.Context, job *domain.Job, expected domain.JobStatus) error
}

type Recognizer interface {
	Recognize(ctx context.Context, in stage.RecognitionInput) (*stage.RecognitionOutput, error)
}

type PortionEstimator interface {
	Estimate(ctx context.Context, in stage.PortionInput) (*stage.PortionOutput, error)
}

type Advisor interface {
	Advise(ctx context.Context, meal stage.MealContext) (*domain.Advisory, error)
}

type Optimizer interface {
	Optimize(ctx context.Context, meal stage.MealContext) (*domain.OptimizedMeal, error)
}

type MediaGenerator interface {
	Generate(ctx context.Context, jobID string, opt *domain.OptimizedMeal) *domain.GeneratedImage
}

// LookupProvider builds the food lookup for a set of portion item names.
type LookupProvider interface {
	LookupFor(ctx context.Context, names []string) nutrition.Lookup
}

// Stages are the adapters a job runs through. Recognizer and Portions are
// required; a nil best-effort stage yields an unavailable output.
type Stages struct {
	Recognizer Recognizer
	Portions   PortionEstimator
	Advisor    Advisor
	Optimizer  Optimizer
	Media      MediaGenerator
}

// JobServiceConfig tunes the orchestrator.
type JobServiceConfig struct {
	Workers                int
	QueueSize              int
	PortionMode            domain.PortionMode
	MaxQuestions           int
	MaxClarificationRounds int
	ConcurrentAdvice       bool
	SweepInterval          time.Duration
	StaleAfter             time.Duration
	// ClaimTTL must outlast the slowest stage call, retries included.
	ClaimTTL   time.Duration
	Aggregator nutrition.Aggregator
}

func (c *JobServiceConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if !c.PortionMode.Valid() {
		c.PortionMode = domain.PortionModeInteractive
	}
	if c.MaxQuestions <= 0 {
		c.MaxQuestions = 4
	}
	if c.MaxClarificationRounds < 0 {
		c.MaxClarificationRounds = 0
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 5 * time.Minute
	}
	if c.Aggregator.UnresolvedDowngradeRatio <= 0 {
		c.Aggregator.UnresolvedDowngradeRatio = nutrition.DefaultUnresolvedDowngradeRatio
	}
}

// JobService owns the job lifecycle: creation, stage sequencing, the
// clarification cycle and background dispatch.
type JobService struct {
	store   JobStore
	stages  Stages
	foods   LookupProvider
	cfg     JobServiceConfig
	logger  *logger.Logger
	metrics *jobMetrics

	flight singleflight.Group
	queue  chan string

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewJobService creates a JobService. foods may be nil, in which case every
// item falls back to the generic density.
func NewJobService(store JobStore, stages Stages, foods LookupProvider, cfg JobServiceConfig, log *logger.Logger) *JobService {
	cfg.applyDefaults()
	if log == nil {
		log = logger.GetDefault()
	}
	return &JobService{
		store:   store,
		stages:  stages,
		foods:   foods,
		cfg:     cfg,
		logger:  log.WithField(logger.FieldComponent, "jobs"),
		metrics: newJobMetrics(),
		queue:   make(chan string, cfg.QueueSize),
	}
}

// log returns a logger from context if available, otherwise the service logger
func (s *JobService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil && l != logger.GetDefault() {
		return l
	}
	return s.logger
}

// CreateJobRequest is the input of CreateJob.
type CreateJobRequest struct {
	UserID       string              `json:"-"`
	ImageRef     string              `json:"image_ref"`
	MealCategory domain.MealCategory `json:"meal_category"`
	AnalysisMode domain.AnalysisMode `json:"analysis_mode,omitempty"`
	PortionMode  domain.PortionMode  `json:"portion_mode,omitempty"`
	Profile      domain.Profile      `json:"profile"`
}

func (r *CreateJobRequest) validate() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.ImageRef) == "":
		return fmt.Errorf("%w: image_ref is required", ErrInvalidRequest)
	case !r.MealCategory.Valid():
		return fmt.Errorf("%w: meal_category must be dish, dessert or beverage", ErrInvalidRequest)
	case r.AnalysisMode != "" && !r.AnalysisMode.Valid():
		return fmt.Errorf("%w: analysis_mode must be simple or full", ErrInvalidRequest)
	case r.PortionMode != "" && !r.PortionMode.Valid():
		return fmt.Errorf("%w: portion_mode must be interactive or autonomous", ErrInvalidRequest)
	}
	return nil
}

// CreateJob persists a pending job and queues it for processing.
func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (*domain.Job, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	mode := req.AnalysisMode
	if mode == "" {
		mode = domain.AnalysisModeSimple
	}
	portionMode := req.PortionMode
	if portionMode == "" {
		portionMode = s.cfg.PortionMode
	}

	job := domain.NewJob(uuid.NewString(), req.UserID, strings.TrimSpace(req.ImageRef),
		req.MealCategory, mode, portionMode, req.Profile)
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.metrics.created(ctx, job)
	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID:  job.ID,
		logger.FieldUserID: job.UserID,
		"meal_category":    job.MealCategory,
		"analysis_mode":    job.AnalysisMode,
	}).Info("Job created")

	s.enqueue(ctx, job.ID)
	return job, nil
}

// GetJob returns the job if userID owns it.
func (s *JobService) GetJob(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	job, err := s.store.GetForUser(ctx, jobID, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return job, nil
}

// ListJobs returns a page of the user's jobs, newest first.
func (s *JobService) ListJobs(ctx context.Context, userID string, limit, offset int) ([]domain.Job, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByUser(ctx, userID, limit, offset)
}

// SubmitAnswers records the user's clarification answers and resumes portion
// estimation. It fails with ErrInvalidState, leaving the job untouched,
// unless the job is waiting for answers.
func (s *JobService) SubmitAnswers(ctx context.Context, userID, jobID string, answers map[string]string) (*domain.Job, error) {
	job, err := s.store.GetForUser(ctx, jobID, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	if job.Status != domain.JobStatusWaitingUser {
		return nil, fmt.Errorf("%w: job is %s", ErrInvalidState, job.Status)
	}
	if err := validateAnswers(job.PendingQuestions, answers); err != nil {
		return nil, err
	}

	next := job.Clone()
	merged := next.UserAnswers.Data()
	for id, answer := range answers {
		merged[id] = strings.TrimSpace(answer)
	}
	next.UserAnswers = datatypes.NewJSONType(merged)
	next.AnsweredQuestions = append(next.AnsweredQuestions, job.PendingQuestions...)
	next.PendingQuestions = nil
	next.ClarificationRounds++
	next.SetStatus(domain.JobStatusEstimatingPortions)

	if err := s.store.Update(ctx, next, domain.JobStatusWaitingUser); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: answers were already submitted", ErrInvalidState)
		}
		return nil, fmt.Errorf("failed to store answers: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: next.ID,
		logger.FieldCount: len(answers),
	}).Info("Clarification answers accepted")

	s.enqueue(ctx, next.ID)
	return next, nil
}

func validateAnswers(questions []domain.Question, answers map[string]string) error {
	if len(answers) == 0 {
		return fmt.Errorf("%w: answers are required", ErrInvalidRequest)
	}
	byID := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	for id, answer := range answers {
		q, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: unknown question %q", ErrInvalidRequest, id)
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return fmt.Errorf("%w: empty answer for %q", ErrInvalidRequest, id)
		}
		if len(q.Options) > 0 && !containsFold(q.Options, answer) {
			return fmt.Errorf("%w: %q is not an option of %q", ErrInvalidRequest, answer, id)
		}
	}
	return nil
}

func containsFold(options []string, s string) bool {
	for _, o := range options {
		if strings.EqualFold(strings.TrimSpace(o), s) {
			return true
		}
	}
	return false
}

func storeErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrJobNotFound
	}
	return err
}
