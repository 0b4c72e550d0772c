package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/logger"
	"github.com/timmy/nutrilens/internal/nutrition"
	"github.com/timmy/nutrilens/internal/repository"
	"github.com/timmy/nutrilens/internal/stage"
)

// maxRunSteps bounds Run; the longest path through the graph is nine steps
// plus one re-estimation per clarification round.
const maxRunSteps = 32

// Advance runs the stage for the job's current status and stores the
// outputs together with the next status. Stage failures move the job to
// error and are not returned. Calls for a job already advancing in this
// process wait for that call and share its result. A job whose stage is
// running in another process is returned as stored, with ErrJobBusy.
func (s *JobService) Advance(ctx context.Context, jobID string) (*domain.Job, error) {
	v, err, _ := s.flight.Do(jobID, func() (interface{}, error) {
		return s.advance(ctx, jobID)
	})
	job, _ := v.(*domain.Job)
	return job, err
}

// Run advances the job until it finishes or waits for the user.
func (s *JobService) Run(ctx context.Context, jobID string) (*domain.Job, error) {
	var job *domain.Job
	for i := 0; i < maxRunSteps; i++ {
		var err error
		job, err = s.Advance(ctx, jobID)
		if errors.Is(err, ErrJobBusy) {
			return job, nil
		}
		if err != nil {
			return job, err
		}
		if !job.Status.Runnable() {
			return job, nil
		}
	}
	return job, fmt.Errorf("job %s did not settle after %d steps", jobID, maxRunSteps)
}

func (s *JobService) advance(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !job.Status.Runnable() {
		return job, nil
	}

	from := job.Status
	ctx = logger.SetStage(logger.SetJobID(ctx, job.ID), string(from))
	ctx, span := s.metrics.tracer.Start(ctx, "job.advance", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.status", string(from)),
	))
	defer span.End()

	if callsStage(from) {
		claimed, err := s.claim(ctx, job)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return claimed, err
		}
		job = claimed
	}

	start := time.Now()
	next := job.Clone()
	stepErr := s.safeStep(ctx, next)
	s.metrics.step(ctx, from, time.Since(start))

	if stepErr != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed: the sweeper picks the job up again.
			span.SetStatus(codes.Error, "interrupted")
			s.release(ctx, job)
			return job, ctx.Err()
		}
		next = job.Clone()
		s.fail(ctx, next, stepErr)
		span.RecordError(stepErr)
		span.SetStatus(codes.Error, stepErr.Error())
	} else if err := checkTransition(from, next); err != nil {
		next = job.Clone()
		s.fail(ctx, next, err)
		span.RecordError(err)
	}

	next.ClaimedUntil = nil
	if err := s.store.Update(ctx, next, from); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.log(ctx).Warn("Job changed while advancing, discarding result")
			current, err := s.store.GetByID(ctx, jobID)
			if err != nil {
				return nil, storeErr(err)
			}
			return current, nil
		}
		return nil, fmt.Errorf("failed to store job: %w", err)
	}

	span.SetAttributes(attribute.String("job.next_status", string(next.Status)))
	entry := logger.With(logger.Fields{"from": from}).WithStatus(string(next.Status)).WithDuration(start)
	if next.Status == domain.JobStatusError {
		entry.Warn(ctx, "Job failed: %s: %s", next.ErrorKind, next.ErrorMessage)
	} else {
		entry.Info(ctx, "Job advanced")
	}
	if next.Status.Terminal() {
		s.metrics.finished(ctx, next)
	}
	return next, nil
}

// callsStage reports whether the step for status calls an external stage.
// Those steps run under a claim so that no two processes pay for the same call.
func callsStage(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusPending, domain.JobStatusCalculating:
		return false
	}
	return true
}

// claim reserves the job for this run with a compare-and-set write. It fails
// with ErrJobBusy when another run holds an unexpired claim or wins the write.
func (s *JobService) claim(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	now := time.Now()
	if job.Claimed(now) {
		s.log(ctx).Debug("Job is claimed by another run")
		return job, ErrJobBusy
	}

	claimed := job.Clone()
	until := now.Add(s.cfg.ClaimTTL)
	claimed.ClaimedUntil = &until
	if err := s.store.Update(ctx, claimed, job.Status); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("failed to claim job: %w", err)
		}
		current, err := s.store.GetByID(ctx, job.ID)
		if err != nil {
			return nil, storeErr(err)
		}
		return current, ErrJobBusy
	}
	return claimed, nil
}

// release drops the claim of an interrupted run so the job can be resumed
// before the claim expires.
func (s *JobService) release(ctx context.Context, job *domain.Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	released := job.Clone()
	released.ClaimedUntil = nil
	if err := s.store.Update(ctx, released, job.Status); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to release job claim")
	}
}

// safeStep turns a panic inside a stage into an invariant violation.
func (s *JobService) safeStep(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log(ctx).WithField("stack", string(debug.Stack())).Error("Recovered panic while advancing job")
			err = &stage.Failure{Stage: string(job.Status), Kind: stage.ErrInvariant, Msg: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return s.step(ctx, job)
}

func (s *JobService) fail(ctx context.Context, job *domain.Job, err error) {
	kind := domain.ErrorKindInvariant
	var f *stage.Failure
	if errors.As(err, &f) {
		kind = f.ErrorKind()
	}
	job.Fail(kind, err.Error())
	s.log(ctx).WithError(err).WithField("error_kind", kind).Warn("Stage failed")
}

// checkTransition verifies the edge and the status-dependent invariants of
// the job about to be written.
func checkTransition(from domain.JobStatus, job *domain.Job) error {
	if !domain.CanTransition(from, job.Status) {
		return fmt.Errorf("illegal transition %s -> %s", from, job.Status)
	}
	if (len(job.PendingQuestions) > 0) != (job.Status == domain.JobStatusWaitingUser) {
		return fmt.Errorf("pending questions do not match status %s", job.Status)
	}
	if (job.Nutrition.Data() != nil) != job.Status.HasNutrition() {
		return fmt.Errorf("nutrition presence does not match status %s", job.Status)
	}
	return nil
}

func (s *JobService) step(ctx context.Context, job *domain.Job) error {
	switch job.Status {
	case domain.JobStatusPending:
		job.SetStatus(domain.JobStatusRecognizing)
		return nil
	case domain.JobStatusRecognizing:
		return s.recognize(ctx, job)
	case domain.JobStatusEstimatingPortions:
		return s.estimatePortions(ctx, job)
	case domain.JobStatusCalculating:
		s.calculate(ctx, job)
		return nil
	case domain.JobStatusAdvising:
		return s.advise(ctx, job)
	case domain.JobStatusOptimizing:
		return s.optimize(ctx, job)
	case domain.JobStatusGeneratingImage:
		job.GeneratedImage = datatypes.NewJSONType(s.generateImage(ctx, job))
		job.SetStatus(domain.JobStatusDone)
		return ctx.Err()
	}
	return &stage.Failure{Stage: string(job.Status), Kind: stage.ErrInvariant, Msg: "status is not runnable"}
}

func (s *JobService) recognize(ctx context.Context, job *domain.Job) error {
	out, err := s.stages.Recognizer.Recognize(ctx, stage.RecognitionInput{
		ImageRef: job.ImageRef,
		Category: job.MealCategory,
	})
	if err != nil {
		return err
	}
	if len(out.Items) == 0 {
		return &stage.Failure{
			Stage: stage.NameRecognition,
			Kind:  stage.ErrNotFound,
			Msg:   fmt.Sprintf("no %s items recognized in the photo", job.MealCategory),
		}
	}

	job.RecognizedItems = out.Items
	job.CalorieRiskItems = out.CalorieRiskItems
	job.VisualNotes = out.VisualNotes
	job.SetStatus(domain.JobStatusEstimatingPortions)
	return nil
}

func (s *JobService) estimatePortions(ctx context.Context, job *domain.Job) error {
	allowQuestions := job.PortionMode == domain.PortionModeInteractive &&
		job.ClarificationRounds < s.cfg.MaxClarificationRounds

	in := stage.PortionInput{
		ImageRef:     job.ImageRef,
		Items:        job.RecognizedItems,
		VisualNotes:  job.VisualNotes,
		Profile:      job.Profile.Data(),
		Mode:         job.PortionMode,
		MaxQuestions: s.cfg.MaxQuestions,
	}
	if answers := job.UserAnswers.Data(); len(answers) > 0 {
		in.Questions = job.AnsweredQuestions
		in.Answers = answers
	}

	out, err := s.stages.Portions.Estimate(ctx, in)
	if err != nil {
		return err
	}

	questions := out.Questions
	notes := out.UncertaintyNotes
	if len(questions) > s.cfg.MaxQuestions {
		questions = questions[:s.cfg.MaxQuestions]
	}
	if !allowQuestions {
		for _, q := range questions {
			notes = append(notes, "unanswered: "+q.Prompt)
		}
		questions = nil
	}

	job.Portions = out.Portions
	job.UncertaintyNotes = notes
	if len(questions) > 0 {
		job.PendingQuestions = questions
		job.SetStatus(domain.JobStatusWaitingUser)
		return nil
	}
	job.PendingQuestions = nil
	job.SetStatus(domain.JobStatusCalculating)
	return nil
}

func (s *JobService) calculate(ctx context.Context, job *domain.Job) {
	names := make([]string, len(job.Portions))
	for i, p := range job.Portions {
		names[i] = p.Item
	}

	var lookup nutrition.Lookup = nutrition.Table{}
	if s.foods != nil {
		lookup = s.foods.LookupFor(ctx, names)
	}

	result := s.cfg.Aggregator.Aggregate(job.Portions, lookup)
	job.Nutrition = datatypes.NewJSONType(result)
	job.SetStatus(domain.JobStatusAdvising)
}

func (s *JobService) meal(job *domain.Job) stage.MealContext {
	return stage.MealContext{
		Items:     job.RecognizedItems,
		Nutrition: job.Nutrition.Data(),
		Profile:   job.Profile.Data(),
	}
}

// advise runs Health Advisory, and Meal Optimization alongside it when
// concurrent advice is enabled. Failures of either become unavailable outputs.
func (s *JobService) advise(ctx context.Context, job *domain.Job) error {
	meal := s.meal(job)
	if !s.cfg.ConcurrentAdvice {
		job.Advisory = datatypes.NewJSONType(s.advisory(ctx, meal))
		job.SetStatus(domain.JobStatusOptimizing)
		return ctx.Err()
	}

	var (
		advisory  *domain.Advisory
		optimized *domain.OptimizedMeal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		advisory = s.advisory(gctx, meal)
		return nil
	})
	g.Go(func() error {
		optimized = s.optimization(gctx, meal)
		return nil
	})
	_ = g.Wait()

	job.Advisory = datatypes.NewJSONType(advisory)
	job.OptimizedMeal = datatypes.NewJSONType(optimized)
	s.afterOptimization(job)
	return ctx.Err()
}

func (s *JobService) optimize(ctx context.Context, job *domain.Job) error {
	job.OptimizedMeal = datatypes.NewJSONType(s.optimization(ctx, s.meal(job)))
	s.afterOptimization(job)
	return ctx.Err()
}

// afterOptimization routes full analyses to image generation and closes
// simple ones with a skipped image.
func (s *JobService) afterOptimization(job *domain.Job) {
	if job.AnalysisMode == domain.AnalysisModeFull {
		job.SetStatus(domain.JobStatusGeneratingImage)
		return
	}
	job.GeneratedImage = datatypes.NewJSONType(&domain.GeneratedImage{
		Status: domain.OutputSkipped,
		Reason: "simple analysis",
	})
	job.SetStatus(domain.JobStatusDone)
}

func (s *JobService) advisory(ctx context.Context, meal stage.MealContext) *domain.Advisory {
	if s.stages.Advisor == nil {
		return stage.UnavailableAdvisory("health advisory is not configured")
	}
	adv, err := s.stages.Advisor.Advise(ctx, meal)
	if err != nil {
		s.log(ctx).WithError(err).Warn("Health advisory unavailable")
		return stage.UnavailableAdvisory(err.Error())
	}
	return adv
}

func (s *JobService) optimization(ctx context.Context, meal stage.MealContext) *domain.OptimizedMeal {
	if s.stages.Optimizer == nil {
		return stage.UnavailableOptimization("meal optimization is not configured", meal.Nutrition)
	}
	opt, err := s.stages.Optimizer.Optimize(ctx, meal)
	if err != nil {
		s.log(ctx).WithError(err).Warn("Meal optimization unavailable")
		return stage.UnavailableOptimization(err.Error(), meal.Nutrition)
	}
	return opt
}

func (s *JobService) generateImage(ctx context.Context, job *domain.Job) *domain.GeneratedImage {
	if s.stages.Media == nil {
		return &domain.GeneratedImage{Status: domain.OutputUnavailable, Reason: "media generation is not configured"}
	}
	return s.stages.Media.Generate(ctx, job.ID, job.OptimizedMeal.Data())
}
