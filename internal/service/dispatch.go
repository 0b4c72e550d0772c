package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/logger"
)

// Start launches the dispatch workers and the stale-job sweeper. Jobs left
// runnable by a previous process are queued immediately.
func (s *JobService) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func(workerID int) {
			defer s.wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweep(ctx, time.Time{})
		if s.cfg.SweepInterval <= 0 {
			return
		}
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx, time.Now().Add(-s.cfg.StaleAfter))
			}
		}
	}()

	s.logger.WithField("workers", s.cfg.Workers).Info("Job dispatcher started")
}

// Stop cancels in-flight work and waits for the workers to exit. Interrupted
// jobs keep their status and are resumed by the next Start.
func (s *JobService) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Job dispatcher stopped")
}

func (s *JobService) worker(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-s.queue:
			jctx := logger.WithFields(ctx, logger.Fields{
				logger.FieldJobID: jobID,
				"worker":          workerID,
			})
			if _, err := s.Run(jctx, jobID); err != nil && ctx.Err() == nil {
				s.log(jctx).WithError(err).Error("Job run failed")
			}
		}
	}
}

// enqueue never blocks; a job that does not fit is picked up by the sweeper.
func (s *JobService) enqueue(ctx context.Context, jobID string) {
	select {
	case s.queue <- jobID:
	default:
		s.log(ctx).WithField(logger.FieldJobID, jobID).Warn("Job queue full, deferring to sweeper")
	}
}

func (s *JobService) sweep(ctx context.Context, staleBefore time.Time) {
	jobs, err := s.store.ListRunnable(ctx, staleBefore, s.cfg.QueueSize)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).Error("Failed to list runnable jobs")
		}
		return
	}
	for _, job := range jobs {
		s.enqueue(ctx, job.ID)
	}
	if len(jobs) > 0 {
		s.logger.WithField(logger.FieldCount, len(jobs)).Info("Requeued unfinished jobs")
	}
}

// ResumeStats summarizes a ResumeInterrupted run.
type ResumeStats struct {
	Found   int `json:"found"`
	Done    int `json:"done"`
	Waiting int `json:"waiting"`
	Failed  int `json:"failed"`
	// Busy counts jobs another process claimed before this run reached them.
	Busy   int `json:"busy"`
	Errors int `json:"errors"`
}

// ResumeInterrupted runs every runnable, unclaimed job to completion in the
// calling goroutine's lifetime, with at most Workers jobs at a time. Jobs a
// live process is advancing are claimed and therefore skipped.
func (s *JobService) ResumeInterrupted(ctx context.Context, limit int) (*ResumeStats, error) {
	jobs, err := s.store.ListRunnable(ctx, time.Time{}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runnable jobs: %w", err)
	}

	stats := &ResumeStats{Found: len(jobs)}
	results := make([]*domain.Job, len(jobs))
	errs := make([]error, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := range jobs {
		g.Go(func() error {
			results[i], errs[i] = s.Run(gctx, jobs[i].ID)
			return nil
		})
	}
	_ = g.Wait()

	for i := range jobs {
		switch {
		case errs[i] != nil:
			stats.Errors++
		case results[i].Status == domain.JobStatusDone:
			stats.Done++
		case results[i].Status == domain.JobStatusWaitingUser:
			stats.Waiting++
		case results[i].Status == domain.JobStatusError:
			stats.Failed++
		case results[i].Status.Runnable():
			stats.Busy++
		}
	}

	s.log(ctx).WithFields(logger.Fields{
		"found":   stats.Found,
		"done":    stats.Done,
		"waiting": stats.Waiting,
		"failed":  stats.Failed,
		"busy":    stats.Busy,
		"errors":  stats.Errors,
	}).Info("Resumed interrupted jobs")
	return stats, ctx.Err()
}
