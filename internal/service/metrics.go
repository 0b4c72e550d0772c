package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/timmy/nutrilens/internal/domain"
)

const instrumentationName = "github.com/timmy/nutrilens/internal/service"

type jobMetrics struct {
	tracer       trace.Tracer
	jobsCreated  metric.Int64Counter
	jobsFinished metric.Int64Counter
	stepDuration metric.Float64Histogram
}

// newJobMetrics binds instruments to the global providers. Instrument
// creation errors leave a no-op instrument in place.
func newJobMetrics() *jobMetrics {
	meter := otel.Meter(instrumentationName)
	m := &jobMetrics{tracer: otel.Tracer(instrumentationName)}

	m.jobsCreated, _ = meter.Int64Counter("jobs_created_total",
		metric.WithDescription("Analysis jobs created"))
	m.jobsFinished, _ = meter.Int64Counter("jobs_finished_total",
		metric.WithDescription("Analysis jobs that reached done or error"))
	m.stepDuration, _ = meter.Float64Histogram("job_step_duration_seconds",
		metric.WithDescription("Duration of one job advancement step"),
		metric.WithUnit("s"))
	return m
}

func (m *jobMetrics) created(ctx context.Context, job *domain.Job) {
	if m.jobsCreated == nil {
		return
	}
	m.jobsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("meal_category", string(job.MealCategory)),
		attribute.String("analysis_mode", string(job.AnalysisMode)),
	))
}

func (m *jobMetrics) finished(ctx context.Context, job *domain.Job) {
	if m.jobsFinished == nil {
		return
	}
	m.jobsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(job.Status)),
		attribute.String("error_kind", string(job.ErrorKind)),
	))
}

func (m *jobMetrics) step(ctx context.Context, status domain.JobStatus, d time.Duration) {
	if m.stepDuration == nil {
		return
	}
	m.stepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("status", string(status)),
	))
}
