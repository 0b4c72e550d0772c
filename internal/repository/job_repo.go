package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/timmy/nutrilens/internal/domain"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrConflict means the row changed since it was read; reload and retry.
	ErrConflict = errors.New("concurrent update")
)

// JobRepository persists analysis jobs.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//
// Returns:
//   - *domain.Job: job record if found.
//   - error: ErrNotFound when the job does not exist.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// GetForUser retrieves a job only if userID owns it. A job owned by someone
// else is reported as not found.
func (r *JobRepository) GetForUser(ctx context.Context, id, userID string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&job).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// ListByUser returns a user's jobs, newest first, and the total count.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owner of the jobs.
//   - limit: max number of jobs to return.
//   - offset: pagination offset.
//
// Returns:
//   - []domain.Job: jobs for the page.
//   - int64: total jobs owned by userID.
//   - error: non-nil if the query fails.
func (r *JobRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Job, int64, error) {
	var total int64
	q := r.db.WithContext(ctx).Model(&domain.Job{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error
	return jobs, total, err
}

// ListRunnable returns jobs that can advance without user input, are not
// claimed by a running stage and have not been written since staleBefore,
// oldest first. The zero time matches every unclaimed job.
func (r *JobRepository) ListRunnable(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Job, error) {
	q := r.db.WithContext(ctx).
		Where("status IN ?", runnableStatuses()).
		Where("claimed_until IS NULL OR claimed_until < ?", time.Now())
	if !staleBefore.IsZero() {
		q = q.Where("updated_at < ?", staleBefore)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var jobs []domain.Job
	err := q.Order("updated_at ASC").Find(&jobs).Error
	return jobs, err
}

// CountByStatus returns the number of jobs per status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error) {
	var rows []struct {
		Status domain.JobStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.JobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Update writes job if the stored row still has status expected and the
// revision job was read at. On success job.Revision is incremented; otherwise
// job is left untouched and ErrConflict is returned.
func (r *JobRepository) Update(ctx context.Context, job *domain.Job, expected domain.JobStatus) error {
	readRevision := job.Revision
	job.Revision = readRevision + 1

	res := r.db.WithContext(ctx).
		Model(job).
		Where("status = ? AND revision = ?", expected, readRevision).
		Select("*").
		Omit("id", "created_at").
		Updates(job)
	if res.Error != nil {
		job.Revision = readRevision
		return res.Error
	}
	if res.RowsAffected == 0 {
		job.Revision = readRevision
		return ErrConflict
	}
	return nil
}

func runnableStatuses() []domain.JobStatus {
	return []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusRecognizing,
		domain.JobStatusEstimatingPortions,
		domain.JobStatusCalculating,
		domain.JobStatusAdvising,
		domain.JobStatusOptimizing,
		domain.JobStatusGeneratingImage,
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
