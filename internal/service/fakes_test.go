package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/inference"
	"github.com/timmy/nutrilens/internal/repository"
	"github.com/timmy/nutrilens/internal/stage"
)

// memJobStore is a JobStore with the same compare-and-set semantics as the
// gorm repository. It records every status change per job.
type memJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	history map[string][]domain.JobStatus
	// beforeUpdate runs, unlocked, before each Update.
	beforeUpdate func(job *domain.Job)
}

var _ JobStore = (*memJobStore)(nil)

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: map[string]*domain.Job{}, history: map[string][]domain.JobStatus{}}
}

func (m *memJobStore) Create(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = job.Clone()
	m.history[job.ID] = []domain.JobStatus{job.Status}
	return nil
}

func (m *memJobStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return job.Clone(), nil
}

func (m *memJobStore) GetForUser(ctx context.Context, id, userID string) (*domain.Job, error) {
	job, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return job, nil
}

func (m *memJobStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]domain.Job, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []domain.Job
	for _, j := range m.jobs {
		if j.UserID == userID {
			jobs = append(jobs, *j.Clone())
		}
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.After(jobs[b].CreatedAt) })
	total := int64(len(jobs))
	if offset > len(jobs) {
		offset = len(jobs)
	}
	jobs = jobs[offset:]
	if limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, total, nil
}

func (m *memJobStore) ListRunnable(_ context.Context, staleBefore time.Time, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []domain.Job
	for _, j := range m.jobs {
		if !j.Status.Runnable() || j.Claimed(time.Now()) {
			continue
		}
		if !staleBefore.IsZero() && !j.UpdatedAt.Before(staleBefore) {
			continue
		}
		jobs = append(jobs, *j.Clone())
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].UpdatedAt.Before(jobs[b].UpdatedAt) })
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *memJobStore) Update(_ context.Context, job *domain.Job, expected domain.JobStatus) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate(job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[job.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Status != expected || stored.Revision != job.Revision {
		return repository.ErrConflict
	}
	job.Revision++
	job.UpdatedAt = time.Now()
	m.jobs[job.ID] = job.Clone()
	if job.Status != stored.Status {
		m.history[job.ID] = append(m.history[job.ID], job.Status)
	}
	return nil
}

func (m *memJobStore) statuses(id string) []domain.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.JobStatus(nil), m.history[id]...)
}

// fakeLLM replays scripted replies; the last one repeats.
type fakeLLM struct {
	mu      sync.Mutex
	replies []llmReply
	prompts []string
}

type llmReply struct {
	text string
	err  error
}

func replying(texts ...string) *fakeLLM {
	f := &fakeLLM{}
	for _, t := range texts {
		f.replies = append(f.replies, llmReply{text: t})
	}
	return f
}

func erroring(err error) *fakeLLM {
	return &fakeLLM{replies: []llmReply{{err: err}}}
}

func (f *fakeLLM) Complete(_ context.Context, req inference.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.Prompt)
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r.text, r.err
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeLLM) prompt(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[i]
}

type urlImages struct{}

func (urlImages) Resolve(_ context.Context, ref string) (*inference.Image, error) {
	return &inference.Image{URL: ref}, nil
}

type staticCatalog []domain.Food

func (c staticCatalog) List(context.Context) ([]domain.Food, error) {
	return c, nil
}

type mediaFunc func(ctx context.Context, jobID string, opt *domain.OptimizedMeal) *domain.GeneratedImage

func (f mediaFunc) Generate(ctx context.Context, jobID string, opt *domain.OptimizedMeal) *domain.GeneratedImage {
	return f(ctx, jobID, opt)
}

type recognizerFunc func(ctx context.Context, in stage.RecognitionInput) (*stage.RecognitionOutput, error)

func (f recognizerFunc) Recognize(ctx context.Context, in stage.RecognitionInput) (*stage.RecognitionOutput, error) {
	return f(ctx, in)
}
