package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/timmy/nutrilens/internal/api/handler"
	"github.com/timmy/nutrilens/internal/api/middleware"
	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/service"
)

type fakeJobs struct {
	jobs      map[string]*domain.Job
	created   service.CreateJobRequest
	submitted map[string]string
	listArgs  [3]any
	listErr   error
}

func (f *fakeJobs) CreateJob(_ context.Context, req service.CreateJobRequest) (*domain.Job, error) {
	f.created = req
	if req.MealCategory == "snack" {
		return nil, fmt.Errorf("%w: meal_category must be dish, dessert or beverage", service.ErrInvalidRequest)
	}
	job := domain.NewJob("job-new", req.UserID, req.ImageRef, req.MealCategory, domain.AnalysisModeSimple, domain.PortionModeInteractive, req.Profile)
	return job, nil
}

func (f *fakeJobs) GetJob(_ context.Context, userID, jobID string) (*domain.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, service.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobs) ListJobs(_ context.Context, userID string, limit, offset int) ([]domain.Job, int64, error) {
	f.listArgs = [3]any{userID, limit, offset}
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	var out []domain.Job
	for _, j := range f.jobs {
		if j.UserID == userID {
			out = append(out, *j)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeJobs) SubmitAnswers(ctx context.Context, userID, jobID string, answers map[string]string) (*domain.Job, error) {
	job, err := f.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusWaitingUser {
		return nil, service.ErrInvalidState
	}
	f.submitted = answers
	next := job.Clone()
	next.PendingQuestions = nil
	next.SetStatus(domain.JobStatusEstimatingPortions)
	return next, nil
}

type fakeAdmin struct {
	resumed  int
	reloaded bool
	indexed  chan struct{}
	status   *service.IndexStats
}

func (f *fakeAdmin) ResumeInterrupted(_ context.Context, limit int) (*service.ResumeStats, error) {
	f.resumed = limit
	return &service.ResumeStats{Found: 2, Done: 1, Waiting: 1}, nil
}

func (f *fakeAdmin) Reload(context.Context) (int, error) {
	f.reloaded = true
	return 42, nil
}

func (f *fakeAdmin) IndexAll(context.Context) (*service.IndexStats, error) {
	close(f.indexed)
	return &service.IndexStats{}, nil
}

func (f *fakeAdmin) Status() *service.IndexStats { return f.status }

type failingPinger struct{ err error }

func (p failingPinger) PingContext(context.Context) error { return p.err }

func fixtureJobs() *fakeJobs {
	done := domain.NewJob("job-done", "alice", "uploads/a.jpg", domain.MealCategoryDish, domain.AnalysisModeSimple, domain.PortionModeInteractive, domain.Profile{})
	done.SetStatus(domain.JobStatusDone)
	done.Nutrition = datatypes.NewJSONType(&domain.NutritionResult{
		Calories:          domain.CalorieRange{Central: 394, Min: 320, Max: 480},
		OverallConfidence: domain.ConfidenceMedium,
	})

	waiting := domain.NewJob("job-waiting", "alice", "uploads/b.jpg", domain.MealCategoryDish, domain.AnalysisModeSimple, domain.PortionModeInteractive, domain.Profile{})
	waiting.SetStatus(domain.JobStatusWaitingUser)
	waiting.PendingQuestions = []domain.Question{{ID: "rice_amount", Prompt: "How much rice?", Options: []string{"one cup"}}}

	failed := domain.NewJob("job-failed", "bob", "uploads/c.jpg", domain.MealCategoryDish, domain.AnalysisModeSimple, domain.PortionModeInteractive, domain.Profile{})
	failed.Fail(domain.ErrorKindTransport, "recognition: transport failure: timed out")

	return &fakeJobs{jobs: map[string]*domain.Job{done.ID: done, waiting.ID: waiting, failed.ID: failed}}
}

func newTestRouter(jobs *fakeJobs, admin *fakeAdmin, indexer handler.FoodIndexer) http.Handler {
	return SetupRouter(RouterConfig{
		Mode:       "test",
		AdminToken: "s3cret",
		Jobs:       jobs,
		Resumer:    admin,
		Catalog:    admin,
		Indexer:    indexer,
	})
}

func do(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCreateJob(t *testing.T) {
	jobs := fixtureJobs()
	r := newTestRouter(jobs, &fakeAdmin{}, nil)

	w := do(t, r, http.MethodPost, "/api/v1/jobs", "alice",
		`{"image_ref": "uploads/new.jpg", "meal_category": "dish", "profile": {"objective": "weight_loss"}}`)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "/api/v1/jobs/job-new", w.Header().Get("Location"))
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
	resp := decode[handler.JobResponse](t, w)
	assert.Equal(t, domain.JobStatusPending, resp.Status)
	assert.Equal(t, "Queued", resp.StageLabel)
	assert.Equal(t, "alice", jobs.created.UserID)
	assert.Equal(t, "weight_loss", jobs.created.Profile.Objective)
}

func TestCreateJobRejections(t *testing.T) {
	r := newTestRouter(fixtureJobs(), &fakeAdmin{}, nil)

	cases := []struct {
		name string
		user string
		body string
		want int
	}{
		{"no identity", "", `{"image_ref": "x", "meal_category": "dish"}`, http.StatusUnauthorized},
		{"broken json", "alice", `{"image_ref":`, http.StatusBadRequest},
		{"invalid category", "alice", `{"image_ref": "x", "meal_category": "snack"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/v1/jobs", tc.user, tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}

func TestGetJobViews(t *testing.T) {
	r := newTestRouter(fixtureJobs(), &fakeAdmin{}, nil)

	w := do(t, r, http.MethodGet, "/api/v1/jobs/job-done", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	done := decode[handler.JobResponse](t, w)
	require.NotNil(t, done.Result)
	assert.Equal(t, 394.0, done.Result.Nutrition.Calories.Central)
	assert.Nil(t, done.Error)

	w = do(t, r, http.MethodGet, "/api/v1/jobs/job-waiting", "alice", "")
	waiting := decode[handler.JobResponse](t, w)
	assert.Nil(t, waiting.Result)
	require.Len(t, waiting.PendingQuestions, 1)
	assert.Equal(t, "rice_amount", waiting.PendingQuestions[0].ID)

	w = do(t, r, http.MethodGet, "/api/v1/jobs/job-failed", "bob", "")
	failed := decode[handler.JobResponse](t, w)
	require.NotNil(t, failed.Error)
	assert.Equal(t, domain.ErrorKindTransport, failed.Error.Kind)
	assert.Nil(t, failed.Result)

	w = do(t, r, http.MethodGet, "/api/v1/jobs/job-failed", "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs(t *testing.T) {
	jobs := fixtureJobs()
	r := newTestRouter(jobs, &fakeAdmin{}, nil)

	w := do(t, r, http.MethodGet, "/api/v1/jobs?limit=5&offset=10", "alice", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[handler.ListJobsResponse](t, w)
	assert.EqualValues(t, 2, resp.Total)
	assert.Len(t, resp.Jobs, 2)
	assert.Equal(t, [3]any{"alice", 5, 10}, jobs.listArgs)
}

func TestSubmitAnswers(t *testing.T) {
	jobs := fixtureJobs()
	r := newTestRouter(jobs, &fakeAdmin{}, nil)

	w := do(t, r, http.MethodPost, "/api/v1/jobs/job-waiting/answers", "alice", `{"answers": {"rice_amount": "one cup"}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, domain.JobStatusEstimatingPortions, decode[handler.JobResponse](t, w).Status)
	assert.Equal(t, map[string]string{"rice_amount": "one cup"}, jobs.submitted)

	w = do(t, r, http.MethodPost, "/api/v1/jobs/job-done/answers", "alice", `{"answers": {"rice_amount": "one cup"}}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/jobs/missing/answers", "alice", `{"answers": {"rice_amount": "one cup"}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/jobs/job-waiting/answers", "alice", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRequiresToken(t *testing.T) {
	admin := &fakeAdmin{}
	r := newTestRouter(fixtureJobs(), admin, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/foods/reload", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, admin.reloaded)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/foods/reload", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, admin.reloaded)
	assert.JSONEq(t, `{"foods": 42}`, w.Body.String())
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	r := SetupRouter(RouterConfig{Mode: "test", Jobs: fixtureJobs(), Resumer: &fakeAdmin{}, Catalog: &fakeAdmin{}})

	w := do(t, r, http.MethodPost, "/api/v1/admin/jobs/resume", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminResumeAndIndex(t *testing.T) {
	admin := &fakeAdmin{indexed: make(chan struct{})}
	r := newTestRouter(fixtureJobs(), admin, admin)
	authed := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer s3cret")
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := authed(http.MethodPost, "/api/v1/admin/jobs/resume", `{"limit": 50}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 50, admin.resumed)
	assert.Equal(t, service.ResumeStats{Found: 2, Done: 1, Waiting: 1}, decode[service.ResumeStats](t, w))

	w = authed(http.MethodGet, "/api/v1/admin/foods/index/status", "")
	assert.JSONEq(t, `{"running": false}`, w.Body.String())

	w = authed(http.MethodPost, "/api/v1/admin/foods/index", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	select {
	case <-admin.indexed:
	case <-time.After(5 * time.Second):
		t.Fatal("indexing was not started")
	}

	admin.status = &service.IndexStats{Running: true}
	w = authed(http.MethodPost, "/api/v1/admin/foods/index", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminIndexDisabled(t *testing.T) {
	r := newTestRouter(fixtureJobs(), &fakeAdmin{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/foods/index/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(fixtureJobs(), &fakeAdmin{}, nil)
	w := do(t, r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	degraded := SetupRouter(RouterConfig{Mode: "test", DB: failingPinger{err: errors.New("connection refused")}})
	w = do(t, degraded, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := SetupRouter(RouterConfig{
		Mode: "test",
		CORS: middleware.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}},
		Jobs: fixtureJobs(),
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), middleware.HeaderUserID)

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestInternalErrorCarriesRequestID(t *testing.T) {
	jobs := fixtureJobs()
	jobs.listErr = errors.New("database is locked")
	r := newTestRouter(jobs, &fakeAdmin{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set(middleware.HeaderUserID, "alice")
	req.Header.Set(middleware.HeaderRequestID, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(middleware.HeaderRequestID))
	body := decode[map[string]string](t, w)
	assert.Equal(t, "req-42", body["request_id"])
	assert.NotContains(t, body["error"], "database")
}
