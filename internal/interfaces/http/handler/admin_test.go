package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	statsapp "github.com/erp/backoffice/internal/application/statistics"
	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/erp/backoffice/internal/infrastructure/cache"
	"github.com/erp/backoffice/internal/infrastructure/scheduler"
	"github.com/erp/backoffice/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockCacheAdministrator implements CacheAdministrator for testing
type MockCacheAdministrator struct {
	mock.Mock
}

func (m *MockCacheAdministrator) EvictNamespace(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockCacheAdministrator) EvictBranch(ctx context.Context, branchID int64, name string) error {
	return m.Called(ctx, branchID, name).Error(0)
}

func (m *MockCacheAdministrator) EvictAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCacheAdministrator) Stats() cache.Stats {
	return m.Called().Get(0).(cache.Stats)
}

// MockJobManager implements JobManager for testing
type MockJobManager struct {
	mock.Mock
}

func (m *MockJobManager) SubmitReconcile(ctx context.Context, from, to time.Time) (statsapp.JobSnapshot, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(statsapp.JobSnapshot), args.Error(1)
}

func (m *MockJobManager) SubmitArchive(ctx context.Context, from, to time.Time) (statsapp.JobSnapshot, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(statsapp.JobSnapshot), args.Error(1)
}

func (m *MockJobManager) Get(id uuid.UUID) (statsapp.JobSnapshot, error) {
	args := m.Called(id)
	return args.Get(0).(statsapp.JobSnapshot), args.Error(1)
}

func (m *MockJobManager) List() []statsapp.JobSnapshot {
	return m.Called().Get(0).([]statsapp.JobSnapshot)
}

func (m *MockJobManager) Cancel(id uuid.UUID) error {
	return m.Called(id).Error(0)
}

// MockArchivePolicyManager implements ArchivePolicyManager for testing
type MockArchivePolicyManager struct {
	mock.Mock
}

func (m *MockArchivePolicyManager) Policy() sales.ArchivePolicy {
	return m.Called().Get(0).(sales.ArchivePolicy)
}

func (m *MockArchivePolicyManager) SetPolicy(p sales.ArchivePolicy) error {
	return m.Called(p).Error(0)
}

func (m *MockArchivePolicyManager) Stats(ctx context.Context, now time.Time) (*sales.ArchiveStats, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sales.ArchiveStats), args.Error(1)
}

// MockSchedulerController implements SchedulerController for testing
type MockSchedulerController struct {
	mock.Mock
}

func (m *MockSchedulerController) Status() scheduler.SchedulerStatus {
	return m.Called().Get(0).(scheduler.SchedulerStatus)
}

func (m *MockSchedulerController) TriggerNow(ctx context.Context, jobType scheduler.JobType) (*scheduler.Job, error) {
	args := m.Called(ctx, jobType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheduler.Job), args.Error(1)
}

type adminFixture struct {
	cache    *MockCacheAdministrator
	jobs     *MockJobManager
	archiver *MockArchivePolicyManager
	sched    *MockSchedulerController
	handler  *AdminHandler
	router   *gin.Engine
}

func newAdminFixture(withScheduler bool) *adminFixture {
	f := &adminFixture{
		cache:    new(MockCacheAdministrator),
		jobs:     new(MockJobManager),
		archiver: new(MockArchivePolicyManager),
		sched:    new(MockSchedulerController),
	}
	f.handler = NewAdminHandler(f.cache, f.jobs, f.archiver)
	f.handler.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	if withScheduler {
		f.handler.SetScheduler(f.sched)
	}

	h := f.handler
	r := gin.New()
	g := r.Group("/api/v1/admin/statistics")
	g.POST("/cache/evict", h.EvictCache)
	g.GET("/cache/stats", h.GetCacheStats)
	g.POST("/jobs/reconcile", h.SubmitReconcile)
	g.POST("/jobs/archive", h.SubmitArchive)
	g.GET("/jobs", h.ListJobs)
	g.GET("/jobs/:id", h.GetJob)
	g.POST("/jobs/:id/cancel", h.CancelJob)
	g.GET("/archive/stats", h.GetArchiveStats)
	g.GET("/archive/policy", h.GetArchivePolicy)
	g.PUT("/archive/policy", h.UpdateArchivePolicy)
	g.GET("/scheduler/status", h.GetSchedulerStatus)
	g.POST("/scheduler/:type/trigger", h.TriggerScheduledJob)
	f.router = r
	return f
}

func TestAdminHandler_EvictCache(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(*MockCacheAdministrator)
		wantStatus int
		wantCode   string
	}{
		{
			name:       "all",
			body:       `{"all":true,"namespace":"sales"}`,
			setup:      func(m *MockCacheAdministrator) { m.On("EvictAll", mock.Anything).Return(nil).Once() },
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "branch across sales namespaces",
			body:       `{"branch_id":3}`,
			setup:      func(m *MockCacheAdministrator) { m.On("EvictBranch", mock.Anything, int64(3), "").Return(nil).Once() },
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "branch in one namespace",
			body:       `{"branch_id":3,"namespace":"todaySales"}`,
			setup:      func(m *MockCacheAdministrator) { m.On("EvictBranch", mock.Anything, int64(3), "todaySales").Return(nil).Once() },
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "namespace",
			body:       `{"namespace":"dashboardKpis"}`,
			setup:      func(m *MockCacheAdministrator) { m.On("EvictNamespace", mock.Anything, "dashboardKpis").Return(nil).Once() },
			wantStatus: http.StatusNoContent,
		},
		{
			name: "unknown namespace",
			body: `{"namespace":"orders"}`,
			setup: func(m *MockCacheAdministrator) {
				m.On("EvictNamespace", mock.Anything, "orders").Return(shared.NewDomainError("INVALID_INPUT", `unknown cache namespace "orders"`)).Once()
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeInvalidInput,
		},
		{
			name:       "nothing selected",
			body:       `{}`,
			setup:      func(*MockCacheAdministrator) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeInvalidInput,
		},
		{
			name:       "malformed body",
			body:       `{"all":`,
			setup:      func(*MockCacheAdministrator) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAdminFixture(false)
			tt.setup(f.cache)

			w := serve(f.router, http.MethodPost, "/api/v1/admin/statistics/cache/evict", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeResponse(t, w).Error.Code)
			}
			f.cache.AssertExpectations(t)
		})
	}
}

func TestAdminHandler_GetCacheStats(t *testing.T) {
	f := newAdminFixture(false)
	f.cache.On("Stats").Return(cache.Stats{L1Hits: 9, L1Misses: 1, HitRatio: 0.9}).Once()

	w := serve(f.router, http.MethodGet, "/api/v1/admin/statistics/cache/stats", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp envelope[cache.Stats]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(9), resp.Data.L1Hits)
	assert.InDelta(t, 0.9, resp.Data.HitRatio, 1e-9)
}

func TestAdminHandler_SubmitJobs(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC)
	snap := statsapp.JobSnapshot{
		ID:          uuid.New(),
		Type:        scheduler.JobTypeReconcile,
		Status:      scheduler.JobStatusPending,
		PeriodStart: from,
		PeriodEnd:   to,
	}

	t.Run("reconcile accepted with exclusive end", func(t *testing.T) {
		f := newAdminFixture(false)
		f.jobs.On("SubmitReconcile", mock.Anything, from, to).Return(snap, nil).Once()

		w := serve(f.router, http.MethodPost, "/api/v1/admin/statistics/jobs/reconcile", `{"from":"2024-05-01","to":"2024-05-08"}`)

		require.Equal(t, http.StatusAccepted, w.Code)
		var resp envelope[statsapp.JobSnapshot]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, snap.ID, resp.Data.ID)
		assert.Equal(t, scheduler.JobStatusPending, resp.Data.Status)
		f.jobs.AssertExpectations(t)
	})

	t.Run("archive already running", func(t *testing.T) {
		f := newAdminFixture(false)
		f.jobs.On("SubmitArchive", mock.Anything, from, to).Return(statsapp.JobSnapshot{}, shared.ErrAlreadyRunning).Once()

		w := serve(f.router, http.MethodPost, "/api/v1/admin/statistics/jobs/archive", `{"from":"2024-05-01","to":"2024-05-08"}`)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, dto.ErrCodeAlreadyRunning, decodeResponse(t, w).Error.Code)
	})

	t.Run("missing dates", func(t *testing.T) {
		f := newAdminFixture(false)

		w := serve(f.router, http.MethodPost, "/api/v1/admin/statistics/jobs/reconcile", `{"from":"2024-05-01"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeResponse(t, w)
		require.Len(t, resp.Error.Details, 1)
		assert.Equal(t, "to", resp.Error.Details[0].Field)
		f.jobs.AssertNotCalled(t, "SubmitReconcile", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAdminHandler_Jobs(t *testing.T) {
	id := uuid.New()
	running := statsapp.JobSnapshot{ID: id, Type: scheduler.JobTypeArchive, Status: scheduler.JobStatusRunning}

	t.Run("list", func(t *testing.T) {
		f := newAdminFixture(false)
		f.jobs.On("List").Return([]statsapp.JobSnapshot{running}).Once()

		w := serve(f.router, http.MethodGet, "/api/v1/admin/statistics/jobs", "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(1), decodeResponse(t, w).Meta.Total)
	})

	t.Run("get", func(t *testing.T) {
		f := newAdminFixture(false)
		f.jobs.On("Get", id).Return(running, nil).Once()

		w := serve(f.router, http.MethodGet, "/api/v1/admin/statistics/jobs/"+id.String(), "")

		require.Equal(t, http.StatusOK, w.Code)
		var resp envelope[statsapp.JobSnapshot]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, scheduler.JobStatusRunning, resp.Data.Status)
	})

	t.Run("get unknown", func(t *testing.T) {
		f := newAdminFixture(false)
		f.jobs.On("Get", id).Return(statsapp.JobSnapshot{}, shared.ErrNotFound).Once()

		w := serve(f.router, http.MethodGet, "/api/v1/admin/statistics/jobs/"+id.String(), "")

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		f := newAdminFixture(false)

		w := serve(f.router, http.MethodGet, "/api/v1/admin/statistics/jobs/not-a-uuid", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeBadRequest, decodeResponse(t, w).Error.Code)
	})

	t.Run("cancel", func(t *testing.T) {
		f := newAdminFixture(false)
		f.jobs.On("Cancel", id).Return(nil).Once()
		f.jobs.On("Get", id).Return(running, nil).Once()

		w := serve(f.router, http.MethodPost, "/api/v1/admin/statistics/jobs/"+id.String()+"/cancel", "")

		assert.Equal(t, http.StatusAccepted, w.Code)
		f.jobs.AssertExpectations(t)
	})

	t.Run("cancel finished", func(t *testing.T) {
		f := newAdminFixture(false)
		f.jobs.On("Cancel", id).Return(shared.ErrInvalidState).Once()

		w := serve(f.router, http.MethodPost, "/api/v1/admin/statistics/jobs/"+id.String()+"/cancel", "")

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		f.jobs.AssertNotCalled(t, "Get", id)
	})
}

func TestAdminHandler_ArchivePolicy(t *testing.T) {
	current := sales.ArchivePolicy{Enabled: true, RetentionDays: 365, BatchSize: 1000, Mode: sales.ArchiveModeDelete}

	t.Run("get", func(t *testing.T) {
		f := newAdminFixture(false)
		f.archiver.On("Policy").Return(current).Once()

		w := serve(f.router, http.MethodGet, "/api/v1/admin/statistics/archive/policy", "")

		require.Equal(t, http.StatusOK, w.Code)
		var resp envelope[sales.ArchivePolicy]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, current, resp.Data)
	})

	t.Run("update", func(t *testing.T) {
		f := newAdminFixture(false)
		updated := sales.ArchivePolicy{Enabled: false, RetentionDays: 90, BatchSize: 500, Mode: sales.ArchiveModeColdStorage}
		f.archiver.On("SetPolicy", updated).Return(nil).Once()
		f.archiver.On("Policy").Return(updated).Once()

		w := serve(f.router, http.MethodPut, "/api/v1/admin/statistics/archive/policy",
			`{"enabled":false,"retention_days":90,"batch_size":500,"mode":"cold_storage"}`)

		require.Equal(t, http.StatusOK, w.Code)
		f.archiver.AssertExpectations(t)
	})

	t.Run("cold storage not configured", func(t *testing.T) {
		f := newAdminFixture(false)
		f.archiver.On("SetPolicy", mock.Anything).
			Return(shared.NewDomainError("INVALID_INPUT", "cold storage mode requires a configured storage bucket")).Once()

		w := serve(f.router, http.MethodPut, "/api/v1/admin/statistics/archive/policy",
			`{"enabled":true,"retention_days":90,"batch_size":500,"mode":"cold_storage"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidInput, decodeResponse(t, w).Error.Code)
	})

	t.Run("invalid mode", func(t *testing.T) {
		f := newAdminFixture(false)

		w := serve(f.router, http.MethodPut, "/api/v1/admin/statistics/archive/policy",
			`{"enabled":true,"retention_days":90,"batch_size":500,"mode":"shred"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeResponse(t, w)
		require.NotEmpty(t, resp.Error.Details)
		assert.Equal(t, "oneof", resp.Error.Details[0].Tag)
		f.archiver.AssertNotCalled(t, "SetPolicy", mock.Anything)
	})
}

func TestAdminHandler_GetArchiveStats(t *testing.T) {
	f := newAdminFixture(false)
	stats := &sales.ArchiveStats{
		Tables: []sales.AgeBreakdown{{Target: sales.TargetFactLedger, Total: 10, OlderThan3M: 4}},
	}
	f.archiver.On("Stats", mock.Anything, f.handler.now()).Return(stats, nil).Once()

	w := serve(f.router, http.MethodGet, "/api/v1/admin/statistics/archive/stats", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp envelope[sales.ArchiveStats]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Tables, 1)
	assert.Equal(t, int64(4), resp.Data.Tables[0].OlderThan3M)
	f.archiver.AssertExpectations(t)
}

func TestAdminHandler_Scheduler(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newAdminFixture(false)

		w := serve(f.router, http.MethodGet, "/api/v1/admin/statistics/scheduler/status", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		w = serve(f.router, http.MethodPost, "/api/v1/admin/statistics/scheduler/reconcile/trigger", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("status", func(t *testing.T) {
		f := newAdminFixture(true)
		f.sched.On("Status").Return(scheduler.SchedulerStatus{
			Enabled:   true,
			IsRunning: true,
			Timezone:  "Asia/Seoul",
			Jobs:      []scheduler.JobRunStatus{{Type: scheduler.JobTypeReconcile, Schedule: "0 3 * * *"}},
		}).Once()

		w := serve(f.router, http.MethodGet, "/api/v1/admin/statistics/scheduler/status", "")

		require.Equal(t, http.StatusOK, w.Code)
		var resp envelope[scheduler.SchedulerStatus]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Asia/Seoul", resp.Data.Timezone)
		require.Len(t, resp.Data.Jobs, 1)
	})

	t.Run("trigger", func(t *testing.T) {
		f := newAdminFixture(true)
		job := scheduler.NewJob(scheduler.JobTypeCacheTrim, scheduler.TriggerManual, march1, march1, 0)
		f.sched.On("TriggerNow", mock.Anything, scheduler.JobTypeCacheTrim).Return(job, nil).Once()

		w := serve(f.router, http.MethodPost, "/api/v1/admin/statistics/scheduler/cache_trim/trigger", "")

		require.Equal(t, http.StatusAccepted, w.Code)
		var resp envelope[TriggeredJob]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, job.ID, resp.Data.ID)
		assert.Equal(t, scheduler.TriggerManual, resp.Data.Trigger)
	})

	t.Run("unknown type", func(t *testing.T) {
		f := newAdminFixture(true)

		w := serve(f.router, http.MethodPost, "/api/v1/admin/statistics/scheduler/vacuum/trigger", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		f.sched.AssertNotCalled(t, "TriggerNow", mock.Anything, mock.Anything)
	})

	t.Run("scheduler stopped", func(t *testing.T) {
		f := newAdminFixture(true)
		f.sched.On("TriggerNow", mock.Anything, scheduler.JobTypeArchive).Return(nil, scheduler.ErrSchedulerNotRunning).Once()

		w := serve(f.router, http.MethodPost, "/api/v1/admin/statistics/scheduler/ARCHIVE/trigger", "")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
