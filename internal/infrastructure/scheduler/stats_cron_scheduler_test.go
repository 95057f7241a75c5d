package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedCompletion struct {
	id      uuid.UUID
	success bool
	summary string
	errMsg  string
}

type fakeRecorder struct {
	mu        sync.Mutex
	started   []string
	completed []recordedCompletion
	failStart bool
}

func (r *fakeRecorder) RecordJobStart(_ context.Context, jobType, trigger string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStart {
		return uuid.Nil, errors.New("db down")
	}
	r.started = append(r.started, jobType+"/"+trigger)
	return uuid.New(), nil
}

func (r *fakeRecorder) RecordJobComplete(_ context.Context, id uuid.UUID, success bool, summary, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, recordedCompletion{id: id, success: success, summary: summary, errMsg: errMsg})
	return nil
}

func (r *fakeRecorder) completions() []recordedCompletion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCompletion(nil), r.completed...)
}

// captureExecutor records jobs and fills in a summary
type captureExecutor struct {
	mu   sync.Mutex
	jobs []Job
}

func (e *captureExecutor) Execute(_ context.Context, job *Job) error {
	job.Summary = "ok " + string(job.Type)
	e.mu.Lock()
	e.jobs = append(e.jobs, *job)
	e.mu.Unlock()
	return nil
}

func (e *captureExecutor) byType() map[JobType]Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[JobType]Job, len(e.jobs))
	for _, j := range e.jobs {
		out[j.Type] = j
	}
	return out
}

func newTestCron(t *testing.T, exec JobExecutor, rec JobRecorder) *StatsCronScheduler {
	t.Helper()
	cfg := DefaultStatsCronSchedulerConfig()
	cfg.Pool = testPoolConfig()
	s, err := NewStatsCronScheduler(cfg, exec, rec, zap.NewNop())
	require.NoError(t, err)
	return s
}

func stopCron(t *testing.T, s *StatsCronScheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestDefaultStatsCronSchedulerConfig(t *testing.T) {
	cfg := DefaultStatsCronSchedulerConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "0 3 * * *", cfg.NightlySchedule)
	assert.Equal(t, "0 4 1 * *", cfg.MonthlySchedule)
	assert.Equal(t, 1, cfg.ReconcileWindowDays)
	assert.Equal(t, time.UTC, cfg.Location)
}

func TestNewStatsCronScheduler_InvalidSchedule(t *testing.T) {
	cfg := DefaultStatsCronSchedulerConfig()
	cfg.NightlySchedule = "every night"
	_, err := NewStatsCronScheduler(cfg, &captureExecutor{}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidCronExpression)

	cfg = DefaultStatsCronSchedulerConfig()
	cfg.MonthlySchedule = "0 4 32 * *"
	_, err = NewStatsCronScheduler(cfg, &captureExecutor{}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidCronExpression)
}

func TestStatsCronScheduler_NightlyTick(t *testing.T) {
	exec := &captureExecutor{}
	rec := &fakeRecorder{}
	s := newTestCron(t, exec, rec)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer stopCron(t, s)

	now := time.Date(2026, 3, 2, 3, 0, 20, 0, time.UTC)
	s.tick(ctx, now)
	s.tick(ctx, now.Add(30*time.Second))

	require.Eventually(t, func() bool { return len(rec.completions()) == 2 }, 3*time.Second, 10*time.Millisecond)

	jobs := exec.byType()
	require.Len(t, jobs, 2, "each schedule fires once per minute")
	reconcile := jobs[JobTypeReconcile]
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), reconcile.PeriodStart)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), reconcile.PeriodEnd)
	assert.Equal(t, TriggerCron, reconcile.Trigger)
	assert.Contains(t, jobs, JobTypeCacheTrim)

	for _, c := range rec.completions() {
		assert.True(t, c.success)
		assert.Contains(t, c.summary, "ok ")
	}
	assert.ElementsMatch(t, []string{"RECONCILE/cron", "CACHE_TRIM/cron"}, rec.started)
}

func TestStatsCronScheduler_MonthlyTick(t *testing.T) {
	exec := &captureExecutor{}
	s := newTestCron(t, exec, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer stopCron(t, s)

	s.tick(ctx, time.Date(2026, 4, 1, 4, 0, 0, 0, time.UTC))
	require.Eventually(t, func() bool { return len(exec.byType()) == 1 }, 3*time.Second, 10*time.Millisecond)

	archive, ok := exec.byType()[JobTypeArchive]
	require.True(t, ok)
	assert.True(t, archive.PeriodStart.IsZero())
}

func TestStatsCronScheduler_TickRespectsTimezone(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	cfg := DefaultStatsCronSchedulerConfig()
	cfg.Pool = testPoolConfig()
	cfg.Location = loc
	exec := &captureExecutor{}
	s, err := NewStatsCronScheduler(cfg, exec, nil, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer stopCron(t, s)

	// 18:00 UTC is 03:00 the next day in KST
	s.tick(ctx, time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC))
	require.Eventually(t, func() bool { return len(exec.byType()) == 2 }, 3*time.Second, 10*time.Millisecond)

	reconcile := exec.byType()[JobTypeReconcile]
	assert.True(t, reconcile.PeriodEnd.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, loc)))
}

func TestStatsCronScheduler_TriggerNow(t *testing.T) {
	exec := &captureExecutor{}
	s := newTestCron(t, exec, nil)
	ctx := context.Background()

	_, err := s.TriggerNow(ctx, JobTypeReconcile)
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)

	require.NoError(t, s.Start(ctx))
	defer stopCron(t, s)

	_, err = s.TriggerNow(ctx, JobType("VACUUM"))
	assert.ErrorIs(t, err, ErrInvalidJobType)

	job, err := s.TriggerNow(ctx, JobTypeCacheTrim)
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, job.Trigger)

	require.Eventually(t, func() bool {
		for _, js := range s.Status().Jobs {
			if js.Type == JobTypeCacheTrim && js.LastState == JobStatusSuccess {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStatsCronScheduler_RecorderFailureDoesNotBlockJob(t *testing.T) {
	exec := &captureExecutor{}
	rec := &fakeRecorder{failStart: true}
	s := newTestCron(t, exec, rec)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer stopCron(t, s)

	_, err := s.TriggerNow(ctx, JobTypeArchive)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(exec.byType()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, rec.completions())
}

func TestStatsCronScheduler_Status(t *testing.T) {
	s := newTestCron(t, &captureExecutor{}, nil)
	s.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }

	status := s.Status()
	assert.True(t, status.Enabled)
	assert.False(t, status.IsRunning)
	assert.Equal(t, "UTC", status.Timezone)
	require.Len(t, status.Jobs, len(AllJobTypes()))

	for _, js := range status.Jobs {
		require.NotNil(t, js.NextRunAt)
		switch js.Type {
		case JobTypeArchive:
			assert.Equal(t, "0 4 1 * *", js.Schedule)
			assert.Equal(t, time.Date(2026, 2, 1, 4, 0, 0, 0, time.UTC), *js.NextRunAt)
		default:
			assert.Equal(t, "0 3 * * *", js.Schedule)
			assert.Equal(t, time.Date(2026, 1, 16, 3, 0, 0, 0, time.UTC), *js.NextRunAt)
		}
	}
}
