package statistics

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/erp/backoffice/internal/infrastructure/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultJobRetention is how long finished manual jobs stay queryable
const DefaultJobRetention = 24 * time.Hour

// JobSnapshot is a point-in-time copy of a manual job
type JobSnapshot struct {
	ID          uuid.UUID           `json:"id"`
	Type        scheduler.JobType   `json:"type"`
	Status      scheduler.JobStatus `json:"status"`
	PeriodStart time.Time           `json:"period_start"`
	PeriodEnd   time.Time           `json:"period_end"`
	CreatedAt   time.Time           `json:"created_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
	Progress    Progress            `json:"progress"`
	Summary     string              `json:"summary,omitempty"`
	Error       string              `json:"error,omitempty"`
}

type manualJob struct {
	snap   JobSnapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// JobRegistry runs manual reconcile and archive jobs asynchronously and hands out
// handles to poll, wait on or cancel them. Work committed before a cancellation stays committed.
type JobRegistry struct {
	executor  *JobExecutor
	recorder  scheduler.JobRecorder
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu     sync.Mutex
	jobs   map[uuid.UUID]*manualJob
	closed bool
}

// NewJobRegistry creates a JobRegistry. recorder may be nil.
func NewJobRegistry(executor *JobExecutor, recorder scheduler.JobRecorder, retention time.Duration, logger *zap.Logger) *JobRegistry {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobRegistry{
		executor:  executor,
		recorder:  recorder,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		baseCtx:   ctx,
		cancelAll: cancel,
		jobs:      make(map[uuid.UUID]*manualJob),
	}
}

// SubmitReconcile starts reconciling the business dates [from, to)
func (r *JobRegistry) SubmitReconcile(ctx context.Context, from, to time.Time) (JobSnapshot, error) {
	from, to, err := validateRange(from, to)
	if err != nil {
		return JobSnapshot{}, err
	}
	if to.After(sales.DateOf(r.now(), r.executor.loc).AddDate(0, 0, 1)) {
		return JobSnapshot{}, shared.NewDomainError("INVALID_INPUT", "reconcile range cannot end after today")
	}
	return r.submit(ctx, scheduler.JobTypeReconcile, from, to)
}

// SubmitArchive starts archiving rows in [from, to) regardless of whether scheduled archiving is enabled
func (r *JobRegistry) SubmitArchive(ctx context.Context, from, to time.Time) (JobSnapshot, error) {
	if from.IsZero() || to.IsZero() {
		return JobSnapshot{}, shared.NewDomainError("INVALID_INPUT", "from and to are required")
	}
	if !from.Before(to) {
		return JobSnapshot{}, shared.NewDomainError("INVALID_INPUT", "to must be after from")
	}
	if to.After(r.now()) {
		return JobSnapshot{}, shared.NewDomainError("INVALID_INPUT", "archive range cannot end in the future")
	}
	return r.submit(ctx, scheduler.JobTypeArchive, from, to)
}

// submit takes the run guard synchronously so an overlapping run is reported to the
// caller as shared.ErrAlreadyRunning, then runs the job in the background.
func (r *JobRegistry) submit(ctx context.Context, jobType scheduler.JobType, from, to time.Time) (JobSnapshot, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return JobSnapshot{}, shared.NewDomainError("INVALID_STATE", "job registry is shutting down")
	}

	release, err := r.executor.guard.Acquire(ctx, string(jobType))
	if err != nil {
		return JobSnapshot{}, err
	}

	job := scheduler.NewJob(jobType, scheduler.TriggerManual, from, to, 0)
	if r.recorder != nil {
		id, err := r.recorder.RecordJobStart(ctx, string(jobType), string(scheduler.TriggerManual))
		if err != nil {
			r.logger.Warn("Failed to record manual job start", zap.String("job_type", string(jobType)), zap.Error(err))
		} else {
			job.ID = id
		}
	}

	jobCtx, cancel := context.WithCancel(r.baseCtx)
	mj := &manualJob{
		snap: JobSnapshot{
			ID:          job.ID,
			Type:        jobType,
			Status:      scheduler.JobStatusPending,
			PeriodStart: from,
			PeriodEnd:   to,
			CreatedAt:   r.now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		release()
		return JobSnapshot{}, shared.NewDomainError("INVALID_STATE", "job registry is shutting down")
	}
	r.pruneLocked()
	r.jobs[job.ID] = mj
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(jobCtx, mj, job, release)

	r.logger.Info("Manual job submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(jobType)),
		zap.Time("from", from),
		zap.Time("to", to),
	)
	return mj.snapshot(&r.mu), nil
}

func (r *JobRegistry) run(ctx context.Context, mj *manualJob, job *scheduler.Job, release func()) {
	defer r.wg.Done()
	defer close(mj.done)
	defer release()
	defer mj.cancel()

	job.Start()
	r.mu.Lock()
	mj.snap.Status = scheduler.JobStatusRunning
	mj.snap.StartedAt = job.StartedAt
	r.mu.Unlock()

	ctx = WithProgress(ctx, func(p Progress) {
		r.mu.Lock()
		mj.snap.Progress = p
		r.mu.Unlock()
	})
	err := r.executor.run(ctx, job)

	finished := r.now().UTC()
	r.mu.Lock()
	mj.snap.FinishedAt = &finished
	mj.snap.Summary = job.Summary
	switch {
	case ctx.Err() != nil:
		mj.snap.Status = scheduler.JobStatusCancelled
		mj.snap.Error = "cancelled"
	case err != nil:
		mj.snap.Status = scheduler.JobStatusFailed
		mj.snap.Error = err.Error()
	default:
		mj.snap.Status = scheduler.JobStatusSuccess
	}
	snap := mj.snap
	r.mu.Unlock()

	r.logger.Info("Manual job finished",
		zap.String("job_id", snap.ID.String()),
		zap.String("job_type", string(snap.Type)),
		zap.String("status", string(snap.Status)),
		zap.String("summary", snap.Summary),
	)

	if r.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.recorder.RecordJobComplete(recCtx, snap.ID, snap.Status == scheduler.JobStatusSuccess, snap.Summary, snap.Error); err != nil {
			r.logger.Warn("Failed to record manual job completion", zap.String("job_id", snap.ID.String()), zap.Error(err))
		}
	}
}

func (mj *manualJob) snapshot(mu *sync.Mutex) JobSnapshot {
	mu.Lock()
	defer mu.Unlock()
	return mj.snap
}

// pruneLocked drops finished jobs older than the retention
func (r *JobRegistry) pruneLocked() {
	cutoff := r.now().Add(-r.retention)
	for id, mj := range r.jobs {
		if mj.snap.FinishedAt != nil && mj.snap.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}

// Get returns the current state of a job
func (r *JobRegistry) Get(id uuid.UUID) (JobSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mj, ok := r.jobs[id]
	if !ok {
		return JobSnapshot{}, shared.ErrNotFound
	}
	return mj.snap, nil
}

// List returns every known job, newest first
func (r *JobRegistry) List() []JobSnapshot {
	r.mu.Lock()
	r.pruneLocked()
	out := make([]JobSnapshot, 0, len(r.jobs))
	for _, mj := range r.jobs {
		out = append(out, mj.snap)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Cancel asks a running job to stop. Finished jobs return shared.ErrInvalidState.
func (r *JobRegistry) Cancel(id uuid.UUID) error {
	r.mu.Lock()
	mj, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return shared.ErrNotFound
	}
	if mj.snap.Status.IsTerminal() {
		r.mu.Unlock()
		return shared.ErrInvalidState
	}
	r.mu.Unlock()

	mj.cancel()
	r.logger.Info("Manual job cancellation requested", zap.String("job_id", id.String()))
	return nil
}

// Wait blocks until the job finishes or ctx is done
func (r *JobRegistry) Wait(ctx context.Context, id uuid.UUID) (JobSnapshot, error) {
	r.mu.Lock()
	mj, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return JobSnapshot{}, shared.ErrNotFound
	}
	select {
	case <-mj.done:
		return mj.snapshot(&r.mu), nil
	case <-ctx.Done():
		return mj.snapshot(&r.mu), ctx.Err()
	}
}

// Close cancels running jobs and waits for them to stop
func (r *JobRegistry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancelAll()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("timed out waiting for manual jobs"), ctx.Err())
	}
}
