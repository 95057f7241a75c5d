package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus represents the status of a scheduled job
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSuccess   JobStatus = "SUCCESS"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusSkipped   JobStatus = "SKIPPED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether the job will not change status again
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailed, JobStatusSkipped, JobStatusCancelled:
		return true
	}
	return false
}

// JobType names a statistics maintenance job
type JobType string

const (
	JobTypeReconcile JobType = "RECONCILE"
	JobTypeArchive   JobType = "ARCHIVE"
	JobTypeCacheTrim JobType = "CACHE_TRIM"
)

// AllJobTypes returns every job type the scheduler knows
func AllJobTypes() []JobType {
	return []JobType{JobTypeReconcile, JobTypeArchive, JobTypeCacheTrim}
}

// ParseJobType returns the job type for a case-sensitive name
func ParseJobType(s string) (JobType, error) {
	for _, t := range AllJobTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", ErrInvalidJobType
}

// Trigger tells how a job was started
type Trigger string

const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
)

// Job is one run of a maintenance job over [PeriodStart, PeriodEnd)
type Job struct {
	ID          uuid.UUID
	Type        JobType
	Trigger     Trigger
	PeriodStart time.Time
	PeriodEnd   time.Time
	Status      JobStatus
	Error       string
	Summary     string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
}

// NewJob creates a new job instance
func NewJob(jobType JobType, trigger Trigger, periodStart, periodEnd time.Time, maxRetries int) *Job {
	return &Job{
		ID:          uuid.New(),
		Type:        jobType,
		Trigger:     trigger,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Status:      JobStatusPending,
		MaxRetries:  maxRetries,
	}
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

// Fail marks the job as failed
func (j *Job) Fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// Skip marks the job as not run because another run holds the guard
func (j *Job) Skip(reason string) {
	now := time.Now()
	j.Status = JobStatusSkipped
	j.CompletedAt = &now
	j.Error = reason
}

// ShouldRetry returns true if the job should be retried
func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry schedules the job for retry
func (j *Job) ScheduleRetry(delay time.Duration) {
	j.RetryCount++
	j.Status = JobStatusPending
	nextRetry := time.Now().Add(delay)
	j.NextRetryAt = &nextRetry
	j.Error = ""
}

// JobExecutor runs maintenance jobs
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// CompletionHook is called once per job when it reaches a terminal status
type CompletionHook func(ctx context.Context, job *Job)

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled           bool
	MaxConcurrentJobs int
	QueueSize         int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:           true,
		MaxConcurrentJobs: 2,
		QueueSize:         32,
		JobTimeout:        2 * time.Hour,
		RetryAttempts:     2,
		RetryDelay:        5 * time.Minute,
	}
}

// Validate checks the configuration
func (c SchedulerConfig) Validate() error {
	if c.MaxConcurrentJobs <= 0 || c.JobTimeout <= 0 || c.RetryAttempts < 0 || c.RetryDelay < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Scheduler is a bounded worker pool for maintenance jobs
type Scheduler struct {
	config   SchedulerConfig
	executor JobExecutor
	logger   *zap.Logger
	onDone   CompletionHook
	metrics  *JobMetrics

	jobs      chan *Job
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	retries   map[uuid.UUID]*time.Timer
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithCompletionHook sets the hook called when a job finishes
func WithCompletionHook(hook CompletionHook) Option {
	return func(s *Scheduler) {
		s.onDone = hook
	}
}

// WithJobMetrics sets the Prometheus collectors updated per job
func WithJobMetrics(m *JobMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// NewScheduler creates a new scheduler instance
func NewScheduler(config SchedulerConfig, executor JobExecutor, logger *zap.Logger, opts ...Option) *Scheduler {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultSchedulerConfig().QueueSize
	}
	s := &Scheduler{
		config:   config,
		executor: executor,
		logger:   logger,
		retries:  make(map[uuid.UUID]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the worker pool
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	s.isRunning = true
	s.jobs = make(chan *Job, s.config.QueueSize)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i, s.jobs)
	}

	s.logger.Info("Statistics job scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)

	return nil
}

// Stop gracefully stops the scheduler. Pending retries are dropped.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	for id, timer := range s.retries {
		timer.Stop()
		delete(s.retries, id)
	}
	close(s.jobs)
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Statistics job scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Statistics job scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the pool accepts jobs
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// SubmitJob queues a job for execution without blocking
func (s *Scheduler) SubmitJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}

	select {
	case s.jobs <- job:
		s.metrics.queued(1)
		s.logger.Debug("Job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// worker processes jobs from the queue
func (s *Scheduler) worker(ctx context.Context, workerID int, jobs <-chan *Job) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			s.metrics.queued(-1)
			s.processJob(ctx, job, workerID)
		}
	}
}

// processJob executes a single job
func (s *Scheduler) processJob(ctx context.Context, job *Job, workerID int) {
	job.Start()
	s.logger.Info("Processing job",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.String("trigger", string(job.Trigger)),
	)

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	start := time.Now()
	err := s.executor.Execute(jobCtx, job)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		job.Complete()
		s.logger.Info("Job completed successfully",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)),
			zap.Duration("elapsed", elapsed),
		)
	case errors.Is(err, shared.ErrAlreadyRunning):
		job.Skip(err.Error())
		s.logger.Warn("Job skipped, previous run still active",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)),
		)
	default:
		job.Fail(err.Error())
		s.logger.Error("Job failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)),
			zap.Error(err),
		)
		if ctx.Err() == nil && job.ShouldRetry() {
			s.metrics.observe(job, elapsed)
			job.ScheduleRetry(s.config.RetryDelay)
			s.logger.Info("Job scheduled for retry",
				zap.String("job_id", job.ID.String()),
				zap.Int("retry_count", job.RetryCount),
				zap.Int("max_retries", job.MaxRetries),
			)
			s.scheduleRetry(job)
			return
		}
	}

	s.metrics.observe(job, elapsed)
	if s.onDone != nil {
		s.onDone(ctx, job)
	}
}

// scheduleRetry resubmits the job once its retry delay has passed
func (s *Scheduler) scheduleRetry(job *Job) {
	delay := time.Until(*job.NextRetryAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.retries[job.ID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.retries, job.ID)
		s.mu.Unlock()
		if err := s.SubmitJob(job); err != nil {
			s.logger.Warn("Failed to re-queue job for retry",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
	})
}
