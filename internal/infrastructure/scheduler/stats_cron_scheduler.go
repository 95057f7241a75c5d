package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// cronTickerInterval is the interval at which the cron scheduler checks for execution
const cronTickerInterval = 1 * time.Minute

// JobRecorder persists one record per submitted job
type JobRecorder interface {
	RecordJobStart(ctx context.Context, jobType, trigger string) (uuid.UUID, error)
	RecordJobComplete(ctx context.Context, id uuid.UUID, success bool, summary, errMsg string) error
}

// StatsCronSchedulerConfig holds configuration for the statistics cron scheduler
type StatsCronSchedulerConfig struct {
	Enabled bool
	// NightlySchedule fires reconciliation and realtime cache trimming
	NightlySchedule string
	// MonthlySchedule fires the archiver
	MonthlySchedule string
	// ReconcileWindowDays is the number of days before today the nightly run covers
	ReconcileWindowDays int
	// Location is the business timezone schedules are evaluated in
	Location *time.Location
	Pool     SchedulerConfig
}

// DefaultStatsCronSchedulerConfig returns default cron scheduler configuration
func DefaultStatsCronSchedulerConfig() StatsCronSchedulerConfig {
	return StatsCronSchedulerConfig{
		Enabled:             true,
		NightlySchedule:     "0 3 * * *",
		MonthlySchedule:     "0 4 1 * *",
		ReconcileWindowDays: 1,
		Location:            time.UTC,
		Pool:                DefaultSchedulerConfig(),
	}
}

// JobRunStatus is the last known state of one job type
type JobRunStatus struct {
	Type      JobType    `json:"type"`
	Schedule  string     `json:"schedule,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastState JobStatus  `json:"last_status,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// SchedulerStatus is the operational view of the cron scheduler
type SchedulerStatus struct {
	Enabled   bool           `json:"enabled"`
	IsRunning bool           `json:"is_running"`
	Timezone  string         `json:"timezone"`
	Jobs      []JobRunStatus `json:"jobs"`
}

// StatsCronScheduler fires the nightly and monthly statistics jobs into a worker pool
type StatsCronScheduler struct {
	config   StatsCronSchedulerConfig
	nightly  CronSpec
	monthly  CronSpec
	recorder JobRecorder
	logger   *zap.Logger
	pool     *Scheduler
	now      func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastFired map[string]time.Time
	records   map[uuid.UUID]uuid.UUID
	last      map[JobType]JobRunStatus
}

// NewStatsCronScheduler parses the schedules and builds the worker pool.
// recorder may be nil.
func NewStatsCronScheduler(
	config StatsCronSchedulerConfig,
	executor JobExecutor,
	recorder JobRecorder,
	logger *zap.Logger,
	opts ...Option,
) (*StatsCronScheduler, error) {
	nightly, err := ParseCronSpec(config.NightlySchedule)
	if err != nil {
		return nil, fmt.Errorf("nightly schedule: %w", err)
	}
	monthly, err := ParseCronSpec(config.MonthlySchedule)
	if err != nil {
		return nil, fmt.Errorf("monthly schedule: %w", err)
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.ReconcileWindowDays <= 0 {
		config.ReconcileWindowDays = 1
	}

	s := &StatsCronScheduler{
		config:    config,
		nightly:   nightly,
		monthly:   monthly,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
		lastFired: make(map[string]time.Time),
		records:   make(map[uuid.UUID]uuid.UUID),
		last:      make(map[JobType]JobRunStatus),
	}
	opts = append(opts, WithCompletionHook(s.onJobDone))
	s.pool = NewScheduler(config.Pool, executor, logger, opts...)
	return s, nil
}

// Start starts the worker pool and the cron loop
func (s *StatsCronScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	if err := s.pool.Start(ctx); err != nil {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.cronLoop(ctx)

	now := s.now().In(s.config.Location)
	s.logger.Info("Statistics cron scheduler started",
		zap.String("nightly", s.nightly.String()),
		zap.String("monthly", s.monthly.String()),
		zap.String("timezone", s.config.Location.String()),
		zap.Time("next_nightly_run", s.nightly.Next(now)),
		zap.Time("next_monthly_run", s.monthly.Next(now)),
	)

	return nil
}

// Stop stops the cron loop, then the worker pool
func (s *StatsCronScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
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
		if err := s.pool.Stop(ctx); err != nil {
			s.logger.Warn("Error stopping job pool", zap.Error(err))
		}
		s.logger.Info("Statistics cron scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Statistics cron scheduler stop timed out")
		return ctx.Err()
	}
}

// cronLoop runs the main cron loop
func (s *StatsCronScheduler) cronLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(cronTickerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// tick fires every schedule matching now, at most once per schedule per minute
func (s *StatsCronScheduler) tick(ctx context.Context, now time.Time) {
	now = now.In(s.config.Location)
	if s.nightly.Matches(now) && s.markFired("nightly", now) {
		s.runNightly(ctx, now)
	}
	if s.monthly.Matches(now) && s.markFired("monthly", now) {
		s.runMonthly(ctx, now)
	}
}

func (s *StatsCronScheduler) markFired(name string, now time.Time) bool {
	minute := now.Truncate(time.Minute)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFired[name].Equal(minute) {
		return false
	}
	s.lastFired[name] = minute
	return true
}

// runNightly submits reconciliation of the trailing window and a realtime cache trim
func (s *StatsCronScheduler) runNightly(ctx context.Context, now time.Time) {
	today := startOfDay(now)
	from := today.AddDate(0, 0, -s.config.ReconcileWindowDays)
	s.logger.Info("Starting nightly statistics jobs",
		zap.Time("window_start", from),
		zap.Time("window_end", today),
	)
	s.submit(ctx, NewJob(JobTypeReconcile, TriggerCron, from, today, s.config.Pool.RetryAttempts))
	s.submit(ctx, NewJob(JobTypeCacheTrim, TriggerCron, now, now, 0))
}

// runMonthly submits an archive run. The executor derives the cutoff from the
// retention policy in force at run time.
func (s *StatsCronScheduler) runMonthly(ctx context.Context, now time.Time) {
	s.logger.Info("Starting monthly archive job")
	s.submit(ctx, NewJob(JobTypeArchive, TriggerCron, time.Time{}, now, s.config.Pool.RetryAttempts))
}

// TriggerNow submits one job outside its schedule with the scheduled period
func (s *StatsCronScheduler) TriggerNow(ctx context.Context, jobType JobType) (*Job, error) {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()
	if !running {
		return nil, ErrSchedulerNotRunning
	}

	now := s.now().In(s.config.Location)
	var job *Job
	switch jobType {
	case JobTypeReconcile:
		today := startOfDay(now)
		job = NewJob(jobType, TriggerManual, today.AddDate(0, 0, -s.config.ReconcileWindowDays), today, 0)
	case JobTypeArchive:
		job = NewJob(jobType, TriggerManual, time.Time{}, now, 0)
	case JobTypeCacheTrim:
		job = NewJob(jobType, TriggerManual, now, now, 0)
	default:
		return nil, ErrInvalidJobType
	}
	if err := s.submit(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *StatsCronScheduler) submit(ctx context.Context, job *Job) error {
	if s.recorder != nil {
		recordID, err := s.recorder.RecordJobStart(ctx, string(job.Type), string(job.Trigger))
		if err != nil {
			s.logger.Warn("Failed to record job start",
				zap.String("job_type", string(job.Type)),
				zap.Error(err),
			)
		} else {
			s.mu.Lock()
			s.records[job.ID] = recordID
			s.mu.Unlock()
		}
	}

	if err := s.pool.SubmitJob(job); err != nil {
		s.logger.Error("Failed to submit statistics job",
			zap.String("job_type", string(job.Type)),
			zap.Error(err),
		)
		job.Fail(err.Error())
		s.onJobDone(ctx, job)
		return err
	}
	return nil
}

// onJobDone closes the job record and remembers the outcome for Status
func (s *StatsCronScheduler) onJobDone(ctx context.Context, job *Job) {
	s.mu.Lock()
	recordID, ok := s.records[job.ID]
	delete(s.records, job.ID)
	s.last[job.Type] = JobRunStatus{
		Type:      job.Type,
		LastRunAt: job.StartedAt,
		LastState: job.Status,
		LastError: job.Error,
		Summary:   job.Summary,
	}
	s.mu.Unlock()

	if !ok || s.recorder == nil {
		return
	}
	// the job context may already be cancelled on shutdown
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.recorder.RecordJobComplete(recordCtx, recordID, job.Status == JobStatusSuccess, job.Summary, job.Error); err != nil {
		s.logger.Warn("Failed to record job completion",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}
}

// Status returns the schedule and last outcome of every job type
func (s *StatsCronScheduler) Status() SchedulerStatus {
	now := s.now().In(s.config.Location)
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{
		Enabled:   s.config.Enabled,
		IsRunning: s.isRunning,
		Timezone:  s.config.Location.String(),
	}
	for _, t := range AllJobTypes() {
		js := s.last[t]
		js.Type = t
		var spec CronSpec
		switch t {
		case JobTypeArchive:
			spec = s.monthly
		default:
			spec = s.nightly
		}
		js.Schedule = spec.String()
		next := spec.Next(now)
		js.NextRunAt = &next
		status.Jobs = append(status.Jobs, js)
	}
	return status
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
