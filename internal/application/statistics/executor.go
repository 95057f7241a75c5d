package statistics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/infrastructure/cache"
	"github.com/erp/backoffice/internal/infrastructure/logger"
	"github.com/erp/backoffice/internal/infrastructure/scheduler"
	"github.com/erp/backoffice/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// JobExecutor runs scheduler jobs against the statistics services. It implements
// scheduler.JobExecutor.
type JobExecutor struct {
	reconciler *Reconciler
	archiver   *Archiver
	cache      *cache.TieredCache
	guard      scheduler.RunGuard
	metrics    *telemetry.StatisticsMetrics
	loc        *time.Location
	logger     *zap.Logger
}

// NewJobExecutor creates a JobExecutor. A nil guard means a process-local guard.
func NewJobExecutor(
	reconciler *Reconciler,
	archiver *Archiver,
	c *cache.TieredCache,
	guard scheduler.RunGuard,
	metrics *telemetry.StatisticsMetrics,
	loc *time.Location,
	logger *zap.Logger,
) *JobExecutor {
	if guard == nil {
		guard = scheduler.NewLocalRunGuard()
	}
	if c == nil {
		c = cache.NewTieredCache()
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobExecutor{
		reconciler: reconciler,
		archiver:   archiver,
		cache:      c,
		guard:      guard,
		metrics:    metrics,
		loc:        loc,
		logger:     logger,
	}
}

// Guard returns the run guard shared with manual jobs
func (e *JobExecutor) Guard() scheduler.RunGuard {
	return e.guard
}

// Execute acquires the job's run guard and runs it. An overlapping run returns
// shared.ErrAlreadyRunning, which the scheduler records as skipped.
func (e *JobExecutor) Execute(ctx context.Context, job *scheduler.Job) error {
	ctx = logger.WithJobID(ctx, job.ID.String())
	release, err := e.guard.Acquire(ctx, string(job.Type))
	if err != nil {
		logger.For(ctx, e.logger).Info("Job already running elsewhere, skipping",
			zap.String("job_type", string(job.Type)),
			zap.Error(err),
		)
		return err
	}
	defer release()
	return e.run(ctx, job)
}

// run executes a job whose guard is already held
func (e *JobExecutor) run(ctx context.Context, job *scheduler.Job) error {
	ctx = logger.WithJobID(ctx, job.ID.String())
	ctx, span := telemetry.StartServiceSpan(ctx, "JobExecutor", string(job.Type),
		telemetry.WithAttribute(telemetry.SpanAttrJobID, job.ID.String()),
	)
	defer span.End()

	start := time.Now()
	var err error
	telemetry.WithProfilingLabels(ctx, map[string]string{telemetry.ProfilingLabelJob: string(job.Type)}, func(ctx context.Context) {
		switch job.Type {
		case scheduler.JobTypeReconcile:
			err = e.reconcile(ctx, job)
		case scheduler.JobTypeArchive:
			err = e.archive(ctx, job)
		case scheduler.JobTypeCacheTrim:
			err = e.trimCache(ctx, job)
		default:
			err = fmt.Errorf("%w: %s", scheduler.ErrInvalidJobType, job.Type)
		}
	})
	e.metrics.RecordJob(ctx, string(job.Type), time.Since(start), err)
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}

// reconcile fails the job when any branch failed so the scheduler retries it.
// Reconciling is idempotent, so already-corrected branches are unaffected by the retry.
func (e *JobExecutor) reconcile(ctx context.Context, job *scheduler.Job) error {
	if e.reconciler == nil {
		return errors.New("reconciler is not configured")
	}
	from := sales.DateOf(job.PeriodStart, e.loc)
	to := sales.DateOf(job.PeriodEnd, e.loc)
	result, err := e.reconciler.Run(ctx, from, to)
	if err != nil {
		return err
	}
	job.Summary = result.Summary()
	if len(result.Failures) > 0 {
		return fmt.Errorf("reconciliation failed for %d branches", len(result.Failures))
	}
	return nil
}

// archive treats failed batches as a partial success; they are retried by the next run.
func (e *JobExecutor) archive(ctx context.Context, job *scheduler.Job) error {
	if e.archiver == nil {
		return errors.New("archiver is not configured")
	}
	var (
		result *sales.ArchiveResult
		err    error
	)
	if job.PeriodStart.IsZero() {
		result, err = e.archiver.Run(ctx, job.PeriodEnd)
	} else {
		result, err = e.archiver.RunRange(ctx, sales.DateRange{From: job.PeriodStart, To: job.PeriodEnd})
	}
	if errors.Is(err, ErrArchivingDisabled) {
		job.Summary = "archiving disabled"
		return nil
	}
	if err != nil {
		return err
	}
	job.Summary = result.Summary()
	return nil
}

func (e *JobExecutor) trimCache(ctx context.Context, job *scheduler.Job) error {
	evicted, err := e.cache.TrimRealtime(ctx)
	if err != nil {
		return fmt.Errorf("trim realtime cache: %w", err)
	}
	stats := e.cache.Stats()
	e.metrics.RecordCacheSize(ctx, stats.L1Entries)
	job.Summary = fmt.Sprintf("evicted %d realtime entries, %d L1 entries remain", evicted, stats.L1Entries)
	return nil
}
