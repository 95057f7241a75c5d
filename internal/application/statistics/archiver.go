package statistics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/erp/backoffice/internal/infrastructure/cache"
	"github.com/erp/backoffice/internal/infrastructure/telemetry"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// ErrArchivingDisabled is returned by scheduled runs while the policy is disabled
var ErrArchivingDisabled = shared.NewDomainError("ARCHIVING_DISABLED", "archiving is disabled by policy")

// maxBatchErrors caps the error strings kept per target
const maxBatchErrors = 10

// Archiver removes rows older than the retention horizon in bounded batches
type Archiver struct {
	repo        sales.ArchiveRepository
	cold        sales.ColdStorage
	cache       *cache.TieredCache
	metrics     *telemetry.StatisticsMetrics
	dedupWindow time.Duration
	logger      *zap.Logger

	mu     sync.RWMutex
	policy sales.ArchivePolicy
}

// ArchiverOption configures an Archiver
type ArchiverOption func(*Archiver)

// WithColdStorage sets where batches are copied in cold-storage mode
func WithColdStorage(cold sales.ColdStorage) ArchiverOption {
	return func(a *Archiver) {
		a.cold = cold
	}
}

// WithArchiverCache sets the cache evicted after rows are removed
func WithArchiverCache(c *cache.TieredCache) ArchiverOption {
	return func(a *Archiver) {
		a.cache = c
	}
}

// WithArchiverMetrics sets the business metrics recorder
func WithArchiverMetrics(m *telemetry.StatisticsMetrics) ArchiverOption {
	return func(a *Archiver) {
		a.metrics = m
	}
}

// WithLedgerRetention sets how long applied order ids stay in the dedup ledger
func WithLedgerRetention(d time.Duration) ArchiverOption {
	return func(a *Archiver) {
		if d > 0 {
			a.dedupWindow = d
		}
	}
}

// WithArchiverLogger sets the logger
func WithArchiverLogger(logger *zap.Logger) ArchiverOption {
	return func(a *Archiver) {
		a.logger = logger
	}
}

// NewArchiver creates an Archiver
func NewArchiver(repo sales.ArchiveRepository, policy sales.ArchivePolicy, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		repo:        repo,
		policy:      policy.Normalize(),
		dedupWindow: DefaultDedupWindow,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cache == nil {
		a.cache = cache.NewTieredCache()
	}
	return a
}

// Policy returns the current retention policy
func (a *Archiver) Policy() sales.ArchivePolicy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.policy
}

// SetPolicy replaces the retention policy. Runs already in progress keep the policy they started with.
func (a *Archiver) SetPolicy(p sales.ArchivePolicy) error {
	p = p.Normalize()
	if p.Mode != sales.ArchiveModeDelete && p.Mode != sales.ArchiveModeColdStorage {
		return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("unknown archive mode %q", p.Mode))
	}
	if p.Mode == sales.ArchiveModeColdStorage && a.cold == nil {
		return shared.NewDomainError("INVALID_INPUT", "cold storage mode requires a configured storage bucket")
	}
	a.mu.Lock()
	a.policy = p
	a.mu.Unlock()
	a.logger.Info("Archive policy updated",
		zap.Bool("enabled", p.Enabled),
		zap.Int("retention_days", p.RetentionDays),
		zap.Int("batch_size", p.BatchSize),
		zap.String("mode", string(p.Mode)),
	)
	return nil
}

// Run archives everything older than the retention horizon, then prunes the dedup
// ledger past its window. It returns ErrArchivingDisabled when the policy is off.
func (a *Archiver) Run(ctx context.Context, now time.Time) (*sales.ArchiveResult, error) {
	policy := a.Policy()
	if !policy.Enabled {
		a.logger.Info("Archiving disabled, skipping scheduled run")
		return nil, ErrArchivingDisabled
	}

	cutoff := sales.DateOf(policy.Cutoff(now), time.UTC)
	result := a.archive(ctx, policy, sales.DateRange{To: cutoff})

	if ctx.Err() == nil {
		ledgerPolicy := policy
		ledgerPolicy.Mode = sales.ArchiveModeDelete
		ledger := a.archiveTarget(ctx, ledgerPolicy, sales.TargetFactLedger, sales.DateRange{To: now.Add(-a.dedupWindow)})
		result.Targets = append(result.Targets, ledger)
	} else {
		result.Cancelled = true
	}
	result.FinishedAt = time.Now().UTC()
	return result, nil
}

// RunRange archives rows in an explicit date range. It is allowed while the
// scheduled policy is disabled but never reaches into the future.
func (a *Archiver) RunRange(ctx context.Context, rng sales.DateRange) (*sales.ArchiveResult, error) {
	if rng.To.IsZero() {
		return nil, shared.NewDomainError("INVALID_INPUT", "archive range needs an end date")
	}
	if rng.To.After(time.Now()) {
		return nil, shared.NewDomainError("INVALID_INPUT", "archive range cannot end in the future")
	}
	if !rng.From.IsZero() && !rng.From.Before(rng.To) {
		return nil, shared.NewDomainError("INVALID_INPUT", "archive range must end after it starts")
	}
	result := a.archive(ctx, a.Policy(), rng)
	result.FinishedAt = time.Now().UTC()
	return result, nil
}

func (a *Archiver) archive(ctx context.Context, policy sales.ArchivePolicy, rng sales.DateRange) *sales.ArchiveResult {
	ctx, span := telemetry.StartServiceSpan(ctx, "Archiver", "Run")
	defer span.End()

	result := &sales.ArchiveResult{StartedAt: time.Now().UTC(), Range: rng}
	a.logger.Info("Starting archive run",
		zap.Time("from", rng.From),
		zap.Time("to", rng.To),
		zap.String("mode", string(policy.Mode)),
		zap.Int("batch_size", policy.BatchSize),
	)

	targets := sales.RetentionTargets()
	for i, target := range targets {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		result.Targets = append(result.Targets, a.archiveTarget(ctx, policy, target, rng))
		reportProgress(ctx, i+1, len(targets))
	}
	if ctx.Err() != nil {
		result.Cancelled = true
	}

	if result.TotalArchived() > 0 {
		for _, ns := range cache.SalesNamespaces() {
			if err := a.cache.Evict(ctx, ns); err != nil {
				a.logger.Warn("Cache eviction after archive failed", zap.String("namespace", string(ns)), zap.Error(err))
			}
		}
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrRows, result.TotalArchived())
	a.logger.Info("Archive run finished",
		zap.Int64("archived", result.TotalArchived()),
		zap.Int("failed_batches", result.FailedBatches()),
		zap.Bool("cancelled", result.Cancelled),
	)
	return result
}

// archiveTarget walks one table in key order. A failed batch is recorded and
// skipped; the walk resumes after its last key.
func (a *Archiver) archiveTarget(ctx context.Context, policy sales.ArchivePolicy, target sales.ArchiveTarget, rng sales.DateRange) sales.TargetResult {
	res := sales.TargetResult{Target: target}
	log := a.logger.With(zap.String("target", string(target)))

	telemetry.WithProfilingLabels(ctx, map[string]string{telemetry.ProfilingLabelTarget: string(target)}, func(ctx context.Context) {
		count, err := a.repo.Count(ctx, target, rng)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			log.Error("Failed to count archivable rows", zap.Error(err))
			return
		}
		res.Selected = count
		if count == 0 {
			return
		}

		cursor := ""
		for ctx.Err() == nil {
			batch, err := a.repo.NextBatch(ctx, target, rng, cursor, policy.BatchSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// without a batch there is no cursor to resume from
				res.FailedBatches++
				addBatchError(&res, err)
				log.Error("Failed to select archive batch", zap.String("after", cursor), zap.Error(err))
				return
			}
			if batch.Len() == 0 {
				return
			}
			res.Batches++

			n, err := a.processBatch(ctx, policy, batch)
			if err != nil {
				res.FailedBatches++
				addBatchError(&res, err)
				log.Error("Archive batch failed, continuing",
					zap.String("first_key", batch.Keys[0]),
					zap.Int("rows", batch.Len()),
					zap.Error(err),
				)
			} else {
				res.Archived += n
				a.metrics.RecordArchived(ctx, string(target), n)
			}

			if batch.Len() < policy.BatchSize {
				return
			}
			cursor = batch.Cursor
		}
	})
	return res
}

func addBatchError(res *sales.TargetResult, err error) {
	if len(res.Errors) < maxBatchErrors {
		res.Errors = append(res.Errors, err.Error())
	}
}

func (a *Archiver) processBatch(ctx context.Context, policy sales.ArchivePolicy, batch *sales.ArchiveBatch) (int64, error) {
	if policy.Mode == sales.ArchiveModeColdStorage {
		if a.cold == nil {
			return 0, fmt.Errorf("cold storage is not configured")
		}
		body, err := json.Marshal(batch.Rows)
		if err != nil {
			return 0, fmt.Errorf("encode batch: %w", err)
		}
		key := coldStorageKey(batch.Target, time.Now().UTC())
		if err := a.cold.Put(ctx, key, body); err != nil {
			return 0, fmt.Errorf("write batch to cold storage: %w", err)
		}
	}
	n, err := a.repo.DeleteBatch(ctx, batch.Target, batch.Keys)
	if err != nil {
		return 0, fmt.Errorf("delete batch: %w", err)
	}
	return n, nil
}

// coldStorageKey names an object target/yyyy/mm/dd/<ulid>.json
func coldStorageKey(target sales.ArchiveTarget, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", target, now.Format("2006/01/02"), ulid.Make().String())
}

// Stats counts rows per table by age, alongside the current policy
func (a *Archiver) Stats(ctx context.Context, now time.Time) (*sales.ArchiveStats, error) {
	stats := &sales.ArchiveStats{Policy: a.Policy()}
	thresholds := []time.Time{
		sales.DateOf(now.AddDate(-1, 0, 0), time.UTC),
		sales.DateOf(now.AddDate(0, -6, 0), time.UTC),
		sales.DateOf(now.AddDate(0, -3, 0), time.UTC),
	}

	for _, target := range append(sales.RetentionTargets(), sales.TargetFactLedger) {
		row := sales.AgeBreakdown{Target: target}
		counts := make([]int64, 0, len(thresholds)+1)
		for _, to := range append([]time.Time{{}}, thresholds...) {
			n, err := a.repo.Count(ctx, target, sales.DateRange{To: to})
			if err != nil {
				return nil, fmt.Errorf("count %s: %w", target, err)
			}
			counts = append(counts, n)
		}
		row.Total, row.OlderThan1Y, row.OlderThan6M, row.OlderThan3M = counts[0], counts[1], counts[2], counts[3]
		stats.Tables = append(stats.Tables, row)
	}
	return stats, nil
}
