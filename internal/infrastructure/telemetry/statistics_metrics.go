package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/backoffice/internal/infrastructure/cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Fact outcomes recorded on backoffice.facts.applied
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// StatisticsMetrics records the aggregation engine's business metrics.
// It satisfies cache.Observer so the tiered cache reports hits and misses per tier.
type StatisticsMetrics struct {
	factsApplied  *Counter
	applyDuration *Histogram
	cacheLookups  *Counter
	corrections   *Counter
	archivedRows  *Counter
	jobDuration   *Histogram
	l1Entries     *Gauge
}

var _ cache.Observer = (*StatisticsMetrics)(nil)

// NewStatisticsMetrics registers the instruments on the given meter.
func NewStatisticsMetrics(meter metric.Meter) (*StatisticsMetrics, error) {
	var (
		m   StatisticsMetrics
		err error
	)

	if m.factsApplied, err = NewCounter(meter,
		"backoffice.facts.applied", "Order facts processed by the incremental aggregator", "{fact}"); err != nil {
		return nil, err
	}
	if m.applyDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "backoffice.facts.apply.duration",
		Description: "Time to apply one order fact to every aggregate",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = NewCounter(meter,
		"backoffice.cache.lookups", "Statistics cache lookups by tier", "{lookup}"); err != nil {
		return nil, err
	}
	if m.corrections, err = NewCounter(meter,
		"backoffice.reconcile.corrections", "Aggregate rows overwritten by reconciliation", "{row}"); err != nil {
		return nil, err
	}
	if m.archivedRows, err = NewCounter(meter,
		"backoffice.archive.rows", "Rows moved out of the hot tables", "{row}"); err != nil {
		return nil, err
	}
	if m.jobDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "backoffice.job.duration",
		Description: "Reconcile and archive run duration",
		Unit:        "s",
		Boundaries:  JobDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.l1Entries, err = NewGauge(meter,
		"backoffice.cache.l1.entries", "Entries held in the in-process cache", "{entry}"); err != nil {
		return nil, fmt.Errorf("statistics metrics: %w", err)
	}

	return &m, nil
}

// RecordFact counts one processed fact with its outcome and apply latency.
func (m *StatisticsMetrics) RecordFact(ctx context.Context, branchID int64, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrBranchID.Int64(branchID), AttrOutcome.String(outcome)}
	m.factsApplied.Inc(ctx, attrs...)
	if outcome == OutcomeApplied {
		m.applyDuration.RecordDuration(ctx, d, AttrBranchID.Int64(branchID))
	}
}

// CacheLookup implements cache.Observer.
func (m *StatisticsMetrics) CacheLookup(ctx context.Context, ns cache.Namespace, tier string, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.Inc(ctx,
		AttrNamespace.String(string(ns)),
		AttrTier.String(tier),
		AttrHit.Bool(hit),
	)
}

// RecordCorrections counts rows rewritten for one branch, split by level (daily, hourly, menu, category).
func (m *StatisticsMetrics) RecordCorrections(ctx context.Context, branchID int64, level string, rows int) {
	if m == nil || rows == 0 {
		return
	}
	m.corrections.Add(ctx, int64(rows), AttrBranchID.Int64(branchID), AttrLevel.String(level))
}

// RecordArchived counts rows archived for one target.
func (m *StatisticsMetrics) RecordArchived(ctx context.Context, target string, rows int64) {
	if m == nil || rows == 0 {
		return
	}
	m.archivedRows.Add(ctx, rows, AttrTarget.String(target))
}

// RecordJob records how long a scheduled or manual job ran.
func (m *StatisticsMetrics) RecordJob(ctx context.Context, jobType string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.jobDuration.RecordDuration(ctx, d, AttrJobType.String(jobType), AttrOutcome.String(outcome))
}

// RecordCacheSize reports the current L1 entry count.
func (m *StatisticsMetrics) RecordCacheSize(ctx context.Context, entries int) {
	if m == nil {
		return
	}
	m.l1Entries.Record(ctx, int64(entries))
}
