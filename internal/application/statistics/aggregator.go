// Package statistics holds the sales statistics use cases: applying completed
// orders to the aggregate store, reconciling and archiving it, and serving
// cached reads to the dashboard and report collaborators.
package statistics

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/erp/backoffice/internal/infrastructure/cache"
	"github.com/erp/backoffice/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// DefaultDedupWindow is how long an applied order id is remembered
const DefaultDedupWindow = 7 * 24 * time.Hour

// Aggregator applies completed-order facts to the aggregate store
type Aggregator struct {
	repo        sales.AggregateRepository
	cache       *cache.TieredCache
	dedup       shared.IdempotencyStore
	dedupWindow time.Duration
	metrics     *telemetry.StatisticsMetrics
	loc         *time.Location
	logger      *zap.Logger
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithAggregatorCache sets the cache evicted after every applied fact
func WithAggregatorCache(c *cache.TieredCache) AggregatorOption {
	return func(a *Aggregator) {
		a.cache = c
	}
}

// WithDedupStore sets the fast-path dedup store checked before the durable ledger.
// Orders are recorded there only after their transaction commits.
func WithDedupStore(store shared.IdempotencyStore, window time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		a.dedup = store
		if window > 0 {
			a.dedupWindow = window
		}
	}
}

// WithAggregatorMetrics sets the business metrics recorder
func WithAggregatorMetrics(m *telemetry.StatisticsMetrics) AggregatorOption {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithAggregatorLocation sets the business timezone
func WithAggregatorLocation(loc *time.Location) AggregatorOption {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// WithAggregatorLogger sets the logger
func WithAggregatorLogger(logger *zap.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator creates an Aggregator
func NewAggregator(repo sales.AggregateRepository, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		repo:        repo,
		dedupWindow: DefaultDedupWindow,
		loc:         time.UTC,
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

// Apply adds one completed order to the daily, hourly, menu and category rows of
// its branch-day in a single transaction. It returns false with a nil error when
// the order was already applied. On error nothing was applied and the caller
// should retry.
func (a *Aggregator) Apply(ctx context.Context, fact *sales.OrderCompleted) (bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "Aggregator", "Apply",
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, fact.OrderID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrBranchID, fact.BranchID),
	)
	defer span.End()
	start := time.Now()

	if err := fact.Validate(); err != nil {
		a.metrics.RecordFact(ctx, fact.BranchID, telemetry.OutcomeRejected, time.Since(start))
		a.logger.Warn("Rejected invalid order fact",
			zap.String("order_id", fact.OrderID.String()),
			zap.Int64("branch_id", fact.BranchID),
			zap.Error(err),
		)
		return false, err
	}

	orderID := fact.OrderID.String()
	if a.dedup != nil {
		// only committed orders are ever marked, so a hit is always in the ledger
		seen, err := a.dedup.IsProcessed(ctx, orderID)
		switch {
		case err != nil:
			a.logger.Warn("Dedup fast path unavailable", zap.String("order_id", orderID), zap.Error(err))
		case seen:
			a.duplicate(ctx, fact, start)
			return false, nil
		}
	}

	applied, err := a.repo.ApplyFact(ctx, fact, a.loc)
	if err != nil {
		telemetry.RecordError(span, err)
		a.metrics.RecordFact(ctx, fact.BranchID, telemetry.OutcomeFailed, time.Since(start))
		a.logger.Error("Failed to apply order fact",
			zap.String("order_id", orderID),
			zap.Int64("branch_id", fact.BranchID),
			zap.Error(err),
		)
		return false, fmt.Errorf("apply order %s: %w", orderID, err)
	}
	a.remember(ctx, orderID)
	if !applied {
		a.duplicate(ctx, fact, start)
		return false, nil
	}

	if err := a.cache.EvictBranchData(ctx, fact.BranchID); err != nil {
		a.logger.Warn("Cache eviction after apply failed",
			zap.Int64("branch_id", fact.BranchID),
			zap.Error(err),
		)
	}

	elapsed := time.Since(start)
	a.metrics.RecordFact(ctx, fact.BranchID, telemetry.OutcomeApplied, elapsed)
	a.logger.Debug("Order fact applied",
		zap.String("order_id", orderID),
		zap.Int64("branch_id", fact.BranchID),
		zap.Time("sales_date", fact.SalesDate(a.loc)),
		zap.Duration("elapsed", elapsed),
	)
	return true, nil
}

// remember records a committed order in the fast path. The transaction is already
// durable, so this runs even when ctx was cancelled during the apply.
func (a *Aggregator) remember(ctx context.Context, orderID string) {
	if a.dedup == nil {
		return
	}
	if _, err := a.dedup.MarkProcessed(context.WithoutCancel(ctx), orderID, a.dedupWindow); err != nil {
		a.logger.Warn("Failed to record applied order in dedup store",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

func (a *Aggregator) duplicate(ctx context.Context, fact *sales.OrderCompleted, start time.Time) {
	a.metrics.RecordFact(ctx, fact.BranchID, telemetry.OutcomeDuplicate, time.Since(start))
	a.logger.Info("Skipping already applied order",
		zap.String("order_id", fact.OrderID.String()),
		zap.Int64("branch_id", fact.BranchID),
	)
}
