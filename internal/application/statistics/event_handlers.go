package statistics

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/erp/backoffice/internal/infrastructure/cache"
	"go.uber.org/zap"
)

// OrderCompletedHandler applies OrderCompletedEvent from the in-process bus
type OrderCompletedHandler struct {
	aggregator *Aggregator
	logger     *zap.Logger
}

// NewOrderCompletedHandler creates a new handler for order completed events
func NewOrderCompletedHandler(aggregator *Aggregator, logger *zap.Logger) *OrderCompletedHandler {
	return &OrderCompletedHandler{aggregator: aggregator, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *OrderCompletedHandler) EventTypes() []string {
	return []string{sales.EventTypeOrderCompleted}
}

// Handle applies the carried fact. Duplicates are not errors.
func (h *OrderCompletedHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	completed, ok := event.(*sales.OrderCompletedEvent)
	if !ok {
		h.logger.Error("unexpected event type",
			zap.String("expected", sales.EventTypeOrderCompleted),
			zap.String("actual", event.EventType()),
		)
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			sales.EventTypeOrderCompleted, event.EventType())
	}

	_, err := h.aggregator.Apply(ctx, &completed.Fact)
	return err
}

// SalesDataChangedHandler reacts to sales data modified outside the aggregation path.
// It re-derives the named dates when a reconciler is available and always evicts the
// branch's cached reads.
type SalesDataChangedHandler struct {
	reconciler *Reconciler
	cache      *cache.TieredCache
	logger     *zap.Logger
}

// NewSalesDataChangedHandler creates the handler. reconciler may be nil, in which case
// only cache eviction happens.
func NewSalesDataChangedHandler(reconciler *Reconciler, c *cache.TieredCache, logger *zap.Logger) *SalesDataChangedHandler {
	if c == nil {
		c = cache.NewTieredCache()
	}
	return &SalesDataChangedHandler{reconciler: reconciler, cache: c, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *SalesDataChangedHandler) EventTypes() []string {
	return []string{sales.EventTypeSalesDataChanged}
}

// Handle processes a SalesDataChangedEvent
func (h *SalesDataChangedHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	changed, ok := event.(*sales.SalesDataChangedEvent)
	if !ok {
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			sales.EventTypeSalesDataChanged, event.EventType())
	}

	h.logger.Info("processing sales data changed event",
		zap.Int64("branch_id", changed.BranchID),
		zap.Int("dates", len(changed.Dates)),
		zap.String("reason", changed.Reason),
	)

	if h.reconciler != nil {
		seen := make(map[time.Time]struct{}, len(changed.Dates))
		for _, d := range changed.Dates {
			date := sales.DateOf(d, time.UTC)
			if _, dup := seen[date]; dup {
				continue
			}
			seen[date] = struct{}{}
			if _, err := h.reconciler.ReconcileDay(ctx, changed.BranchID, date); err != nil {
				return fmt.Errorf("reconcile branch %d on %s: %w", changed.BranchID, date.Format("2006-01-02"), err)
			}
		}
	}

	if err := h.cache.EvictBranchData(ctx, changed.BranchID); err != nil {
		return fmt.Errorf("evict branch %d: %w", changed.BranchID, err)
	}
	return nil
}
