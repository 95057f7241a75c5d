package statistics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/erp/backoffice/internal/infrastructure/cache"
	"github.com/erp/backoffice/internal/infrastructure/logger"
	"github.com/erp/backoffice/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Correction levels reported in metrics and logs
const (
	LevelDaily    = "daily"
	LevelHourly   = "hourly"
	LevelMenu     = "menu"
	LevelCategory = "category"
)

// BranchFailure records a branch the reconciler could not finish
type BranchFailure struct {
	BranchID int64  `json:"branch_id"`
	Error    string `json:"error"`
}

// ReconcileResult is the outcome of one reconciler run
type ReconcileResult struct {
	Window          sales.DateRange `json:"window"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	BranchesChecked int             `json:"branches_checked"`
	DaysChecked     int             `json:"days_checked"`
	RowsCorrected   int             `json:"rows_corrected"`
	Failures        []BranchFailure `json:"failures,omitempty"`
	Cancelled       bool            `json:"cancelled"`
}

// Summary renders a human-readable report of the run
func (r *ReconcileResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "reconcile %s..%s: %d branches, %d branch-days checked, %d rows corrected",
		r.Window.From.Format("2006-01-02"), r.Window.To.Format("2006-01-02"),
		r.BranchesChecked, r.DaysChecked, r.RowsCorrected)
	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, ", %d branches failed", len(r.Failures))
	}
	if r.Cancelled {
		b.WriteString(", cancelled")
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "\n  branch %d: %s", f.BranchID, f.Error)
	}
	return b.String()
}

// DayReport describes what reconciling one branch-day changed
type DayReport struct {
	BranchID   int64     `json:"branch_id"`
	Date       time.Time `json:"date"`
	Daily      int       `json:"daily"`
	Hourly     int       `json:"hourly"`
	Menus      int       `json:"menus"`
	Categories int       `json:"categories"`
}

// Rows returns the number of rows rewritten
func (d DayReport) Rows() int {
	return d.Daily + d.Hourly + d.Menus + d.Categories
}

// Reconciler re-derives aggregates from raw orders and overwrites drifted rows
type Reconciler struct {
	repo    sales.AggregateRepository
	orders  sales.OrderSource
	cache   *cache.TieredCache
	metrics *telemetry.StatisticsMetrics
	loc     *time.Location
	logger  *zap.Logger
}

// ReconcilerOption configures a Reconciler
type ReconcilerOption func(*Reconciler)

// WithReconcilerCache sets the cache evicted for corrected branches
func WithReconcilerCache(c *cache.TieredCache) ReconcilerOption {
	return func(r *Reconciler) {
		r.cache = c
	}
}

// WithReconcilerMetrics sets the business metrics recorder
func WithReconcilerMetrics(m *telemetry.StatisticsMetrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithReconcilerLocation sets the business timezone
func WithReconcilerLocation(loc *time.Location) ReconcilerOption {
	return func(r *Reconciler) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithReconcilerLogger sets the logger
func WithReconcilerLogger(logger *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// NewReconciler creates a Reconciler
func NewReconciler(repo sales.AggregateRepository, orders sales.OrderSource, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		repo:   repo,
		orders: orders,
		loc:    time.UTC,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.NewTieredCache()
	}
	return r
}

// Run reconciles every branch with orders or aggregates in the business dates [from, to).
// Branches are processed one at a time; a failing branch is recorded and skipped.
// Cancellation stops the run between branch-days and keeps what was already corrected.
func (r *Reconciler) Run(ctx context.Context, from, to time.Time) (*ReconcileResult, error) {
	from, to = sales.DateOf(from, time.UTC), sales.DateOf(to, time.UTC)
	if !from.Before(to) {
		return nil, shared.NewDomainError("INVALID_INPUT", "reconcile window must end after it starts")
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "Reconciler", "Run",
		telemetry.WithAttribute(telemetry.SpanAttrSalesDate, from.Format("2006-01-02")),
	)
	defer span.End()
	log := logger.For(ctx, r.logger)

	result := &ReconcileResult{
		Window:    sales.DateRange{From: from, To: to},
		StartedAt: time.Now().UTC(),
	}
	defer func() { result.FinishedAt = time.Now().UTC() }()

	branches, err := r.branches(ctx, from, to)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	days := daysIn(from, to)
	total := len(branches) * len(days)

	log.Info("Starting reconciliation",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("branches", len(branches)),
	)

	done := 0
	reportProgress(ctx, done, total)
	for _, branchID := range branches {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		result.BranchesChecked++

		var branchErr error
		for _, day := range days {
			if ctx.Err() != nil {
				result.Cancelled = true
				break
			}
			report, err := r.ReconcileDay(ctx, branchID, day)
			done++
			reportProgress(ctx, done, total)
			if err != nil {
				branchErr = err
				break
			}
			result.DaysChecked++
			result.RowsCorrected += report.Rows()
		}

		if branchErr != nil && !errors.Is(branchErr, context.Canceled) {
			result.Failures = append(result.Failures, BranchFailure{BranchID: branchID, Error: branchErr.Error()})
			log.Error("Reconciliation failed for branch, continuing",
				zap.Int64("branch_id", branchID),
				zap.Error(branchErr),
			)
		}
		if result.Cancelled {
			break
		}
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrRows, result.RowsCorrected)
	log.Info("Reconciliation finished",
		zap.Int("branches_checked", result.BranchesChecked),
		zap.Int("days_checked", result.DaysChecked),
		zap.Int("rows_corrected", result.RowsCorrected),
		zap.Int("failed_branches", len(result.Failures)),
		zap.Bool("cancelled", result.Cancelled),
	)
	return result, nil
}

// branches returns the sorted union of branches with raw orders and with stored aggregates.
// Stored-only branches must be checked so rows with no backing orders get zeroed.
func (r *Reconciler) branches(ctx context.Context, from, to time.Time) ([]int64, error) {
	start, _ := sales.DayBounds(from, r.loc)
	end, _ := sales.DayBounds(to, r.loc)

	withOrders, err := r.orders.BranchesWithOrders(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list branches with orders: %w", err)
	}
	withRows, err := r.repo.BranchesWithAggregates(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list branches with aggregates: %w", err)
	}

	seen := make(map[int64]struct{}, len(withOrders)+len(withRows))
	for _, id := range withOrders {
		seen[id] = struct{}{}
	}
	for _, id := range withRows {
		seen[id] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ReconcileDay compares one branch-day against its raw orders and overwrites every
// drifted row. The orders are read while the branch-day is locked against incoming
// facts, and each of them is entered in the ledger so a late fact is not counted
// twice. Running it again without new orders changes nothing.
func (r *Reconciler) ReconcileDay(ctx context.Context, branchID int64, date time.Time) (DayReport, error) {
	date = sales.DateOf(date, time.UTC)
	report := DayReport{BranchID: branchID, Date: date}
	day := date.Format("2006-01-02")

	start, end := sales.DayBounds(date, r.loc)
	var correction *sales.DayCorrection
	err := r.repo.LockDay(ctx, branchID, date, func(ctx context.Context, store sales.DayStore) error {
		orders, err := r.orders.CompletedOrders(ctx, branchID, start, end)
		if err != nil {
			return fmt.Errorf("load orders for %s: %w", day, err)
		}
		truth := sales.Rollup(branchID, date, orders, r.loc)

		recorded, err := store.RecordApplied(ctx, orders, r.loc)
		if err != nil {
			return fmt.Errorf("record orders for %s: %w", day, err)
		}
		if recorded > 0 {
			r.logger.Info("Reconciled orders that had no applied fact",
				zap.Int64("branch_id", branchID),
				zap.String("date", day),
				zap.Int("orders", recorded),
			)
		}

		stored, err := store.LoadDay(ctx, branchID, date)
		if err != nil {
			return fmt.Errorf("load aggregates for %s: %w", day, err)
		}
		correction = r.diff(truth, stored)
		if correction.IsEmpty() {
			return nil
		}
		if err := store.ApplyCorrection(ctx, correction); err != nil {
			return fmt.Errorf("apply correction for %s: %w", day, err)
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	if correction == nil || correction.IsEmpty() {
		return report, nil
	}

	if correction.Daily != nil {
		report.Daily = 1
	}
	report.Hourly = len(correction.Hourly)
	report.Menus = len(correction.Menus)
	report.Categories = len(correction.Categories)

	if err := r.cache.EvictBranchData(ctx, branchID); err != nil {
		r.logger.Warn("Cache eviction after correction failed",
			zap.Int64("branch_id", branchID),
			zap.Error(err),
		)
	}

	r.metrics.RecordCorrections(ctx, branchID, LevelDaily, report.Daily)
	r.metrics.RecordCorrections(ctx, branchID, LevelHourly, report.Hourly)
	r.metrics.RecordCorrections(ctx, branchID, LevelMenu, report.Menus)
	r.metrics.RecordCorrections(ctx, branchID, LevelCategory, report.Categories)
	return report, nil
}

// diff builds the overwrite set. Rows missing on one side are compared against zero,
// so stored rows without backing orders are zeroed rather than deleted.
func (r *Reconciler) diff(truth, stored *sales.DaySnapshot) *sales.DayCorrection {
	c := &sales.DayCorrection{BranchID: truth.BranchID, Date: truth.Date}
	log := r.logger.With(zap.Int64("branch_id", truth.BranchID), zap.Time("date", truth.Date))

	if !truth.Daily.SameCounters(stored.Daily) {
		r.logSales(log, LevelDaily, nil, stored.Daily, truth.Daily)
		c.Daily = truth.Daily
	}

	for _, h := range sales.HourKeys(truth, stored) {
		want, ok := truth.Hourly[h]
		if !ok {
			want = sales.NewHourlyAggregate(truth.BranchID, truth.Date, h)
		}
		have, ok := stored.Hourly[h]
		if !ok {
			have = sales.NewHourlyAggregate(truth.BranchID, truth.Date, h)
		}
		if want.SameCounters(have) {
			continue
		}
		hour := h
		r.logSales(log, LevelHourly, &hour, have, want)
		c.Hourly = append(c.Hourly, want)
	}

	for _, id := range sales.MenuKeys(truth, stored) {
		have := stored.Menus[id]
		want, ok := truth.Menus[id]
		if !ok {
			want = &sales.MenuSalesAggregate{BranchID: truth.BranchID, MenuID: id, Date: truth.Date, MenuName: have.MenuName}
		}
		var before sales.ItemSales
		if have != nil {
			before = have.ItemSales
			if want.MenuName == "" {
				want.MenuName = have.MenuName
			}
		}
		if want.SameCounters(before) {
			continue
		}
		r.logItem(log, LevelMenu, id, before, want.ItemSales)
		c.Menus = append(c.Menus, want)
	}

	for _, id := range sales.CategoryKeys(truth, stored) {
		have := stored.Categories[id]
		want, ok := truth.Categories[id]
		if !ok {
			want = &sales.CategorySalesAggregate{BranchID: truth.BranchID, CategoryID: id, Date: truth.Date, CategoryName: have.CategoryName}
		}
		var before sales.ItemSales
		if have != nil {
			before = have.ItemSales
			if want.CategoryName == "" {
				want.CategoryName = have.CategoryName
			}
		}
		if want.SameCounters(before) {
			continue
		}
		r.logItem(log, LevelCategory, id, before, want.ItemSales)
		c.Categories = append(c.Categories, want)
	}
	return c
}

func (r *Reconciler) logSales(log *zap.Logger, level string, hour *int, before, after *sales.SalesAggregate) {
	fields := []zap.Field{
		zap.String("level", level),
		zap.Int64("before_order_count", before.OrderCount),
		zap.Int64("after_order_count", after.OrderCount),
		zap.String("before_total_sales", before.TotalSales.StringFixed(2)),
		zap.String("after_total_sales", after.TotalSales.StringFixed(2)),
		zap.String("before_discount_total", before.DiscountTotal.StringFixed(2)),
		zap.String("after_discount_total", after.DiscountTotal.StringFixed(2)),
	}
	if hour != nil {
		fields = append(fields, zap.Int("hour", *hour))
	}
	log.Warn("Correcting drifted sales aggregate", fields...)
}

func (r *Reconciler) logItem(log *zap.Logger, level string, id int64, before, after sales.ItemSales) {
	log.Warn("Correcting drifted item aggregate",
		zap.String("level", level),
		zap.Int64("item_id", id),
		zap.Int64("before_quantity", before.QuantitySold),
		zap.Int64("after_quantity", after.QuantitySold),
		zap.String("before_total_sales", before.TotalSales.StringFixed(2)),
		zap.String("after_total_sales", after.TotalSales.StringFixed(2)),
		zap.String("before_discount", before.Discount.StringFixed(2)),
		zap.String("after_discount", after.Discount.StringFixed(2)),
	)
}

// daysIn lists the UTC-midnight dates in [from, to)
func daysIn(from, to time.Time) []time.Time {
	var days []time.Time
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
