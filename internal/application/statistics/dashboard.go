package statistics

import (
	"context"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/infrastructure/cache"
	"github.com/erp/backoffice/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	trendDays          = 7
	defaultTopProducts = 5
	maxTopProducts     = 100
)

// TrendPoint is one day of a sales trend
type TrendPoint struct {
	Date       time.Time       `json:"date"`
	TotalSales decimal.Decimal `json:"total_sales"`
	OrderCount int64           `json:"order_count"`
}

// TopProduct is one row of a best-seller ranking
type TopProduct struct {
	MenuID       int64           `json:"menu_id"`
	MenuName     string          `json:"menu_name"`
	QuantitySold int64           `json:"quantity_sold"`
	TotalSales   decimal.Decimal `json:"total_sales"`
	NetSales     decimal.Decimal `json:"net_sales"`
}

// KpiSnapshot groups the headline figures of a branch, or of every branch when BranchID is zero
type KpiSnapshot struct {
	BranchID    int64                `json:"branch_id"`
	Date        time.Time            `json:"date"`
	Today       sales.SalesAggregate `json:"today"`
	Yesterday   sales.SalesAggregate `json:"yesterday"`
	Last7Days   sales.SalesAggregate `json:"last_7_days"`
	MonthToDate sales.SalesAggregate `json:"month_to_date"`
}

// IsEmpty reports whether no period has any sales
func (k *KpiSnapshot) IsEmpty() bool {
	return k.Today.IsEmpty() && k.Yesterday.IsEmpty() && k.Last7Days.IsEmpty() && k.MonthToDate.IsEmpty()
}

// HQKpiSnapshot is the head-office view: KPIs summed over non-headquarters branches
type HQKpiSnapshot struct {
	KpiSnapshot
	ActiveBranches        int   `json:"active_branches"`
	PendingSupplyRequests int64 `json:"pending_supply_requests"`
}

// IsEmpty reports whether there is nothing worth caching
func (h *HQKpiSnapshot) IsEmpty() bool {
	return h.KpiSnapshot.IsEmpty() && h.ActiveBranches == 0 && h.PendingSupplyRequests == 0
}

// Dashboard composes cached aggregates into widget views. Every method degrades to a
// zero-valued result on error; errors are logged, never returned.
type Dashboard struct {
	repo     sales.AggregateRepository
	branches sales.BranchDirectory
	supply   sales.SupplyRequestCounter
	cache    *cache.TieredCache
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// DashboardOption configures a Dashboard
type DashboardOption func(*Dashboard)

// WithDashboardCache sets the read-through cache
func WithDashboardCache(c *cache.TieredCache) DashboardOption {
	return func(d *Dashboard) {
		d.cache = c
	}
}

// WithDashboardLocation sets the business timezone that defines "today"
func WithDashboardLocation(loc *time.Location) DashboardOption {
	return func(d *Dashboard) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// WithDashboardClock overrides the clock
func WithDashboardClock(now func() time.Time) DashboardOption {
	return func(d *Dashboard) {
		d.now = now
	}
}

// WithDashboardLogger sets the logger
func WithDashboardLogger(logger *zap.Logger) DashboardOption {
	return func(d *Dashboard) {
		d.logger = logger
	}
}

// NewDashboard creates a Dashboard. The branch directory and supply counter are only
// used by HQKpis and may be nil.
func NewDashboard(repo sales.AggregateRepository, branches sales.BranchDirectory, supply sales.SupplyRequestCounter, opts ...DashboardOption) *Dashboard {
	d := &Dashboard{
		repo:     repo,
		branches: branches,
		supply:   supply,
		loc:      time.UTC,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cache == nil {
		d.cache = cache.NewTieredCache()
	}
	return d
}

func (d *Dashboard) today() time.Time {
	return sales.DateOf(d.now(), d.loc)
}

// TodaySales returns today's daily aggregate for a branch, or every branch for AllBranches.
// A day without orders yields a zero aggregate.
func (d *Dashboard) TodaySales(ctx context.Context, branchID int64) *sales.SalesAggregate {
	ctx, span := telemetry.StartServiceSpan(ctx, "Dashboard", "TodaySales",
		telemetry.WithAttribute(telemetry.SpanAttrBranchID, branchID),
	)
	defer span.End()

	today := d.today()
	key := cache.Key("todaySales", branchID, today)
	agg, err := cache.Fetch(ctx, d.cache, cache.NamespaceTodaySales, key, func(ctx context.Context) (*sales.SalesAggregate, error) {
		return d.sumDaily(ctx, sales.ForBranch(branchID, today, today.AddDate(0, 0, 1)))
	})
	if err != nil || agg == nil {
		d.degraded("TodaySales", branchID, err)
		return sales.NewDailyAggregate(branchID, today)
	}
	return agg
}

// WeeklyTrend returns the seven days before today in chronological order, with zeros
// for days without sales
func (d *Dashboard) WeeklyTrend(ctx context.Context, branchID int64) []TrendPoint {
	ctx, span := telemetry.StartServiceSpan(ctx, "Dashboard", "WeeklyTrend",
		telemetry.WithAttribute(telemetry.SpanAttrBranchID, branchID),
	)
	defer span.End()

	today := d.today()
	from := today.AddDate(0, 0, -trendDays)
	key := cache.Key("weeklySalesTrend", branchID, from, today)
	points, err := cache.Fetch(ctx, d.cache, cache.NamespaceWeeklySalesTrend, key, func(ctx context.Context) ([]TrendPoint, error) {
		rows, err := d.repo.DailyByDate(ctx, sales.ForBranch(branchID, from, today))
		if err != nil {
			return nil, err
		}
		return fillTrend(from, trendDays, rows), nil
	})
	if err != nil || len(points) != trendDays {
		d.degraded("WeeklyTrend", branchID, err)
		return fillTrend(from, trendDays, nil)
	}
	return points
}

// fillTrend lays rows onto consecutive dates starting at from
func fillTrend(from time.Time, days int, rows []sales.SalesAggregate) []TrendPoint {
	byDate := make(map[time.Time]sales.SalesAggregate, len(rows))
	for _, r := range rows {
		byDate[sales.DateOf(r.Date, time.UTC)] = r
	}
	points := make([]TrendPoint, days)
	for i := range points {
		date := from.AddDate(0, 0, i)
		points[i] = TrendPoint{Date: date, TotalSales: decimal.Zero}
		if r, ok := byDate[date]; ok {
			points[i].TotalSales = r.TotalSales
			points[i].OrderCount = r.OrderCount
		}
	}
	return points
}

// TopProducts ranks menus by sales over the seven days before today
func (d *Dashboard) TopProducts(ctx context.Context, branchID int64, limit int) []TopProduct {
	ctx, span := telemetry.StartServiceSpan(ctx, "Dashboard", "TopProducts",
		telemetry.WithAttribute(telemetry.SpanAttrBranchID, branchID),
	)
	defer span.End()

	if limit <= 0 {
		limit = defaultTopProducts
	}
	if limit > maxTopProducts {
		limit = maxTopProducts
	}
	today := d.today()
	from := today.AddDate(0, 0, -trendDays)
	key := cache.Key("topProducts", branchID, from, today, limit)
	products, err := cache.Fetch(ctx, d.cache, cache.NamespaceTopProducts, key, func(ctx context.Context) ([]TopProduct, error) {
		rows, err := d.repo.MenuRanking(ctx, sales.ForBranch(branchID, from, today), limit)
		if err != nil {
			return nil, err
		}
		out := make([]TopProduct, 0, len(rows))
		for _, r := range rows {
			out = append(out, TopProduct{
				MenuID:       r.MenuID,
				MenuName:     r.MenuName,
				QuantitySold: r.QuantitySold,
				TotalSales:   r.TotalSales,
				NetSales:     r.NetSales,
			})
		}
		return out, nil
	})
	if err != nil {
		d.degraded("TopProducts", branchID, err)
		return []TopProduct{}
	}
	if products == nil {
		return []TopProduct{}
	}
	return products
}

// BranchKpis returns today, yesterday, the trailing week and month-to-date for a branch
func (d *Dashboard) BranchKpis(ctx context.Context, branchID int64) *KpiSnapshot {
	ctx, span := telemetry.StartServiceSpan(ctx, "Dashboard", "BranchKpis",
		telemetry.WithAttribute(telemetry.SpanAttrBranchID, branchID),
	)
	defer span.End()

	today := d.today()
	key := cache.Key("branchKpis", branchID, today)
	kpis, err := cache.Fetch(ctx, d.cache, cache.NamespaceDashboardKpis, key, func(ctx context.Context) (*KpiSnapshot, error) {
		var ids []int64
		if branchID != sales.AllBranches {
			ids = []int64{branchID}
		}
		return d.kpis(ctx, branchID, ids, today)
	})
	if err != nil || kpis == nil {
		d.degraded("BranchKpis", branchID, err)
		return zeroKpis(branchID, today)
	}
	return kpis
}

// HQKpis sums KPIs over active non-headquarters branches and adds the counts owned by
// other services
func (d *Dashboard) HQKpis(ctx context.Context) *HQKpiSnapshot {
	ctx, span := telemetry.StartServiceSpan(ctx, "Dashboard", "HQKpis")
	defer span.End()

	today := d.today()
	key := cache.Key("hqKpis", sales.AllBranches, today)
	hq, err := cache.Fetch(ctx, d.cache, cache.NamespaceDashboardKpis, key, func(ctx context.Context) (*HQKpiSnapshot, error) {
		out := &HQKpiSnapshot{KpiSnapshot: *zeroKpis(sales.AllBranches, today)}

		ids, err := d.storeBranchIDs(ctx)
		if err != nil {
			return nil, err
		}
		out.ActiveBranches = len(ids)
		if len(ids) > 0 {
			kpis, err := d.kpis(ctx, sales.AllBranches, ids, today)
			if err != nil {
				return nil, err
			}
			out.KpiSnapshot = *kpis
		}

		if d.supply != nil {
			pending, err := d.supply.CountPending(ctx)
			if err != nil {
				return nil, err
			}
			out.PendingSupplyRequests = pending
		}
		return out, nil
	})
	if err != nil || hq == nil {
		d.degraded("HQKpis", sales.AllBranches, err)
		return &HQKpiSnapshot{KpiSnapshot: *zeroKpis(sales.AllBranches, today)}
	}
	return hq
}

// storeBranchIDs lists active branches other than headquarters
func (d *Dashboard) storeBranchIDs(ctx context.Context) ([]int64, error) {
	if d.branches == nil {
		return nil, nil
	}
	branches, err := d.branches.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, b := range branches {
		if b.Active && !b.Headquarters {
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

// kpis computes a snapshot. ids must be non-empty to restrict the branch set; an empty
// slice selects every branch.
func (d *Dashboard) kpis(ctx context.Context, branchID int64, ids []int64, today time.Time) (*KpiSnapshot, error) {
	filter := func(from, to time.Time) sales.AggregateFilter {
		return sales.AggregateFilter{BranchIDs: ids, From: from, To: to}
	}
	tomorrow := today.AddDate(0, 0, 1)
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)

	periods := []struct {
		dst  *sales.SalesAggregate
		from time.Time
		to   time.Time
	}{
		{from: today, to: tomorrow},
		{from: today.AddDate(0, 0, -1), to: today},
		{from: today.AddDate(0, 0, -trendDays), to: today},
		{from: monthStart, to: tomorrow},
	}
	out := zeroKpis(branchID, today)
	periods[0].dst = &out.Today
	periods[1].dst = &out.Yesterday
	periods[2].dst = &out.Last7Days
	periods[3].dst = &out.MonthToDate

	for _, p := range periods {
		sum, err := d.sumDaily(ctx, filter(p.from, p.to))
		if err != nil {
			return nil, err
		}
		sum.BranchID = branchID
		sum.Date = p.from
		*p.dst = *sum
	}
	return out, nil
}

// sumDaily folds the daily rows matched by filter into one aggregate dated at filter.From
func (d *Dashboard) sumDaily(ctx context.Context, filter sales.AggregateFilter) (*sales.SalesAggregate, error) {
	rows, err := d.repo.DailyByDate(ctx, filter)
	if err != nil {
		return nil, err
	}
	branchID := sales.AllBranches
	if len(filter.BranchIDs) == 1 {
		branchID = filter.BranchIDs[0]
	}
	sum := sales.NewDailyAggregate(branchID, filter.From)
	for _, r := range rows {
		sum.Merge(r)
	}
	return sum, nil
}

func zeroKpis(branchID int64, today time.Time) *KpiSnapshot {
	return &KpiSnapshot{
		BranchID:    branchID,
		Date:        today,
		Today:       *sales.NewDailyAggregate(branchID, today),
		Yesterday:   *sales.NewDailyAggregate(branchID, today.AddDate(0, 0, -1)),
		Last7Days:   *sales.NewDailyAggregate(branchID, today.AddDate(0, 0, -trendDays)),
		MonthToDate: *sales.NewDailyAggregate(branchID, time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)),
	}
}

func (d *Dashboard) degraded(widget string, branchID int64, err error) {
	if err == nil {
		return
	}
	d.logger.Error("Dashboard widget degraded to zero values",
		zap.String("widget", widget),
		zap.Int64("branch_id", branchID),
		zap.Error(err),
	)
}
