package statistics

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/erp/backoffice/internal/infrastructure/cache"
	"github.com/erp/backoffice/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxQueryDays bounds the date range of a single statistics query
const MaxQueryDays = 366

// SalesOverview summarizes a date range
type SalesOverview struct {
	BranchID     int64                `json:"branch_id"`
	From         time.Time            `json:"from"`
	To           time.Time            `json:"to"`
	Totals       sales.SalesAggregate `json:"totals"`
	ActiveDays   int                  `json:"active_days"`
	DailyAverage decimal.Decimal      `json:"daily_average"`
	BestDay      *TrendPoint          `json:"best_day,omitempty"`
}

// IsEmpty reports whether the range had no sales
func (o *SalesOverview) IsEmpty() bool {
	return o.Totals.IsEmpty()
}

// MonthlySales is the roll-up of one calendar month
type MonthlySales struct {
	BranchID int64                  `json:"branch_id"`
	Year     int                    `json:"year"`
	Month    int                    `json:"month"`
	Totals   sales.SalesAggregate   `json:"totals"`
	Daily    []sales.SalesAggregate `json:"daily"`
}

// IsEmpty reports whether the month had no sales
func (m *MonthlySales) IsEmpty() bool {
	return m.Totals.IsEmpty()
}

// RealtimeSales is today's in-progress figures
type RealtimeSales struct {
	BranchID int64                  `json:"branch_id"`
	Date     time.Time              `json:"date"`
	AsOf     time.Time              `json:"as_of"`
	Daily    sales.SalesAggregate   `json:"daily"`
	Hourly   []sales.SalesAggregate `json:"hourly"`
}

// IsEmpty reports whether nothing has sold today
func (r *RealtimeSales) IsEmpty() bool {
	return r.Daily.IsEmpty()
}

// QueryService is the cached read interface consumed by report collaborators.
// Unlike the dashboard it returns errors to the caller.
type QueryService struct {
	repo   sales.AggregateRepository
	cache  *cache.TieredCache
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// NewQueryService creates a QueryService
func NewQueryService(repo sales.AggregateRepository, c *cache.TieredCache, loc *time.Location, logger *zap.Logger) *QueryService {
	if c == nil {
		c = cache.NewTieredCache()
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{repo: repo, cache: c, loc: loc, now: time.Now, logger: logger}
}

// validateRange normalizes [from, to) to business dates
func validateRange(from, to time.Time) (time.Time, time.Time, error) {
	if from.IsZero() || to.IsZero() {
		return from, to, shared.NewDomainError("INVALID_INPUT", "from and to are required")
	}
	from, to = sales.DateOf(from, time.UTC), sales.DateOf(to, time.UTC)
	if !from.Before(to) {
		return from, to, shared.NewDomainError("INVALID_INPUT", "to must be after from")
	}
	if to.Sub(from) > MaxQueryDays*24*time.Hour {
		return from, to, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("date range cannot exceed %d days", MaxQueryDays))
	}
	return from, to, nil
}

// DailySales returns one row per date with sales in [from, to)
func (s *QueryService) DailySales(ctx context.Context, branchID int64, from, to time.Time) ([]sales.SalesAggregate, error) {
	from, to, err := validateRange(from, to)
	if err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartServiceSpan(ctx, "QueryService", "DailySales",
		telemetry.WithAttribute(telemetry.SpanAttrBranchID, branchID),
	)
	defer span.End()

	rows, err := cache.Fetch(ctx, s.cache, cache.NamespaceSales, cache.Key("dailySales", branchID, from, to),
		func(ctx context.Context) ([]sales.SalesAggregate, error) {
			return s.repo.DailyByDate(ctx, sales.ForBranch(branchID, from, to))
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("daily sales: %w", err)
	}
	return nonNil(rows), nil
}

// HourlySales returns one row per hour of day, summed over [from, to)
func (s *QueryService) HourlySales(ctx context.Context, branchID int64, from, to time.Time) ([]sales.SalesAggregate, error) {
	from, to, err := validateRange(from, to)
	if err != nil {
		return nil, err
	}
	rows, err := cache.Fetch(ctx, s.cache, cache.NamespaceSalesStatistics, cache.Key("hourlySales", branchID, from, to),
		func(ctx context.Context) ([]sales.SalesAggregate, error) {
			return s.repo.HourlyByHour(ctx, sales.ForBranch(branchID, from, to))
		})
	if err != nil {
		return nil, fmt.Errorf("hourly sales: %w", err)
	}
	return nonNil(rows), nil
}

// Overview totals [from, to) and picks the best day
func (s *QueryService) Overview(ctx context.Context, branchID int64, from, to time.Time) (*SalesOverview, error) {
	from, to, err := validateRange(from, to)
	if err != nil {
		return nil, err
	}
	ov, err := cache.Fetch(ctx, s.cache, cache.NamespaceSalesOverview, cache.Key("salesOverview", branchID, from, to),
		func(ctx context.Context) (*SalesOverview, error) {
			rows, err := s.repo.DailyByDate(ctx, sales.ForBranch(branchID, from, to))
			if err != nil {
				return nil, err
			}
			return buildOverview(branchID, from, to, rows), nil
		})
	if err != nil {
		return nil, fmt.Errorf("sales overview: %w", err)
	}
	return ov, nil
}

func buildOverview(branchID int64, from, to time.Time, rows []sales.SalesAggregate) *SalesOverview {
	ov := &SalesOverview{
		BranchID:     branchID,
		From:         from,
		To:           to,
		Totals:       *sales.NewDailyAggregate(branchID, from),
		DailyAverage: decimal.Zero,
	}
	for _, r := range rows {
		ov.Totals.Merge(r)
		if r.OrderCount > 0 {
			ov.ActiveDays++
		}
		if ov.BestDay == nil || r.TotalSales.GreaterThan(ov.BestDay.TotalSales) {
			ov.BestDay = &TrendPoint{Date: r.Date, TotalSales: r.TotalSales, OrderCount: r.OrderCount}
		}
	}
	if ov.ActiveDays > 0 {
		ov.DailyAverage = ov.Totals.TotalSales.Div(decimal.NewFromInt(int64(ov.ActiveDays))).Round(2)
	}
	return ov
}

// ProductSales ranks menus by sales over [from, to). limit <= 0 returns every menu.
func (s *QueryService) ProductSales(ctx context.Context, branchID int64, from, to time.Time, limit int) ([]sales.MenuSalesAggregate, error) {
	from, to, err := validateRange(from, to)
	if err != nil {
		return nil, err
	}
	rows, err := cache.Fetch(ctx, s.cache, cache.NamespaceProductSales, cache.Key("menuSales", branchID, from, to, limit),
		func(ctx context.Context) ([]sales.MenuSalesAggregate, error) {
			return s.repo.MenuRanking(ctx, sales.ForBranch(branchID, from, to), limit)
		})
	if err != nil {
		return nil, fmt.Errorf("product sales: %w", err)
	}
	if rows == nil {
		rows = []sales.MenuSalesAggregate{}
	}
	return rows, nil
}

// CategorySales ranks categories by sales over [from, to)
func (s *QueryService) CategorySales(ctx context.Context, branchID int64, from, to time.Time, limit int) ([]sales.CategorySalesAggregate, error) {
	from, to, err := validateRange(from, to)
	if err != nil {
		return nil, err
	}
	rows, err := cache.Fetch(ctx, s.cache, cache.NamespaceProductSales, cache.Key("categorySales", branchID, from, to, limit),
		func(ctx context.Context) ([]sales.CategorySalesAggregate, error) {
			return s.repo.CategoryRanking(ctx, sales.ForBranch(branchID, from, to), limit)
		})
	if err != nil {
		return nil, fmt.Errorf("category sales: %w", err)
	}
	if rows == nil {
		rows = []sales.CategorySalesAggregate{}
	}
	return rows, nil
}

// MonthlySales rolls up one calendar month
func (s *QueryService) MonthlySales(ctx context.Context, branchID int64, year, month int) (*MonthlySales, error) {
	if month < 1 || month > 12 {
		return nil, shared.NewDomainError("INVALID_INPUT", "month must be between 1 and 12")
	}
	if year < 2000 || year > 9999 {
		return nil, shared.NewDomainError("INVALID_INPUT", "year is out of range")
	}
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	m, err := cache.Fetch(ctx, s.cache, cache.NamespaceAggregatedSales, cache.Key("monthlySales", branchID, year, month),
		func(ctx context.Context) (*MonthlySales, error) {
			rows, err := s.repo.DailyByDate(ctx, sales.ForBranch(branchID, from, to))
			if err != nil {
				return nil, err
			}
			out := &MonthlySales{
				BranchID: branchID,
				Year:     year,
				Month:    month,
				Totals:   *sales.NewDailyAggregate(branchID, from),
				Daily:    nonNil(rows),
			}
			for _, r := range rows {
				out.Totals.Merge(r)
			}
			return out, nil
		})
	if err != nil {
		return nil, fmt.Errorf("monthly sales: %w", err)
	}
	return m, nil
}

// RealtimeSales returns today's figures so far
func (s *QueryService) RealtimeSales(ctx context.Context, branchID int64) (*RealtimeSales, error) {
	now := s.now()
	today := sales.DateOf(now, s.loc)
	tomorrow := today.AddDate(0, 0, 1)

	rt, err := cache.Fetch(ctx, s.cache, cache.NamespaceRealtimeSales, cache.Key("realtimeSales", branchID, today),
		func(ctx context.Context) (*RealtimeSales, error) {
			filter := sales.ForBranch(branchID, today, tomorrow)
			daily, err := s.repo.DailyByDate(ctx, filter)
			if err != nil {
				return nil, err
			}
			hourly, err := s.repo.HourlyByHour(ctx, filter)
			if err != nil {
				return nil, err
			}
			out := &RealtimeSales{
				BranchID: branchID,
				Date:     today,
				AsOf:     now.UTC(),
				Daily:    *sales.NewDailyAggregate(branchID, today),
				Hourly:   nonNil(hourly),
			}
			for _, r := range daily {
				out.Daily.Merge(r)
			}
			return out, nil
		})
	if err != nil {
		return nil, fmt.Errorf("realtime sales: %w", err)
	}
	return rt, nil
}

func nonNil(rows []sales.SalesAggregate) []sales.SalesAggregate {
	if rows == nil {
		return []sales.SalesAggregate{}
	}
	return rows
}
