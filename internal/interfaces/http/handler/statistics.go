package handler

import (
	"context"
	"time"

	statsapp "github.com/erp/backoffice/internal/application/statistics"
	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// defaultRankingLimit applies when a ranking query has no limit
const defaultRankingLimit = 10

// SalesQuerier is the cached read side used by report screens
type SalesQuerier interface {
	DailySales(ctx context.Context, branchID int64, from, to time.Time) ([]sales.SalesAggregate, error)
	HourlySales(ctx context.Context, branchID int64, from, to time.Time) ([]sales.SalesAggregate, error)
	Overview(ctx context.Context, branchID int64, from, to time.Time) (*statsapp.SalesOverview, error)
	ProductSales(ctx context.Context, branchID int64, from, to time.Time, limit int) ([]sales.MenuSalesAggregate, error)
	CategorySales(ctx context.Context, branchID int64, from, to time.Time, limit int) ([]sales.CategorySalesAggregate, error)
	MonthlySales(ctx context.Context, branchID int64, year, month int) (*statsapp.MonthlySales, error)
	RealtimeSales(ctx context.Context, branchID int64) (*statsapp.RealtimeSales, error)
}

var _ SalesQuerier = (*statsapp.QueryService)(nil)

// StatisticsHandler serves /statistics/sales
type StatisticsHandler struct {
	BaseHandler
	queries SalesQuerier
}

// NewStatisticsHandler creates a StatisticsHandler
func NewStatisticsHandler(queries SalesQuerier) *StatisticsHandler {
	return &StatisticsHandler{queries: queries}
}

// rangeQuery binds a DateRangeQuery and resolves it to [from, to)
func (h *StatisticsHandler) rangeQuery(c *gin.Context, q *dto.DateRangeQuery) (time.Time, time.Time, bool) {
	if !h.bindQuery(c, q) {
		return time.Time{}, time.Time{}, false
	}
	from, to, err := parseInclusiveRange(q.From, q.To)
	if err != nil {
		h.HandleError(c, err)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// rankingQuery binds a RankingQuery and resolves it to [from, to) and a limit
func (h *StatisticsHandler) rankingQuery(c *gin.Context) (int64, time.Time, time.Time, int, bool) {
	var q dto.RankingQuery
	if !h.bindQuery(c, &q) {
		return 0, time.Time{}, time.Time{}, 0, false
	}
	from, to, err := parseInclusiveRange(q.From, q.To)
	if err != nil {
		h.HandleError(c, err)
		return 0, time.Time{}, time.Time{}, 0, false
	}
	limit := q.Limit
	if limit == 0 {
		limit = defaultRankingLimit
	}
	return q.BranchID, from, to, limit, true
}

// GetDailySales returns one row per business date
// GET /statistics/sales/daily?branch_id=&from=&to=
func (h *StatisticsHandler) GetDailySales(c *gin.Context) {
	var q dto.DateRangeQuery
	from, to, ok := h.rangeQuery(c, &q)
	if !ok {
		return
	}
	rows, err := h.queries.DailySales(c.Request.Context(), q.BranchID, from, to)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.List(c, rows, len(rows))
}

// GetHourlySales returns one row per hour of day
// GET /statistics/sales/hourly?branch_id=&from=&to=
func (h *StatisticsHandler) GetHourlySales(c *gin.Context) {
	var q dto.DateRangeQuery
	from, to, ok := h.rangeQuery(c, &q)
	if !ok {
		return
	}
	rows, err := h.queries.HourlySales(c.Request.Context(), q.BranchID, from, to)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.List(c, rows, len(rows))
}

// GetOverview returns totals and the best day of a range
// GET /statistics/sales/overview?branch_id=&from=&to=
func (h *StatisticsHandler) GetOverview(c *gin.Context) {
	var q dto.DateRangeQuery
	from, to, ok := h.rangeQuery(c, &q)
	if !ok {
		return
	}
	overview, err := h.queries.Overview(c.Request.Context(), q.BranchID, from, to)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, overview)
}

// GetProductSales ranks menu items
// GET /statistics/sales/products?branch_id=&from=&to=&limit=
func (h *StatisticsHandler) GetProductSales(c *gin.Context) {
	branchID, from, to, limit, ok := h.rankingQuery(c)
	if !ok {
		return
	}
	rows, err := h.queries.ProductSales(c.Request.Context(), branchID, from, to, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.List(c, rows, len(rows))
}

// GetCategorySales ranks categories
// GET /statistics/sales/categories?branch_id=&from=&to=&limit=
func (h *StatisticsHandler) GetCategorySales(c *gin.Context) {
	branchID, from, to, limit, ok := h.rankingQuery(c)
	if !ok {
		return
	}
	rows, err := h.queries.CategorySales(c.Request.Context(), branchID, from, to, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.List(c, rows, len(rows))
}

// GetMonthlySales returns a calendar month with its daily rows
// GET /statistics/sales/monthly?branch_id=&year=&month=
func (h *StatisticsHandler) GetMonthlySales(c *gin.Context) {
	var q dto.MonthQuery
	if !h.bindQuery(c, &q) {
		return
	}
	monthly, err := h.queries.MonthlySales(c.Request.Context(), q.BranchID, q.Year, q.Month)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, monthly)
}

// GetRealtimeSales returns today so far, by hour
// GET /statistics/sales/realtime?branch_id=
func (h *StatisticsHandler) GetRealtimeSales(c *gin.Context) {
	var q dto.BranchQuery
	if !h.bindQuery(c, &q) {
		return
	}
	realtime, err := h.queries.RealtimeSales(c.Request.Context(), q.BranchID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, realtime)
}
