package handler

import (
	"context"

	statsapp "github.com/erp/backoffice/internal/application/statistics"
	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// defaultTopProducts applies when the top-products widget has no limit
const defaultTopProducts = 5

// DashboardReader serves the dashboard widgets. Widgets never fail: a broken
// dependency yields zero values.
type DashboardReader interface {
	TodaySales(ctx context.Context, branchID int64) *sales.SalesAggregate
	WeeklyTrend(ctx context.Context, branchID int64) []statsapp.TrendPoint
	TopProducts(ctx context.Context, branchID int64, limit int) []statsapp.TopProduct
	BranchKpis(ctx context.Context, branchID int64) *statsapp.KpiSnapshot
	HQKpis(ctx context.Context) *statsapp.HQKpiSnapshot
}

var _ DashboardReader = (*statsapp.Dashboard)(nil)

// DashboardHandler serves /dashboard
type DashboardHandler struct {
	BaseHandler
	dashboard DashboardReader
}

// NewDashboardHandler creates a DashboardHandler
func NewDashboardHandler(dashboard DashboardReader) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

// GetTodaySales returns today's totals for a branch, or all branches without branch_id
// GET /dashboard/today?branch_id=
func (h *DashboardHandler) GetTodaySales(c *gin.Context) {
	var q dto.DashboardQuery
	if !h.bindQuery(c, &q) {
		return
	}
	h.Success(c, h.dashboard.TodaySales(c.Request.Context(), q.BranchID))
}

// GetWeeklyTrend returns the seven days before today
// GET /dashboard/weekly-trend?branch_id=
func (h *DashboardHandler) GetWeeklyTrend(c *gin.Context) {
	var q dto.DashboardQuery
	if !h.bindQuery(c, &q) {
		return
	}
	points := h.dashboard.WeeklyTrend(c.Request.Context(), q.BranchID)
	h.List(c, points, len(points))
}

// GetTopProducts returns today's best sellers
// GET /dashboard/top-products?branch_id=&limit=
func (h *DashboardHandler) GetTopProducts(c *gin.Context) {
	var q dto.TopProductsQuery
	if !h.bindQuery(c, &q) {
		return
	}
	limit := q.Limit
	if limit == 0 {
		limit = defaultTopProducts
	}
	products := h.dashboard.TopProducts(c.Request.Context(), q.BranchID, limit)
	h.List(c, products, len(products))
}

// GetKpis returns the KPI cards of one branch, or of the whole chain without branch_id
// GET /dashboard/kpis?branch_id=
func (h *DashboardHandler) GetKpis(c *gin.Context) {
	var q dto.DashboardQuery
	if !h.bindQuery(c, &q) {
		return
	}
	h.Success(c, h.dashboard.BranchKpis(c.Request.Context(), q.BranchID))
}

// GetHQKpis returns the headquarters view over active store branches
// GET /dashboard/hq-kpis
func (h *DashboardHandler) GetHQKpis(c *gin.Context) {
	h.Success(c, h.dashboard.HQKpis(c.Request.Context()))
}
